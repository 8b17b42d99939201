// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

// Package heropool selects, caches and rotates bounded hero pools for the
// two content kinds (movies, series).
//
// Selection runs in four ordered steps over a candidate snapshot: per-slot
// quota targets (the last slot absorbs rounding remainder), slot-specific
// ranking, greedy diversity-capped fill with remainder carry, and a soft
// anti-repeat penalty against the previous pool. A pool build never fails
// because a slot came up short; realized counts are reported in the result's
// SlotSummary instead.
//
// The pipeline owns the per-kind lifecycle. Cached pools are classified
// fresh, stale or expired against the cache policy: fresh pools serve
// directly, stale pools serve immediately while one background refresh runs,
// expired or absent pools block callers on a single shared fetch. Policy
// changes are detected by content fingerprint, never by version counters.
//
// Rotation orders each pool case-insensitively by PoolID and starts at a
// day-seeded index, so independent clients showing the same pool on the same
// day agree on the entry displayed. Pause reasons stack, progress freezes
// while any is held, and Destroy guarantees no frame fires after it returns.
package heropool
