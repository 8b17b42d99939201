// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import "errors"

var (
	// ErrInsufficientCandidates is returned by Allocate when the candidate
	// list is empty for a kind whose minimum pool size is nonzero. Callers
	// must treat this as "insufficient data", not a bug.
	ErrInsufficientCandidates = errors.New("heropool: insufficient candidates")

	// ErrPoolNotFound is returned by stores when no pool is persisted for
	// a kind.
	ErrPoolNotFound = errors.New("heropool: pool not found")

	// ErrNoUsablePool is returned by Ensure/Refresh when a fetch failed and
	// no cached fallback exists.
	ErrNoUsablePool = errors.New("heropool: no usable pool")

	// ErrThrottled is returned by the enrichment client while its backoff
	// window is open.
	ErrThrottled = errors.New("heropool: enrichment upstream throttled")

	// ErrRotationSuppressed is returned when the pool is below the policy
	// minimum and rotation must not run.
	ErrRotationSuppressed = errors.New("heropool: rotation suppressed")

	// ErrDisabled is returned while the feature flag resolves to off.
	ErrDisabled = errors.New("heropool: disabled")
)
