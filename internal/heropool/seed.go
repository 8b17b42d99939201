// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import "time"

// secondsPerDay buckets timestamps into UTC days for seed computation.
const secondsPerDay = 86400

// rotationOffset separates the two kinds so they rotate independently.
func (k Kind) rotationOffset() int64 {
	if k == KindSeries {
		return 7
	}
	return 0
}

// allocationSeed seeds the random slot's deterministic shuffle. It changes
// once per UTC day per kind, not on every allocation.
func allocationSeed(now time.Time, kind Kind) int64 {
	return int64(now.UTC().YearDay()) + kind.rotationOffset()
}

// rotationSeed seeds the rotation start index. It combines the UTC
// day-of-year with the pool's freshness day-bucket and the per-kind offset,
// so the start index is stable within a day and shifts when either the day
// or the pool's updatedAt day changes.
func rotationSeed(now, updatedAt time.Time, kind Kind) int64 {
	day := int64(now.UTC().YearDay())
	bucket := updatedAt.UTC().Unix() / secondsPerDay
	return day + bucket + kind.rotationOffset()
}
