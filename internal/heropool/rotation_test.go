// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rotationPool(ids ...string) *PoolResult {
	items := make([]PoolEntry, 0, len(ids))
	for _, id := range ids {
		items = append(items, PoolEntry{PoolID: id})
	}
	return &PoolResult{
		Kind:        KindMovies,
		Items:       items,
		UpdatedAt:   testTime.Add(-time.Hour),
		SlotSummary: map[string]int{},
	}
}

func newTestRotator(policy RotationPolicy) *Rotator {
	r := NewRotator(KindMovies, policy, testLogger())
	r.now = func() time.Time { return testTime }
	return r
}

func TestSetPoolOrdersAndSeedsStart(t *testing.T) {
	policy := RotationPolicy{Interval: 15 * time.Second, MinPoolSize: 2}
	pool := rotationPool("zulu-3", "Alpha-1", "mike-2")

	r := newTestRotator(policy)
	r.SetPool(pool)

	frame, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, 3, frame.Total)

	// Rotation order is case-insensitive by PoolID, not allocation order.
	first, err := r.Select(0)
	require.NoError(t, err)
	assert.Equal(t, "Alpha-1", first.Entry.PoolID)
	second, err := r.Select(1)
	require.NoError(t, err)
	assert.Equal(t, "mike-2", second.Entry.PoolID)

	// Two independent rotators over the same pool on the same day agree on
	// the start index.
	expected := int(rotationSeed(testTime, pool.UpdatedAt, KindMovies) % 3)
	other := newTestRotator(policy)
	other.SetPool(pool)
	otherFrame, ok := other.Current()
	require.True(t, ok)
	assert.Equal(t, expected, otherFrame.Index)
}

func TestStepAdvancesAfterInterval(t *testing.T) {
	r := newTestRotator(RotationPolicy{Interval: time.Second, MinPoolSize: 1})
	r.SetPool(rotationPool("a-1", "b-2", "c-3"))

	var frames []RotationFrame
	r.OnAdvance(func(frame RotationFrame) {
		frames = append(frames, frame)
	})

	start, ok := r.Current()
	require.True(t, ok)

	assert.True(t, r.step(500*time.Millisecond))
	assert.Empty(t, frames, "half an interval must not advance")
	assert.InDelta(t, 0.5, r.Progress(), 0.001)

	assert.True(t, r.step(500*time.Millisecond))
	require.Len(t, frames, 1)
	assert.Equal(t, (start.Index+1)%3, frames[0].Index)
	assert.Zero(t, r.Progress(), "progress resets on advance")
}

func TestPauseReasonsStack(t *testing.T) {
	r := newTestRotator(RotationPolicy{Interval: time.Second, MinPoolSize: 1})
	r.SetPool(rotationPool("a-1", "b-2"))

	r.step(700 * time.Millisecond)
	r.Pause(PauseReasonHover)
	r.Pause(PauseReasonPreview)

	r.step(time.Second)
	assert.InDelta(t, 0.7, r.Progress(), 0.001, "progress freezes while paused")
	assert.True(t, r.Paused())
	assert.Equal(t, []string{PauseReasonHover, PauseReasonPreview}, r.PauseReasons())

	r.Resume(PauseReasonHover)
	assert.True(t, r.Paused(), "one remaining reason keeps rotation paused")
	r.step(time.Second)
	assert.InDelta(t, 0.7, r.Progress(), 0.001)

	r.Resume(PauseReasonPreview)
	assert.False(t, r.Paused())
	r.step(200 * time.Millisecond)
	assert.InDelta(t, 0.9, r.Progress(), 0.001, "accrual resumes from the frozen point")
}

func TestManualNavigation(t *testing.T) {
	r := newTestRotator(RotationPolicy{Interval: time.Second, MinPoolSize: 1})
	r.SetPool(rotationPool("a-1", "b-2", "c-3"))

	start, ok := r.Current()
	require.True(t, ok)

	next, err := r.Advance()
	require.NoError(t, err)
	assert.Equal(t, (start.Index+1)%3, next.Index)

	back, err := r.Previous()
	require.NoError(t, err)
	assert.Equal(t, start.Index, back.Index)

	picked, err := r.Select(2)
	require.NoError(t, err)
	assert.Equal(t, 2, picked.Index)

	_, err = r.Select(9)
	assert.ErrorIs(t, err, ErrRotationSuppressed)

	// Manual advance works while paused.
	r.Pause(PauseReasonManual)
	_, err = r.Advance()
	assert.NoError(t, err)
}

func TestPlanAndReset(t *testing.T) {
	policy := RotationPolicy{Interval: time.Second, MinPoolSize: 1}
	pool := rotationPool("zulu-3", "Alpha-1", "mike-2")

	r := newTestRotator(policy)
	r.SetPool(pool)

	plan := r.Plan()
	require.Len(t, plan.Entries, 3)
	assert.Equal(t, KindMovies, plan.Kind)
	assert.Equal(t, "Alpha-1", plan.Entries[0].PoolID)
	assert.Equal(t, "mike-2", plan.Entries[1].PoolID)
	assert.Equal(t, "zulu-3", plan.Entries[2].PoolID)

	start, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, start.Index, plan.StartIndex)

	// Wander away, then reset back to the seeded start.
	_, err := r.Select((plan.StartIndex + 1) % 3)
	require.NoError(t, err)
	r.step(700 * time.Millisecond)

	frame, err := r.Reset()
	require.NoError(t, err)
	assert.Equal(t, plan.StartIndex, frame.Index)
	assert.Zero(t, r.Progress())

	// The plan is a copy; mutating it cannot corrupt rotation order.
	plan.Entries[0].PoolID = "corrupted"
	fresh, err := r.Select(0)
	require.NoError(t, err)
	assert.Equal(t, "Alpha-1", fresh.Entry.PoolID)
}

func TestRotationSuppressedBelowMinimum(t *testing.T) {
	r := newTestRotator(RotationPolicy{Interval: time.Second, MinPoolSize: 3})
	r.SetPool(rotationPool("a-1", "b-2"))

	_, err := r.Advance()
	assert.ErrorIs(t, err, ErrRotationSuppressed)

	var advanced bool
	r.OnAdvance(func(RotationFrame) { advanced = true })
	r.step(2 * time.Second)
	assert.False(t, advanced)

	// A lower minimum re-enables rotation without a new pool.
	r.UpdatePolicy(RotationPolicy{Interval: time.Second, MinPoolSize: 2})
	_, err = r.Advance()
	assert.NoError(t, err)
}

func TestDestroyStopsEverything(t *testing.T) {
	r := newTestRotator(RotationPolicy{Interval: time.Second, MinPoolSize: 1})
	r.SetPool(rotationPool("a-1", "b-2"))

	var fired bool
	r.OnAdvance(func(RotationFrame) { fired = true })

	r.Destroy()

	assert.False(t, r.step(5*time.Second), "step reports shutdown after destroy")
	_, err := r.Advance()
	assert.ErrorIs(t, err, ErrRotationSuppressed)
	_, ok := r.Current()
	assert.False(t, ok)
	assert.False(t, fired, "no frame may fire after destroy")

	// A late SetPool on a destroyed rotator is a no-op.
	r.SetPool(rotationPool("c-3", "d-4"))
	_, ok = r.Current()
	assert.False(t, ok)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := newTestRotator(RotationPolicy{Interval: time.Second, MinPoolSize: 1})
	r.SetPool(rotationPool("a-1", "b-2"))

	var count int
	unsubscribe := r.OnAdvance(func(RotationFrame) { count++ })

	_, err := r.Advance()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	unsubscribe()
	_, err = r.Advance()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
