// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marqueelabs/marquee/internal/metrics"
)

// rotationTick is the scheduler resolution. Progress accrues in these
// increments; the display interval itself comes from the rotation policy.
const rotationTick = 250 * time.Millisecond

// Well-known pause reasons. Arbitrary reason strings are accepted; these are
// the ones the engine itself uses.
const (
	PauseReasonHover    = "hover"
	PauseReasonHidden   = "hidden"
	PauseReasonPreview  = "preview"
	PauseReasonManual   = "manual"
	PauseReasonRefresh  = "refresh"
	PauseReasonDisabled = "disabled"
)

// RotationFrame describes the entry a hero surface should display.
type RotationFrame struct {
	// Kind is the content category being rotated.
	Kind Kind `json:"kind"`

	// Entry is the entry on display.
	Entry PoolEntry `json:"entry"`

	// Index is the entry's position in rotation order.
	Index int `json:"index"`

	// Total is the rotation pool size.
	Total int `json:"total"`
}

// RotationPlan is the full rotation order with its day-seeded start index,
// letting a hero surface render indicator dots and prefetch artwork.
type RotationPlan struct {
	// Kind is the content category being rotated.
	Kind Kind `json:"kind"`

	// Entries is the pool in rotation order.
	Entries []PoolEntry `json:"entries"`

	// StartIndex is where rotation began when the pool was loaded.
	StartIndex int `json:"start_index"`
}

// AdvanceListener receives rotation frames. Listeners run under the rotator
// lock so that no frame is ever delivered after Destroy returns; they must be
// fast and must not call back into the rotator.
type AdvanceListener func(frame RotationFrame)

// Rotator cycles through one kind's pool on a fixed interval. Rotation order
// is the pool sorted case-insensitively by PoolID, decoupling display order
// from allocation order. The start index is day-seeded so every client
// showing the same pool on the same day starts on the same entry.
type Rotator struct {
	mu         sync.Mutex
	kind       Kind
	policy     RotationPolicy
	entries    []PoolEntry
	index      int
	startIndex int
	progress   float64
	paused     map[string]struct{}
	suppressed bool
	destroyed  bool
	listeners  map[int]AdvanceListener
	nextSub    int

	logger zerolog.Logger
	now    func() time.Time
}

// NewRotator creates a rotator for one kind with no pool loaded. It starts
// suppressed until SetPool provides enough entries.
func NewRotator(kind Kind, policy RotationPolicy, logger zerolog.Logger) *Rotator {
	return &Rotator{
		kind:       kind,
		policy:     policy,
		paused:     make(map[string]struct{}),
		suppressed: true,
		listeners:  make(map[int]AdvanceListener),
		logger:     logger.With().Str("component", "rotator").Str("kind", kind.String()).Logger(),
		now:        time.Now,
	}
}

// String implements suture's service naming.
func (r *Rotator) String() string {
	return "rotator-" + r.kind.String()
}

// Serve drives the rotation clock until the context is canceled or the
// rotator is destroyed. It is designed to run under a supervisor.
func (r *Rotator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(rotationTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !r.step(rotationTick) {
				return nil
			}
		}
	}
}

// step accrues one tick of progress and advances when a full interval has
// elapsed. Returns false once the rotator is destroyed.
func (r *Rotator) step(delta time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return false
	}
	if r.suppressed || len(r.paused) > 0 || len(r.entries) == 0 {
		return true
	}

	r.progress += float64(delta) / float64(r.policy.Interval)
	if r.progress < 1 {
		return true
	}

	r.index = (r.index + 1) % len(r.entries)
	r.progress = 0
	r.emitLocked("auto")
	return true
}

// SetPool replaces the rotation pool. Order and start index are recomputed;
// progress resets. Pools below the policy minimum suppress rotation entirely.
func (r *Rotator) SetPool(result *PoolResult) {
	entries := make([]PoolEntry, len(result.Items))
	copy(entries, result.Items)
	sort.SliceStable(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].PoolID) < strings.ToLower(entries[j].PoolID)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}

	r.entries = entries
	r.progress = 0
	r.suppressed = len(entries) < r.policy.MinPoolSize || len(entries) == 0
	if r.suppressed {
		r.index = 0
		r.startIndex = 0
		r.logger.Debug().Int("size", len(entries)).Int("min", r.policy.MinPoolSize).Msg("rotation suppressed, pool below minimum")
		return
	}

	seed := rotationSeed(r.now(), result.UpdatedAt, r.kind)
	r.startIndex = int(seed % int64(len(entries)))
	r.index = r.startIndex
	r.logger.Debug().Int("size", len(entries)).Int("start_index", r.index).Msg("rotation pool loaded")
}

// UpdatePolicy swaps the rotation policy at runtime. Suppression is
// re-evaluated; the current index and progress are kept when still valid.
func (r *Rotator) UpdatePolicy(policy RotationPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
	r.suppressed = len(r.entries) < policy.MinPoolSize || len(r.entries) == 0
}

// Pause freezes progress under the given reason. Multiple reasons stack;
// rotation resumes only when all are cleared.
func (r *Rotator) Pause(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused[reason] = struct{}{}
}

// Resume clears one pause reason. Unknown reasons are ignored.
func (r *Rotator) Resume(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paused, reason)
}

// Paused reports whether any pause reason is active.
func (r *Rotator) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paused) > 0
}

// PauseReasons returns the active reasons, sorted for stable output.
func (r *Rotator) PauseReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	reasons := make([]string, 0, len(r.paused))
	for reason := range r.paused {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	return reasons
}

// Advance skips to the next entry immediately, paused or not, and resets
// progress. Returns ErrRotationSuppressed when there is nothing to rotate.
func (r *Rotator) Advance() (RotationFrame, error) {
	return r.jump(1)
}

// Previous steps back one entry and resets progress.
func (r *Rotator) Previous() (RotationFrame, error) {
	return r.jump(-1)
}

func (r *Rotator) jump(delta int) (RotationFrame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed || r.suppressed || len(r.entries) == 0 {
		return RotationFrame{}, ErrRotationSuppressed
	}

	r.index = ((r.index+delta)%len(r.entries) + len(r.entries)) % len(r.entries)
	r.progress = 0
	frame := r.emitLocked("manual")
	return frame, nil
}

// Select jumps to a specific index, used when the viewer picks an entry from
// the surface's indicator dots.
func (r *Rotator) Select(index int) (RotationFrame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed || r.suppressed || index < 0 || index >= len(r.entries) {
		return RotationFrame{}, ErrRotationSuppressed
	}

	r.index = index
	r.progress = 0
	frame := r.emitLocked("select")
	return frame, nil
}

// Reset returns rotation to the day-seeded start index and clears progress.
func (r *Rotator) Reset() (RotationFrame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed || r.suppressed || len(r.entries) == 0 {
		return RotationFrame{}, ErrRotationSuppressed
	}

	r.index = r.startIndex
	r.progress = 0
	frame := r.emitLocked("reset")
	return frame, nil
}

// Plan returns the rotation order and start index. The entries slice is a
// copy; callers may hold it across pool swaps.
func (r *Rotator) Plan() RotationPlan {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]PoolEntry, len(r.entries))
	copy(entries, r.entries)
	return RotationPlan{
		Kind:       r.kind,
		Entries:    entries,
		StartIndex: r.startIndex,
	}
}

// Current returns the entry on display, false when rotation is suppressed or
// no pool is loaded.
func (r *Rotator) Current() (RotationFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 || r.destroyed {
		return RotationFrame{}, false
	}
	return r.frameLocked(), true
}

// Progress returns the fraction of the display interval elapsed for the
// current entry, in [0, 1).
func (r *Rotator) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// OnAdvance registers an advance listener and returns its unsubscribe func.
func (r *Rotator) OnAdvance(listener AdvanceListener) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.listeners[id] = listener
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Destroy stops the rotator permanently. Because listener delivery happens
// under the same lock, no frame can fire once Destroy has returned.
func (r *Rotator) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed = true
	r.listeners = map[int]AdvanceListener{}
	r.paused = map[string]struct{}{}
}

// emitLocked delivers the current frame to listeners. Must be called with
// the mutex held.
func (r *Rotator) emitLocked(trigger string) RotationFrame {
	frame := r.frameLocked()
	metrics.HeroRotationAdvances.WithLabelValues(r.kind.String(), trigger).Inc()
	for _, l := range r.listeners {
		l(frame)
	}
	return frame
}

func (r *Rotator) frameLocked() RotationFrame {
	return RotationFrame{
		Kind:  r.kind,
		Entry: r.entries[r.index],
		Index: r.index,
		Total: len(r.entries),
	}
}
