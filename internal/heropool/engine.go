// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options carries optional engine collaborators.
type Options struct {
	// Fetcher supplies server-computed pools, preferred over local
	// allocation when set.
	Fetcher PoolFetcher

	// Enricher resolves remote artwork and exposes throttle state.
	Enricher Enricher

	// EnabledOverride forces the feature flag regardless of policy.
	EnabledOverride *bool
}

// Engine is the public facade: one pipeline shared across kinds plus one
// rotator per kind, kept in sync as pools refresh.
type Engine struct {
	pipeline *Pipeline
	rotators map[Kind]*Rotator
	logger   zerolog.Logger

	mu      sync.Mutex
	adopted map[Kind]time.Time
	closed  bool
}

// NewEngine validates the policy and wires the pipeline and rotators.
func NewEngine(policy *Policy, source CandidateSource, cache *Cache, logger zerolog.Logger, opts Options) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	e := &Engine{
		rotators: make(map[Kind]*Rotator, len(Kinds())),
		adopted:  make(map[Kind]time.Time, len(Kinds())),
		logger:   logger.With().Str("component", "heropool").Logger(),
	}
	for _, kind := range Kinds() {
		e.rotators[kind] = NewRotator(kind, policy.Rotation, logger)
	}

	allocator := NewAllocator(opts.Enricher, logger)
	e.pipeline = NewPipeline(policy, allocator, source, cache, logger, PipelineOptions{
		Fetcher:         opts.Fetcher,
		Enricher:        opts.Enricher,
		EnabledOverride: opts.EnabledOverride,
		OnPool:          e.adoptPool,
	})

	return e, nil
}

// Hero returns a usable pool for a kind, building or refreshing as the cache
// state demands, and keeps the kind's rotator loaded with the served pool.
func (e *Engine) Hero(ctx context.Context, kind Kind) (*PoolResult, error) {
	result, err := e.pipeline.Ensure(ctx, kind)
	if err != nil {
		return nil, err
	}
	e.adoptPool(result)
	return result, nil
}

// Refresh forces a pool rebuild for a kind.
func (e *Engine) Refresh(ctx context.Context, kind Kind) (*PoolResult, error) {
	result, err := e.pipeline.Refresh(ctx, kind)
	if err != nil {
		return nil, err
	}
	e.adoptPool(result)
	return result, nil
}

// adoptPool loads a pool into its rotator, once per distinct build. Repeat
// deliveries of the same build must not reset rotation progress.
func (e *Engine) adoptPool(result *PoolResult) {
	e.mu.Lock()
	if e.closed || e.adopted[result.Kind].Equal(result.UpdatedAt) {
		e.mu.Unlock()
		return
	}
	e.adopted[result.Kind] = result.UpdatedAt
	e.mu.Unlock()

	e.rotators[result.Kind].SetPool(result)
}

// Rotator returns the scheduler for a kind.
func (e *Engine) Rotator(kind Kind) *Rotator {
	return e.rotators[kind]
}

// Rotators returns all rotators in kind order, for supervision.
func (e *Engine) Rotators() []*Rotator {
	out := make([]*Rotator, 0, len(e.rotators))
	for _, kind := range Kinds() {
		out = append(out, e.rotators[kind])
	}
	return out
}

// Status returns the pipeline status for a kind.
func (e *Engine) Status(kind Kind) PipelineStatus {
	return e.pipeline.Status(kind)
}

// Statuses returns pipeline statuses for all kinds.
func (e *Engine) Statuses() []PipelineStatus {
	return e.pipeline.Statuses()
}

// Subscribe registers a pipeline status listener.
func (e *Engine) Subscribe(listener StatusListener) func() {
	return e.pipeline.Subscribe(listener)
}

// Policy returns a copy of the active policy.
func (e *Engine) Policy() *Policy {
	return e.pipeline.Policy()
}

// SetPolicy swaps the active policy on the pipeline and every rotator.
func (e *Engine) SetPolicy(policy *Policy) error {
	if err := e.pipeline.SetPolicy(policy); err != nil {
		return err
	}
	for _, rotator := range e.rotators {
		rotator.UpdatePolicy(policy.Rotation)
	}
	return nil
}

// SetEnabledOverride forces the feature flag. Disabling pauses rotation;
// re-enabling resumes it.
func (e *Engine) SetEnabledOverride(override *bool) {
	e.pipeline.SetEnabledOverride(override)

	enabled := e.pipeline.Enabled()
	for _, rotator := range e.rotators {
		if enabled {
			rotator.Resume(PauseReasonDisabled)
		} else {
			rotator.Pause(PauseReasonDisabled)
		}
	}
}

// Enabled reports the resolved feature flag.
func (e *Engine) Enabled() bool {
	return e.pipeline.Enabled()
}

// Close destroys all rotators. After Close returns, no rotation frame fires.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	for _, rotator := range e.rotators {
		rotator.Destroy()
	}
}
