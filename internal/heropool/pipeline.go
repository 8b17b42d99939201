// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marqueelabs/marquee/internal/metrics"
)

// fetchTimeout bounds a single pool build, backend call and candidate
// enrichment included.
const fetchTimeout = 30 * time.Second

// CandidateSource supplies raw catalog candidates for local allocation.
type CandidateSource interface {
	Candidates(ctx context.Context, kind Kind) ([]CandidateItem, error)
}

// PoolFetcher supplies server-computed pools. Optional; when absent or
// failing, the pipeline falls back to local allocation over the
// CandidateSource.
type PoolFetcher interface {
	FetchPool(ctx context.Context, kind Kind) (*PoolResult, error)
}

// StatusListener receives pipeline status snapshots. Listeners are invoked
// outside the pipeline lock and must not block for long.
type StatusListener func(status PipelineStatus)

// fetchCall is one in-flight pool build shared by all concurrent callers for
// a kind.
type fetchCall struct {
	done   chan struct{}
	result *PoolResult
	err    error
}

// Pipeline orchestrates pool lifecycle per kind: cache consultation,
// staleness-driven refresh, in-flight deduplication, and the observable state
// machine. All state is guarded by one mutex; fetches run outside it.
type Pipeline struct {
	mu        sync.Mutex
	policy    *Policy
	override  *bool
	statuses  map[Kind]*PipelineStatus
	pools     map[Kind]*PoolResult
	previous  map[Kind]map[string]struct{}
	inflight  map[Kind]*fetchCall
	listeners map[int]StatusListener
	nextSub   int

	allocator *Allocator
	source    CandidateSource
	fetcher   PoolFetcher
	enricher  Enricher
	cache     *Cache
	onPool    func(result *PoolResult)
	logger    zerolog.Logger
	now       func() time.Time
}

// PipelineOptions carries optional pipeline collaborators.
type PipelineOptions struct {
	// Fetcher, when set, is preferred over local allocation.
	Fetcher PoolFetcher

	// Enricher mirrors throttle state into pipeline statuses.
	Enricher Enricher

	// EnabledOverride forces the feature flag regardless of policy.
	EnabledOverride *bool

	// OnPool, when set, receives a clone of every successfully built pool,
	// foreground and background alike. Invoked outside the pipeline lock.
	OnPool func(result *PoolResult)
}

// NewPipeline creates a pipeline over the given collaborators. The policy
// must have been validated by the caller.
func NewPipeline(policy *Policy, allocator *Allocator, source CandidateSource, cache *Cache, logger zerolog.Logger, opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		policy:    policy.Clone(),
		override:  opts.EnabledOverride,
		statuses:  make(map[Kind]*PipelineStatus, len(Kinds())),
		pools:     make(map[Kind]*PoolResult, len(Kinds())),
		previous:  make(map[Kind]map[string]struct{}, len(Kinds())),
		inflight:  make(map[Kind]*fetchCall, len(Kinds())),
		listeners: make(map[int]StatusListener),
		allocator: allocator,
		source:    source,
		fetcher:   opts.Fetcher,
		enricher:  opts.Enricher,
		cache:     cache,
		onPool:    opts.OnPool,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		now:       time.Now,
	}
	for _, kind := range Kinds() {
		p.statuses[kind] = &PipelineStatus{Kind: kind, State: StateIdle}
	}
	return p
}

// Enabled resolves the feature flag: explicit override, then policy default,
// then on.
func (p *Pipeline) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabledLocked()
}

func (p *Pipeline) enabledLocked() bool {
	if p.override != nil {
		return *p.override
	}
	if p.policy.Enabled != nil {
		return *p.policy.Enabled
	}
	return true
}

// SetEnabledOverride replaces the override. Passing nil restores the policy
// default. Disabling moves every kind to the terminal disabled state;
// re-enabling restarts from idle.
func (p *Pipeline) SetEnabledOverride(override *bool) {
	p.mu.Lock()
	p.override = override
	enabled := p.enabledLocked()
	changed := make([]PipelineStatus, 0, len(p.statuses))
	for _, status := range p.statuses {
		if !enabled && status.State != StateDisabled {
			status.State = StateDisabled
			changed = append(changed, *status)
		} else if enabled && status.State == StateDisabled {
			status.State = StateIdle
			changed = append(changed, *status)
		}
	}
	p.mu.Unlock()

	for _, status := range changed {
		p.notify(status)
	}
}

// SetPolicy swaps the active policy. Cached pools are kept but flagged as
// policy-mismatched when the selection fingerprint changed, so the next
// Ensure refreshes them instead of serving them as ready.
func (p *Pipeline) SetPolicy(policy *Policy) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	p.mu.Lock()
	oldHash := p.policy.Hash()
	p.policy = policy.Clone()
	newHash := policy.Hash()
	for kind, pool := range p.pools {
		if pool.PolicyHash != newHash {
			pool.MatchesPolicy = false
			p.pools[kind] = pool
		}
	}
	p.mu.Unlock()

	if oldHash != newHash {
		p.logger.Info().Str("policy_hash", newHash).Msg("selection policy changed, cached pools flagged for refresh")
	}
	return nil
}

// Policy returns a copy of the active policy.
func (p *Pipeline) Policy() *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy.Clone()
}

// Status returns the current status snapshot for a kind.
func (p *Pipeline) Status(kind Kind) PipelineStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked(kind)
}

// Statuses returns snapshots for all kinds in declaration order.
func (p *Pipeline) Statuses() []PipelineStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PipelineStatus, 0, len(Kinds()))
	for _, kind := range Kinds() {
		out = append(out, p.statusLocked(kind))
	}
	return out
}

func (p *Pipeline) statusLocked(kind Kind) PipelineStatus {
	status := *p.statuses[kind]
	if p.enricher != nil {
		status.RateLimited = p.enricher.State().Active
	}
	return status
}

// Subscribe registers a status listener and returns its unsubscribe func.
// Listeners see a snapshot taken at notification time; late unsubscribes may
// still observe one in-flight delivery.
func (p *Pipeline) Subscribe(listener StatusListener) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.listeners[id] = listener
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Pipeline) notify(status PipelineStatus) {
	p.mu.Lock()
	snapshot := make([]StatusListener, 0, len(p.listeners))
	for _, l := range p.listeners {
		snapshot = append(snapshot, l)
	}
	p.mu.Unlock()

	for _, l := range snapshot {
		l(status)
	}
}

// Ensure returns a usable pool for a kind, building one if necessary.
// Behavior by cache condition:
//   - fresh and policy-matching: served directly
//   - stale within grace: served immediately while a background refresh runs
//   - expired, absent, or policy-mismatched: callers block on one shared fetch
//
// Concurrent Ensure calls for the same kind share a single fetch.
func (p *Pipeline) Ensure(ctx context.Context, kind Kind) (*PoolResult, error) {
	p.mu.Lock()
	if !p.enabledLocked() {
		status := p.transitionLocked(kind, StateDisabled, nil)
		p.mu.Unlock()
		p.notify(status)
		return nil, ErrDisabled
	}
	_, warmed := p.pools[kind]
	p.mu.Unlock()

	if !warmed {
		p.warmFromStore(ctx, kind)
	}

	p.mu.Lock()
	now := p.now()
	pool := p.pools[kind]
	if pool != nil {
		staleness := Classify(pool, &p.policy.Cache, now)
		matches := pool.MatchesPolicy && pool.PolicyHash == p.policy.Hash()

		// A policy-mismatched pool must not serve without a refresh, no
		// matter how fresh it is; it falls through to the blocking fetch.
		switch {
		case matches && staleness == StalenessFresh:
			result := pool.Clone()
			result.FromCache = true
			p.mu.Unlock()
			metrics.HeroPoolCacheHits.WithLabelValues(kind.String()).Inc()
			return result, nil

		case matches && staleness == StalenessStale:
			// Serve stale, refresh behind the caller's back.
			_, fetchStatus, started := p.startFetchLocked(kind, true)
			status := p.transitionLocked(kind, StateStale, nil)
			result := pool.Clone()
			result.FromCache = true
			p.mu.Unlock()

			if started {
				p.notify(fetchStatus)
			}
			p.notify(status)
			metrics.HeroPoolCacheHits.WithLabelValues(kind.String()).Inc()
			return result, nil
		}
	}

	metrics.HeroPoolCacheMisses.WithLabelValues(kind.String()).Inc()
	call, fetchStatus, started := p.startFetchLocked(kind, false)
	p.mu.Unlock()

	if started {
		p.notify(fetchStatus)
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if call.err != nil {
		return nil, call.err
	}
	return call.result.Clone(), nil
}

// Refresh forces a rebuild for a kind, bypassing the cache. It joins any
// fetch already in flight rather than starting a second one.
func (p *Pipeline) Refresh(ctx context.Context, kind Kind) (*PoolResult, error) {
	p.mu.Lock()
	if !p.enabledLocked() {
		p.mu.Unlock()
		return nil, ErrDisabled
	}
	call, fetchStatus, started := p.startFetchLocked(kind, false)
	p.mu.Unlock()

	if started {
		p.notify(fetchStatus)
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if call.err != nil {
		return nil, call.err
	}
	return call.result.Clone(), nil
}

// warmFromStore promotes the persisted pool for a kind into memory on first
// touch after startup. The store read (disk IO) runs without the pipeline
// mutex; a pool built concurrently wins over the durable copy.
func (p *Pipeline) warmFromStore(ctx context.Context, kind Kind) {
	if p.cache == nil {
		return
	}
	loaded, err := p.cache.Get(ctx, kind)
	if err != nil {
		if !errors.Is(err, ErrPoolNotFound) {
			p.logger.Warn().Err(err).Str("kind", kind.String()).Msg("cache load failed")
		}
		return
	}

	p.mu.Lock()
	if _, ok := p.pools[kind]; !ok {
		loaded.MatchesPolicy = loaded.PolicyHash == p.policy.Hash()
		p.pools[kind] = loaded
		p.previous[kind] = loaded.PoolIDs()
	}
	p.mu.Unlock()
}

// startFetchLocked joins the in-flight fetch for a kind or starts a new one.
// Must be called with the mutex held. When a fetch was newly started the
// returned snapshot reflects the transition and must be delivered by the
// caller after unlocking, before any later snapshot, so subscribers see
// mutations in order.
func (p *Pipeline) startFetchLocked(kind Kind, background bool) (*fetchCall, PipelineStatus, bool) {
	if call, ok := p.inflight[kind]; ok {
		return call, PipelineStatus{}, false
	}

	call := &fetchCall{done: make(chan struct{})}
	p.inflight[kind] = call

	status := p.statuses[kind]
	if _, usable := p.pools[kind]; usable {
		status.Regenerating = true
	} else if !background {
		status.State = StateLoading
	}
	snapshot := p.statusLocked(kind)

	go p.runFetch(kind, call)

	return call, snapshot, true
}

// runFetch executes one pool build and publishes the outcome. It owns the
// fetchCall and must close done exactly once.
func (p *Pipeline) runFetch(kind Kind, call *fetchCall) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	start := p.now()
	result, err := p.buildPool(ctx, kind)

	p.mu.Lock()
	delete(p.inflight, kind)
	status := p.statuses[kind]
	status.Regenerating = false

	if err != nil {
		status.LastError = err.Error()
		var final PipelineStatus
		if pool, ok := p.pools[kind]; ok && ServableOnFailure(pool, &p.policy.Cache, p.now()) {
			// A usable pool survives the failed refresh.
			status.State = StateStale
			final = p.statusLocked(kind)
			call.result = pool.Clone()
			call.result.FromCache = true
		} else {
			status.State = StateError
			final = p.statusLocked(kind)
			call.err = fmt.Errorf("%w: %w", ErrNoUsablePool, err)
		}
		p.mu.Unlock()

		metrics.HeroPoolRefreshes.WithLabelValues(kind.String(), "error").Inc()
		p.logger.Error().Err(err).Str("kind", kind.String()).Msg("pool build failed")
		p.notify(final)
		close(call.done)
		return
	}

	p.pools[kind] = result
	p.previous[kind] = result.PoolIDs()
	status.State = StateReady
	status.LastError = ""
	status.LastRefresh = result.UpdatedAt
	final := p.statusLocked(kind)
	call.result = result
	p.mu.Unlock()

	if p.cache != nil {
		p.cache.Put(ctx, result)
	}

	metrics.HeroPoolRefreshes.WithLabelValues(kind.String(), "ok").Inc()
	metrics.HeroPoolBuildDuration.WithLabelValues(kind.String()).Observe(p.now().Sub(start).Seconds())
	if result.Shortfall {
		metrics.HeroPoolShortfalls.WithLabelValues(kind.String()).Inc()
	}

	if p.onPool != nil {
		p.onPool(result.Clone())
	}

	p.notify(final)
	close(call.done)
}

// buildPool computes a pool: server-computed when a fetcher is configured and
// healthy, local allocation otherwise.
func (p *Pipeline) buildPool(ctx context.Context, kind Kind) (*PoolResult, error) {
	p.mu.Lock()
	policy := p.policy.Clone()
	prev := p.previous[kind]
	p.mu.Unlock()

	if p.fetcher != nil {
		result, err := p.fetcher.FetchPool(ctx, kind)
		if err == nil {
			// Backends may omit lifetimes; stamp them or the pool would
			// classify as expired on arrival.
			if result.UpdatedAt.IsZero() {
				result.UpdatedAt = p.now()
			}
			if result.ExpiresAt.IsZero() {
				result.ExpiresAt = result.UpdatedAt.Add(policy.Cache.TTL)
			}
			result.PolicyHash = policy.Hash()
			result.MatchesPolicy = true
			return result, nil
		}
		p.logger.Warn().Err(err).Str("kind", kind.String()).Msg("server pool fetch failed, falling back to local allocation")
	}

	candidates, err := p.source.Candidates(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	return p.allocator.Allocate(ctx, kind, candidates, policy, AllocateOptions{PreviousPoolIDs: prev})
}

// transitionLocked sets a kind's state and returns the snapshot to notify
// with. Must be called with the mutex held.
func (p *Pipeline) transitionLocked(kind Kind, state PipelineState, err error) PipelineStatus {
	status := p.statuses[kind]
	status.State = state
	if err != nil {
		status.LastError = err.Error()
	}
	return p.statusLocked(kind)
}
