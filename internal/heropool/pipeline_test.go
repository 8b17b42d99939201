// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu         sync.Mutex
	candidates map[Kind][]CandidateItem
	err        error
	calls      int32
	block      chan struct{}
}

func newFakeSource(items ...CandidateItem) *fakeSource {
	byKind := make(map[Kind][]CandidateItem)
	for _, item := range items {
		byKind[item.Kind] = append(byKind[item.Kind], item)
	}
	return &fakeSource{candidates: byKind}
}

func (s *fakeSource) Candidates(ctx context.Context, kind Kind) ([]CandidateItem, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates[kind], nil
}

func (s *fakeSource) callCount() int {
	return int(atomic.LoadInt32(&s.calls))
}

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type fakeFetcher struct {
	result *PoolResult
	err    error
	calls  int32
}

func (f *fakeFetcher) FetchPool(_ context.Context, kind Kind) (*PoolResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	result := f.result.Clone()
	result.Kind = kind
	return result, nil
}

func movieCandidates(n int) []CandidateItem {
	items := make([]CandidateItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, candidate(
			string(rune('a'+i)), "Movie "+string(rune('A'+i)), i+1, rating(6+float64(i)*0.2),
			"genre-"+string(rune('a'+i)), 1980+i,
		))
	}
	return items
}

func smallPolicy() *Policy {
	p := DefaultPolicy()
	p.PoolSizeMovies = 3
	p.PoolSizeSeries = 3
	p.Slots = []SlotDef{
		{Name: SlotNew, Quota: 0.7},
		{Name: SlotTopRated, Quota: 0.3},
	}
	return p
}

func newTestPipeline(t *testing.T, source CandidateSource, opts PipelineOptions) *Pipeline {
	t.Helper()
	policy := smallPolicy()
	allocator := newTestAllocator(nil)
	p := NewPipeline(policy, allocator, source, NewCache(nil, testLogger()), testLogger(), opts)
	p.now = func() time.Time { return testTime }
	return p
}

func TestEnsureBuildsAndCaches(t *testing.T) {
	source := newFakeSource(movieCandidates(6)...)
	p := newTestPipeline(t, source, PipelineOptions{})
	ctx := context.Background()

	first, err := p.Ensure(ctx, KindMovies)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Len(t, first.Items, 3)
	assert.Equal(t, StateReady, p.Status(KindMovies).State)
	assert.Equal(t, testTime, p.Status(KindMovies).LastRefresh)

	second, err := p.Ensure(ctx, KindMovies)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, source.callCount(), "fresh pool must not trigger a rebuild")
}

func TestEnsureDeduplicatesConcurrentFetches(t *testing.T) {
	source := newFakeSource(movieCandidates(6)...)
	source.block = make(chan struct{})
	p := newTestPipeline(t, source, PipelineOptions{})

	const callers = 8
	results := make([]*PoolResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Ensure(context.Background(), KindMovies)
		}(i)
	}

	// Wait until the single fetch is in flight, then release it.
	require.Eventually(t, func() bool {
		return source.callCount() == 1
	}, time.Second, 5*time.Millisecond)
	close(source.block)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Items, 3)
	}
	assert.Equal(t, 1, source.callCount(), "all callers must share one fetch")
}

func TestEnsureServesStaleAndRefreshes(t *testing.T) {
	source := newFakeSource(movieCandidates(6)...)
	p := newTestPipeline(t, source, PipelineOptions{})
	ctx := context.Background()

	_, err := p.Ensure(ctx, KindMovies)
	require.NoError(t, err)

	// Jump past the TTL into the grace window.
	staleTime := testTime.Add(6*time.Hour + time.Minute)
	p.now = func() time.Time { return staleTime }

	stale, err := p.Ensure(ctx, KindMovies)
	require.NoError(t, err)
	assert.True(t, stale.FromCache, "stale pool is served, not rebuilt inline")

	require.Eventually(t, func() bool {
		return source.callCount() == 2 && p.Status(KindMovies).State == StateReady
	}, time.Second, 5*time.Millisecond, "background refresh should complete")
}

func TestEnsureFailsWithoutFallback(t *testing.T) {
	source := newFakeSource()
	source.setErr(errors.New("backend down"))
	p := newTestPipeline(t, source, PipelineOptions{})

	_, err := p.Ensure(context.Background(), KindMovies)
	assert.ErrorIs(t, err, ErrNoUsablePool)
	assert.Equal(t, StateError, p.Status(KindMovies).State)
	assert.Contains(t, p.Status(KindMovies).LastError, "backend down")
}

func TestRefreshFailureKeepsServingStalePool(t *testing.T) {
	source := newFakeSource(movieCandidates(6)...)
	p := newTestPipeline(t, source, PipelineOptions{})
	ctx := context.Background()

	_, err := p.Ensure(ctx, KindMovies)
	require.NoError(t, err)

	source.setErr(errors.New("backend down"))
	result, err := p.Refresh(ctx, KindMovies)
	require.NoError(t, err, "a usable pool absorbs the failed refresh")
	assert.True(t, result.FromCache)
	assert.Equal(t, StateStale, p.Status(KindMovies).State)
	assert.Contains(t, p.Status(KindMovies).LastError, "backend down")
}

func TestEnsureDisabled(t *testing.T) {
	off := false
	source := newFakeSource(movieCandidates(6)...)
	p := newTestPipeline(t, source, PipelineOptions{EnabledOverride: &off})

	_, err := p.Ensure(context.Background(), KindMovies)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Equal(t, StateDisabled, p.Status(KindMovies).State)
	assert.Zero(t, source.callCount())

	// Clearing the override restores the default-on behavior.
	p.SetEnabledOverride(nil)
	assert.Equal(t, StateIdle, p.Status(KindMovies).State)

	_, err = p.Ensure(context.Background(), KindMovies)
	assert.NoError(t, err)
}

func TestPolicyEnabledDefault(t *testing.T) {
	off := false
	policy := smallPolicy()
	policy.Enabled = &off

	p := NewPipeline(policy, newTestAllocator(nil), newFakeSource(), NewCache(nil, testLogger()), testLogger(), PipelineOptions{})
	assert.False(t, p.Enabled())

	// An explicit override beats the policy default.
	on := true
	p.SetEnabledOverride(&on)
	assert.True(t, p.Enabled())
}

func TestSetPolicyFlagsCachedPools(t *testing.T) {
	source := newFakeSource(movieCandidates(6)...)
	p := newTestPipeline(t, source, PipelineOptions{})
	ctx := context.Background()

	_, err := p.Ensure(ctx, KindMovies)
	require.NoError(t, err)

	changed := smallPolicy()
	changed.PoolSizeMovies = 2
	require.NoError(t, p.SetPolicy(changed))

	// A mismatched pool never serves, fresh or not; the call blocks on a
	// rebuild under the new policy.
	rebuilt, err := p.Ensure(ctx, KindMovies)
	require.NoError(t, err)
	assert.False(t, rebuilt.FromCache)
	assert.True(t, rebuilt.MatchesPolicy)
	assert.Len(t, rebuilt.Items, 2)
	assert.Equal(t, 2, source.callCount())
	assert.Equal(t, StateReady, p.Status(KindMovies).State)

	invalid := smallPolicy()
	invalid.Slots = nil
	assert.Error(t, p.SetPolicy(invalid))
}

func TestRefreshFailurePastHardExpiryReturnsError(t *testing.T) {
	source := newFakeSource(movieCandidates(6)...)
	p := newTestPipeline(t, source, PipelineOptions{})
	ctx := context.Background()

	_, err := p.Ensure(ctx, KindMovies)
	require.NoError(t, err)

	// Jump past TTL plus hard expiry, then fail the rebuild.
	p.now = func() time.Time { return testTime.Add(6*time.Hour + 25*time.Hour) }
	source.setErr(errors.New("backend down"))

	_, err = p.Ensure(ctx, KindMovies)
	assert.ErrorIs(t, err, ErrNoUsablePool)
	assert.Equal(t, StateError, p.Status(KindMovies).State)
}

func TestFetcherPreferredWithLocalFallback(t *testing.T) {
	source := newFakeSource(movieCandidates(6)...)
	serverPool := &PoolResult{
		Kind:        KindMovies,
		Items:       []PoolEntry{{PoolID: "server-1", Slot: SlotNew}},
		UpdatedAt:   testTime,
		ExpiresAt:   testTime.Add(time.Hour),
		SlotSummary: map[string]int{SlotNew: 1},
	}
	fetcher := &fakeFetcher{result: serverPool}

	p := newTestPipeline(t, source, PipelineOptions{Fetcher: fetcher})

	result, err := p.Ensure(context.Background(), KindMovies)
	require.NoError(t, err)
	assert.Equal(t, "server-1", result.Items[0].PoolID)
	assert.True(t, result.MatchesPolicy)
	assert.Zero(t, source.callCount(), "server pool replaces local allocation")

	// A failing fetcher degrades to local allocation.
	fetcher.err = errors.New("server pools unavailable")
	rebuilt, err := p.Refresh(context.Background(), KindMovies)
	require.NoError(t, err)
	assert.Len(t, rebuilt.Items, 3)
	assert.Equal(t, 1, source.callCount())
}

func TestPipelineWarmStartFromStore(t *testing.T) {
	stored := &PoolResult{
		Kind:        KindMovies,
		Items:       []PoolEntry{{PoolID: "persisted-1", Slot: SlotNew}},
		UpdatedAt:   testTime.Add(-time.Hour),
		ExpiresAt:   testTime.Add(5 * time.Hour),
		SlotSummary: map[string]int{SlotNew: 1},
	}
	stored.PolicyHash = smallPolicy().Hash()

	store := newFakeStore()
	store.pools[KindMovies] = stored

	source := newFakeSource(movieCandidates(6)...)
	p := NewPipeline(smallPolicy(), newTestAllocator(nil), source, NewCache(store, testLogger()), testLogger(), PipelineOptions{})
	p.now = func() time.Time { return testTime }

	result, err := p.Ensure(context.Background(), KindMovies)
	require.NoError(t, err)
	assert.Equal(t, "persisted-1", result.Items[0].PoolID)
	assert.True(t, result.FromCache)
	assert.Zero(t, source.callCount(), "a fresh persisted pool needs no rebuild")
}

func TestFetcherPoolWithoutLifetimesIsCacheable(t *testing.T) {
	fetcher := &fakeFetcher{result: &PoolResult{
		Kind:        KindMovies,
		Items:       []PoolEntry{{PoolID: "server-1", Slot: SlotNew}},
		SlotSummary: map[string]int{SlotNew: 1},
	}}
	source := newFakeSource(movieCandidates(6)...)
	p := newTestPipeline(t, source, PipelineOptions{Fetcher: fetcher})
	ctx := context.Background()

	// A payload without updated_at/expires_at gets lifetimes stamped from
	// the policy TTL instead of classifying as expired on arrival.
	first, err := p.Ensure(ctx, KindMovies)
	require.NoError(t, err)
	assert.Equal(t, testTime, first.UpdatedAt)
	assert.Equal(t, testTime.Add(smallPolicy().Cache.TTL), first.ExpiresAt)

	second, err := p.Ensure(ctx, KindMovies)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetcher.calls), "fresh server pool must not refetch")
}

func TestServeStaleNotifiesInMutationOrder(t *testing.T) {
	source := newFakeSource(movieCandidates(6)...)
	p := newTestPipeline(t, source, PipelineOptions{})
	ctx := context.Background()

	_, err := p.Ensure(ctx, KindMovies)
	require.NoError(t, err)

	// Hold the background refresh open so only the serve-stale
	// notifications arrive.
	source.block = make(chan struct{})
	p.now = func() time.Time { return testTime.Add(6*time.Hour + time.Minute) }

	var mu sync.Mutex
	var seen []PipelineStatus
	unsubscribe := p.Subscribe(func(status PipelineStatus) {
		mu.Lock()
		seen = append(seen, status)
		mu.Unlock()
	})
	defer unsubscribe()

	_, err = p.Ensure(ctx, KindMovies)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, seen, 2)
	assert.Equal(t, StateReady, seen[0].State)
	assert.True(t, seen[0].Regenerating, "refresh start announced before the stale transition")
	assert.Equal(t, StateStale, seen[1].State)
	mu.Unlock()

	close(source.block)
	require.Eventually(t, func() bool {
		return p.Status(KindMovies).State == StateReady
	}, time.Second, 5*time.Millisecond)
}

func TestStoreLoadDoesNotHoldPipelineLock(t *testing.T) {
	stored := &PoolResult{
		Kind:        KindMovies,
		Items:       []PoolEntry{{PoolID: "persisted-1", Slot: SlotNew}},
		UpdatedAt:   testTime.Add(-time.Hour),
		ExpiresAt:   testTime.Add(5 * time.Hour),
		SlotSummary: map[string]int{SlotNew: 1},
		PolicyHash:  smallPolicy().Hash(),
	}
	store := newFakeStore()
	store.pools[KindMovies] = stored
	store.block = make(chan struct{})

	source := newFakeSource(movieCandidates(6)...)
	p := NewPipeline(smallPolicy(), newTestAllocator(nil), source, NewCache(store, testLogger()), testLogger(), PipelineOptions{})
	p.now = func() time.Time { return testTime }

	ensureDone := make(chan error, 1)
	go func() {
		_, err := p.Ensure(context.Background(), KindMovies)
		ensureDone <- err
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&store.loads) == 1
	}, time.Second, 5*time.Millisecond, "store read should be in flight")

	// Status reads must not queue behind the disk read.
	statusDone := make(chan PipelineStatus, 1)
	go func() { statusDone <- p.Status(KindMovies) }()
	select {
	case status := <-statusDone:
		assert.Equal(t, StateIdle, status.State)
	case <-time.After(time.Second):
		t.Fatal("status blocked behind the store read")
	}

	close(store.block)
	require.NoError(t, <-ensureDone)
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	source := newFakeSource(movieCandidates(6)...)
	p := newTestPipeline(t, source, PipelineOptions{})

	var mu sync.Mutex
	var states []PipelineState
	unsubscribe := p.Subscribe(func(status PipelineStatus) {
		mu.Lock()
		states = append(states, status.State)
		mu.Unlock()
	})
	defer unsubscribe()

	_, err := p.Ensure(context.Background(), KindMovies)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range states {
			if s == StateReady {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
