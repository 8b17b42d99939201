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

func TestClassify(t *testing.T) {
	now := testTime
	policy := &CachePolicy{
		TTL:        6 * time.Hour,
		Grace:      15 * time.Minute,
		HardExpiry: time.Hour,
	}

	tests := []struct {
		name      string
		expiresAt time.Time
		policy    *CachePolicy
		want      Staleness
	}{
		{
			name:      "before ttl",
			expiresAt: now.Add(time.Hour),
			policy:    policy,
			want:      StalenessFresh,
		},
		{
			name:      "just past ttl",
			expiresAt: now.Add(-time.Minute),
			policy:    policy,
			want:      StalenessStale,
		},
		{
			name:      "at grace boundary",
			expiresAt: now.Add(-15 * time.Minute),
			policy:    policy,
			want:      StalenessExpired,
		},
		{
			name:      "past grace",
			expiresAt: now.Add(-30 * time.Minute),
			policy:    policy,
			want:      StalenessExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &PoolResult{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, Classify(result, tt.policy, now))
		})
	}

	assert.Equal(t, StalenessExpired, Classify(nil, policy, now))
}

func TestServableOnFailure(t *testing.T) {
	now := testTime
	policy := &CachePolicy{
		TTL:        6 * time.Hour,
		Grace:      15 * time.Minute,
		HardExpiry: time.Hour,
	}

	tests := []struct {
		name      string
		expiresAt time.Time
		policy    *CachePolicy
		want      bool
	}{
		{
			name:      "within hard expiry",
			expiresAt: now.Add(-30 * time.Minute),
			policy:    policy,
			want:      true,
		},
		{
			name:      "past hard expiry",
			expiresAt: now.Add(-2 * time.Hour),
			policy:    policy,
			want:      false,
		},
		{
			name:      "zero hard expiry serves forever",
			expiresAt: now.AddDate(0, -6, 0),
			policy:    &CachePolicy{TTL: 6 * time.Hour, Grace: 15 * time.Minute},
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &PoolResult{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, ServableOnFailure(result, tt.policy, now))
		})
	}

	assert.False(t, ServableOnFailure(nil, policy, now))
}

type fakeStore struct {
	mu      sync.Mutex
	pools   map[Kind]*PoolResult
	loadErr error
	saveErr error
	saves   int
	deletes int
	loads   int32
	block   chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{pools: make(map[Kind]*PoolResult)}
}

func (s *fakeStore) Load(_ context.Context, kind Kind) (*PoolResult, error) {
	atomic.AddInt32(&s.loads, 1)
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	pool, ok := s.pools[kind]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool.Clone(), nil
}

func (s *fakeStore) Save(_ context.Context, result *PoolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.pools[result.Kind] = result.Clone()
	return nil
}

func (s *fakeStore) Delete(_ context.Context, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.pools, kind)
	return nil
}

func TestCacheMemoryFirst(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store, testLogger())
	ctx := context.Background()

	_, err := cache.Get(ctx, KindMovies)
	assert.ErrorIs(t, err, ErrPoolNotFound)

	pool := &PoolResult{Kind: KindMovies, UpdatedAt: testTime, SlotSummary: map[string]int{}}
	cache.Put(ctx, pool)

	got, err := cache.Get(ctx, KindMovies)
	require.NoError(t, err)
	assert.Equal(t, testTime, got.UpdatedAt)
	assert.Equal(t, 1, store.saves)

	// Store failures after a memory hit are invisible to readers.
	store.loadErr = errors.New("disk gone")
	_, err = cache.Get(ctx, KindMovies)
	assert.NoError(t, err)
}

func TestCacheFallsBackToStore(t *testing.T) {
	store := newFakeStore()
	store.pools[KindSeries] = &PoolResult{Kind: KindSeries, UpdatedAt: testTime, SlotSummary: map[string]int{}}

	cache := NewCache(store, testLogger())
	got, err := cache.Get(context.Background(), KindSeries)
	require.NoError(t, err)
	assert.Equal(t, KindSeries, got.Kind)

	// The durable copy is now promoted into memory.
	store.loadErr = errors.New("disk gone")
	_, err = cache.Get(context.Background(), KindSeries)
	assert.NoError(t, err)
}

func TestCachePutSurvivesStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("disk full")

	cache := NewCache(store, testLogger())
	cache.Put(context.Background(), &PoolResult{Kind: KindMovies, SlotSummary: map[string]int{}})

	got, err := cache.Get(context.Background(), KindMovies)
	require.NoError(t, err)
	assert.Equal(t, KindMovies, got.Kind)
}

func TestCacheInvalidate(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store, testLogger())
	ctx := context.Background()

	cache.Put(ctx, &PoolResult{Kind: KindMovies, SlotSummary: map[string]int{}})
	cache.Invalidate(ctx, KindMovies)

	_, err := cache.Get(ctx, KindMovies)
	assert.ErrorIs(t, err, ErrPoolNotFound)
	assert.Equal(t, 1, store.deletes)
}

func TestCacheWithoutStore(t *testing.T) {
	cache := NewCache(nil, testLogger())
	ctx := context.Background()

	_, err := cache.Get(ctx, KindMovies)
	assert.ErrorIs(t, err, ErrPoolNotFound)

	cache.Put(ctx, &PoolResult{Kind: KindMovies, SlotSummary: map[string]int{}})
	got, err := cache.Get(ctx, KindMovies)
	require.NoError(t, err)
	assert.Equal(t, KindMovies, got.Kind)

	cache.Invalidate(ctx, KindMovies)
	_, err = cache.Get(ctx, KindMovies)
	assert.ErrorIs(t, err, ErrPoolNotFound)
}
