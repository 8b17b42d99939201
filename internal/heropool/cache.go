// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Staleness classifies a cached pool against the cache policy.
type Staleness int

const (
	// StalenessFresh means the pool is within its TTL.
	StalenessFresh Staleness = iota
	// StalenessStale means the pool is past TTL but still serveable while a
	// refresh is attempted.
	StalenessStale
	// StalenessExpired means the pool must not be served at all.
	StalenessExpired
)

// String returns a human-readable staleness name.
func (s Staleness) String() string {
	switch s {
	case StalenessFresh:
		return "fresh"
	case StalenessStale:
		return "stale"
	case StalenessExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Classify evaluates a pool's age against the cache policy. Within the grace
// window a pool is stale and may serve while a refresh runs; beyond grace it
// is expired and a refresh must be attempted before serving.
func Classify(result *PoolResult, policy *CachePolicy, now time.Time) Staleness {
	if result == nil {
		return StalenessExpired
	}
	if now.Before(result.ExpiresAt) {
		return StalenessFresh
	}
	if now.Before(result.ExpiresAt.Add(policy.Grace)) {
		return StalenessStale
	}
	return StalenessExpired
}

// ServableOnFailure reports whether a pool may still be served after a
// refresh attempt failed. HardExpiry bounds this degraded window past the
// TTL; zero means serve-stale-forever under persistent failure.
func ServableOnFailure(result *PoolResult, policy *CachePolicy, now time.Time) bool {
	if result == nil {
		return false
	}
	if policy.HardExpiry == 0 {
		return true
	}
	return now.Before(result.ExpiresAt.Add(policy.HardExpiry))
}

// Store persists pools across restarts. Load returns ErrPoolNotFound when no
// pool exists for the kind.
type Store interface {
	Load(ctx context.Context, kind Kind) (*PoolResult, error)
	Save(ctx context.Context, result *PoolResult) error
	Delete(ctx context.Context, kind Kind) error
}

// Cache layers an in-memory pool map over a durable Store. The memory layer
// serves the hot path; the store survives restarts so a rebooted instance can
// serve a stale pool immediately instead of blanking the hero surface.
type Cache struct {
	mu     sync.RWMutex
	mem    map[Kind]*PoolResult
	store  Store
	logger zerolog.Logger
}

// NewCache creates a cache. The store may be nil for memory-only operation.
func NewCache(store Store, logger zerolog.Logger) *Cache {
	return &Cache{
		mem:    make(map[Kind]*PoolResult, len(Kinds())),
		store:  store,
		logger: logger.With().Str("component", "poolcache").Logger(),
	}
}

// Get returns the cached pool for a kind, consulting memory first and the
// durable store second. Returns ErrPoolNotFound when neither has one.
func (c *Cache) Get(ctx context.Context, kind Kind) (*PoolResult, error) {
	c.mu.RLock()
	cached, ok := c.mem[kind]
	c.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	if c.store == nil {
		return nil, ErrPoolNotFound
	}

	loaded, err := c.store.Load(ctx, kind)
	if err != nil {
		if errors.Is(err, ErrPoolNotFound) {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}

	c.mu.Lock()
	// A concurrent Put wins over the durable copy.
	if fresh, ok := c.mem[kind]; ok {
		c.mu.Unlock()
		return fresh.Clone(), nil
	}
	c.mem[kind] = loaded
	c.mu.Unlock()

	return loaded.Clone(), nil
}

// Put stores a pool in memory and, best-effort, in the durable store. A store
// write failure is logged but never fails the caller; the pool is already
// usable from memory.
func (c *Cache) Put(ctx context.Context, result *PoolResult) {
	stored := result.Clone()
	stored.FromCache = false

	c.mu.Lock()
	c.mem[stored.Kind] = stored
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, stored); err != nil {
		c.logger.Warn().Err(err).Str("kind", stored.Kind.String()).Msg("durable pool save failed")
	}
}

// Invalidate drops the pool for a kind from both layers.
func (c *Cache) Invalidate(ctx context.Context, kind Kind) {
	c.mu.Lock()
	delete(c.mem, kind)
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, kind); err != nil && !errors.Is(err, ErrPoolNotFound) {
		c.logger.Warn().Err(err).Str("kind", kind.String()).Msg("durable pool delete failed")
	}
}
