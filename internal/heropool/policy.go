// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Well-known slot names. Policies may declare any subset in any order; the
// allocator only special-cases the ranking strategy per name.
const (
	SlotNew        = "new"
	SlotTopRated   = "topRated"
	SlotOldButGold = "oldButGold"
	SlotRandom     = "random"
)

// SlotDef declares one allocation bucket with its fractional quota.
type SlotDef struct {
	// Name is the slot identifier.
	Name string `json:"name" koanf:"name"`

	// Quota is the fraction of the pool size targeted by this slot.
	// Quotas across all slots must sum to at most 1.0.
	Quota float64 `json:"quota" koanf:"quota"`
}

// DiversityCaps bounds how similar the selected pool may be.
type DiversityCaps struct {
	// GenreCap is the maximum number of pool entries sharing one genre.
	GenreCap int `json:"genre_cap" koanf:"genre_cap"`

	// YearCap is the maximum number of pool entries sharing a release year.
	YearCap int `json:"year_cap" koanf:"year_cap"`
}

// CachePolicy controls pool cache lifetimes.
type CachePolicy struct {
	// TTL is how long a pool is fresh after computation.
	TTL time.Duration `json:"ttl" koanf:"ttl"`

	// Grace is how long past TTL a pool may still be served while a
	// refresh is attempted (serve-stale window).
	Grace time.Duration `json:"grace" koanf:"grace"`

	// HardExpiry is how long past TTL a pool may be served at all when
	// refreshes keep failing. Zero means serve-stale-forever under
	// persistent failure.
	HardExpiry time.Duration `json:"hard_expiry" koanf:"hard_expiry"`
}

// RotationPolicy controls the autoplay scheduler.
type RotationPolicy struct {
	// Interval is the time each entry is displayed before advancing.
	Interval time.Duration `json:"interval" koanf:"interval"`

	// MinPoolSize suppresses rotation for pools smaller than this.
	MinPoolSize int `json:"min_pool_size" koanf:"min_pool_size"`
}

// Presentation carries display concerns the engine passes through unmodified.
type Presentation struct {
	// Language is the preferred metadata language (BCP 47).
	Language string `json:"language" koanf:"language"`

	// TitleClampChars truncates titles in the hero surface.
	TitleClampChars int `json:"title_clamp_chars" koanf:"title_clamp_chars"`

	// SummaryClampChars truncates summaries in the hero surface.
	SummaryClampChars int `json:"summary_clamp_chars" koanf:"summary_clamp_chars"`
}

// Policy is the versionless, content-fingerprinted configuration for the
// engine. It is supplied wholesale at construction and may be swapped at
// runtime; the engine never mutates it.
type Policy struct {
	// Enabled is the policy-supplied feature flag default. Nil means unset,
	// in which case the engine's hard-coded default of enabled applies.
	// An explicit per-user override on the orchestrator takes precedence
	// over both.
	Enabled *bool `json:"enabled,omitempty" koanf:"enabled"`

	// PoolSizeMovies is the target pool size for the movie kind.
	PoolSizeMovies int `json:"pool_size_movies" koanf:"pool_size_movies"`

	// PoolSizeSeries is the target pool size for the series kind.
	PoolSizeSeries int `json:"pool_size_series" koanf:"pool_size_series"`

	// Slots lists allocation buckets in fill-priority order. The last slot
	// absorbs rounding remainder so targets always sum to the pool size.
	Slots []SlotDef `json:"slots" koanf:"slots"`

	// Diversity bounds genre and year repetition within a pool.
	Diversity DiversityCaps `json:"diversity" koanf:"diversity"`

	// AntiRepeatWeight (0-1) softly deprioritizes items present in the
	// previous pool. It biases ranking, it never excludes.
	AntiRepeatWeight float64 `json:"anti_repeat_weight" koanf:"anti_repeat_weight"`

	// Rotation controls the autoplay scheduler.
	Rotation RotationPolicy `json:"rotation" koanf:"rotation"`

	// Cache controls pool lifetimes.
	Cache CachePolicy `json:"cache" koanf:"cache"`

	// Presentation is passed through to the hero surface unmodified.
	Presentation Presentation `json:"presentation" koanf:"presentation"`
}

// DefaultPolicy returns a Policy with production defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		PoolSizeMovies: 10,
		PoolSizeSeries: 10,
		Slots: []SlotDef{
			{Name: SlotNew, Quota: 0.4},
			{Name: SlotTopRated, Quota: 0.3},
			{Name: SlotOldButGold, Quota: 0.2},
			{Name: SlotRandom, Quota: 0.1},
		},
		Diversity: DiversityCaps{
			GenreCap: 3,
			YearCap:  3,
		},
		AntiRepeatWeight: 0.5,
		Rotation: RotationPolicy{
			Interval:    15 * time.Second,
			MinPoolSize: 2,
		},
		Cache: CachePolicy{
			TTL:        6 * time.Hour,
			Grace:      15 * time.Minute,
			HardExpiry: 24 * time.Hour,
		},
		Presentation: Presentation{
			Language:          "en",
			TitleClampChars:   60,
			SummaryClampChars: 240,
		},
	}
}

// PoolSize returns the configured pool size for a kind.
func (p *Policy) PoolSize(kind Kind) int {
	if kind == KindSeries {
		return p.PoolSizeSeries
	}
	return p.PoolSizeMovies
}

// Validate checks the policy for errors.
func (p *Policy) Validate() error {
	if p.PoolSizeMovies < 0 || p.PoolSizeSeries < 0 {
		return fmt.Errorf("pool sizes must be non-negative, got %d/%d", p.PoolSizeMovies, p.PoolSizeSeries)
	}
	if len(p.Slots) == 0 {
		return fmt.Errorf("at least one slot must be declared")
	}

	sum := 0.0
	seen := make(map[string]struct{}, len(p.Slots))
	for _, slot := range p.Slots {
		if slot.Name == "" {
			return fmt.Errorf("slot name must not be empty")
		}
		if _, dup := seen[slot.Name]; dup {
			return fmt.Errorf("duplicate slot %q", slot.Name)
		}
		seen[slot.Name] = struct{}{}
		if slot.Quota < 0 || slot.Quota > 1 {
			return fmt.Errorf("slot %q quota must be in [0, 1], got %f", slot.Name, slot.Quota)
		}
		sum += slot.Quota
	}
	// Small epsilon tolerates float accumulation on quotas meant to sum to 1.0.
	if sum > 1.0+1e-9 {
		return fmt.Errorf("slot quotas must sum to at most 1.0, got %f", sum)
	}

	if p.Diversity.GenreCap < 1 {
		return fmt.Errorf("diversity.genre_cap must be positive, got %d", p.Diversity.GenreCap)
	}
	if p.Diversity.YearCap < 1 {
		return fmt.Errorf("diversity.year_cap must be positive, got %d", p.Diversity.YearCap)
	}
	if p.AntiRepeatWeight < 0 || p.AntiRepeatWeight > 1 {
		return fmt.Errorf("anti_repeat_weight must be in [0, 1], got %f", p.AntiRepeatWeight)
	}
	if p.Rotation.Interval <= 0 {
		return fmt.Errorf("rotation.interval must be positive, got %v", p.Rotation.Interval)
	}
	if p.Rotation.MinPoolSize < 0 {
		return fmt.Errorf("rotation.min_pool_size must be non-negative, got %d", p.Rotation.MinPoolSize)
	}
	if p.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %v", p.Cache.TTL)
	}
	if p.Cache.Grace < 0 {
		return fmt.Errorf("cache.grace must be non-negative, got %v", p.Cache.Grace)
	}
	if p.Cache.HardExpiry != 0 && p.Cache.HardExpiry < p.Cache.Grace {
		return fmt.Errorf("cache.hard_expiry must be zero or >= cache.grace, got %v", p.Cache.HardExpiry)
	}

	return nil
}

// Clone returns a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	cp := *p
	if p.Enabled != nil {
		enabled := *p.Enabled
		cp.Enabled = &enabled
	}
	cp.Slots = make([]SlotDef, len(p.Slots))
	copy(cp.Slots, p.Slots)
	return &cp
}

// policyFingerprint holds exactly the policy fields that affect selection
// (allocator steps: targets, ranking, diversity fill, anti-repeat). Cache
// lifetimes, rotation timing and presentation clamps are deliberately
// excluded so unrelated policy edits never cause spurious cache misses.
type policyFingerprint struct {
	PoolSizeMovies   int           `json:"pool_size_movies"`
	PoolSizeSeries   int           `json:"pool_size_series"`
	Slots            []SlotDef     `json:"slots"`
	Diversity        DiversityCaps `json:"diversity"`
	AntiRepeatWeight float64       `json:"anti_repeat_weight"`
}

// Hash returns a hex-encoded content hash of the selection-affecting policy
// fields. Cached pools carrying a different hash must be refreshed before
// they can be served as ready.
func (p *Policy) Hash() string {
	fp := policyFingerprint{
		PoolSizeMovies:   p.PoolSizeMovies,
		PoolSizeSeries:   p.PoolSizeSeries,
		Slots:            p.Slots,
		Diversity:        p.Diversity,
		AntiRepeatWeight: p.AntiRepeatWeight,
	}

	// Marshal cannot fail for this struct shape.
	data, _ := json.Marshal(fp)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
