// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// antiRepeatPenalty scales the anti-repeat weight into the normalized [0, 1]
// score space. A weight of 1.0 demotes a previously shown item by a quarter
// of the score range: enough to lose ties, never enough to exclude.
const antiRepeatPenalty = 0.25

// Enricher resolves remote artwork for a candidate. Implementations own the
// RateLimitState; the allocator only reads it.
type Enricher interface {
	// Enrich returns an artwork URL for the item. It returns ErrThrottled
	// while the upstream backoff window is open.
	Enrich(ctx context.Context, item CandidateItem) (string, error)

	// State returns the current throttle condition.
	State() RateLimitState
}

// Allocator builds diversity-constrained, quota-satisfying pools from a
// candidate list. It is stateless apart from its collaborators and safe for
// concurrent use.
type Allocator struct {
	enricher Enricher
	logger   zerolog.Logger
	now      func() time.Time
}

// AllocateOptions carries optional allocation inputs.
type AllocateOptions struct {
	// PreviousPoolIDs softly deprioritizes entries shown in the prior
	// pool, proportionally to the policy's anti-repeat weight.
	PreviousPoolIDs map[string]struct{}
}

// NewAllocator creates an allocator. The enricher may be nil, in which case
// all artwork resolves to local references.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewAllocator(enricher Enricher, logger zerolog.Logger) *Allocator {
	return &Allocator{
		enricher: enricher,
		logger:   logger.With().Str("component", "allocator").Logger(),
		now:      time.Now,
	}
}

// Allocate builds a pool for one kind. It never fails because a slot is
// under-filled; realized counts are reported in the result's SlotSummary.
// It returns ErrInsufficientCandidates only when the candidate list is empty
// and the policy's minimum pool size is nonzero.
func (a *Allocator) Allocate(ctx context.Context, kind Kind, candidates []CandidateItem, policy *Policy, opts AllocateOptions) (*PoolResult, error) {
	now := a.now()
	poolSize := policy.PoolSize(kind)

	if len(candidates) == 0 {
		if policy.Rotation.MinPoolSize > 0 {
			return nil, ErrInsufficientCandidates
		}
		return a.stampResult(kind, nil, emptySummary(policy.Slots), false, policy, now), nil
	}

	targets := slotTargets(policy.Slots, poolSize)
	seed := allocationSeed(now, kind)

	rankings := make([][]scoredCandidate, len(policy.Slots))
	for i, slot := range policy.Slots {
		ranked := rankForSlot(slot.Name, candidates, seed)
		applyAntiRepeat(ranked, opts.PreviousPoolIDs, policy.AntiRepeatWeight)
		rankings[i] = ranked
	}

	entries, summary := a.fill(kind, policy, targets, rankings, len(candidates))
	shortfall := len(entries) < poolSize && poolSize > 0

	a.resolveArtwork(ctx, entries)

	result := a.stampResult(kind, entries, summary, shortfall, policy, now)

	a.logger.Debug().
		Str("kind", kind.String()).
		Int("candidates", len(candidates)).
		Int("selected", len(entries)).
		Bool("shortfall", shortfall).
		Msg("pool allocated")

	return result, nil
}

// scoredCandidate pairs a candidate with its normalized slot score.
type scoredCandidate struct {
	item  CandidateItem
	score float64
}

// slotTargets derives per-slot counts from quotas. The last slot absorbs the
// rounding remainder so targets always sum to poolSize exactly.
func slotTargets(slots []SlotDef, poolSize int) []int {
	targets := make([]int, len(slots))

	total := 0
	for i, slot := range slots[:len(slots)-1] {
		targets[i] = int(math.Round(slot.Quota * float64(poolSize)))
		total += targets[i]
	}

	last := poolSize - total
	// Rounding of the earlier slots can overshoot; claw back from the tail.
	for i := len(slots) - 2; last < 0 && i >= 0; i-- {
		give := min(targets[i], -last)
		targets[i] -= give
		last += give
	}
	targets[len(slots)-1] = last

	return targets
}

// rankForSlot produces a slot-specific ranked candidate list with scores
// normalized to [0, 1] by rank position. Candidates whose slot sort keys are
// equal share the higher position's score, so the anti-repeat penalty can
// break a genuine tie no matter how small the candidate list is.
func rankForSlot(slotName string, candidates []CandidateItem, seed int64) []scoredCandidate {
	pool := make([]CandidateItem, len(candidates))
	copy(pool, candidates)

	var tied func(a, b CandidateItem) bool
	switch slotName {
	case SlotNew:
		sort.SliceStable(pool, func(i, j int) bool {
			return pool[i].AddedAt.After(pool[j].AddedAt)
		})
		tied = sameAddedAt
	case SlotTopRated:
		sortByRating(pool)
		tied = sameRating
	case SlotOldButGold:
		pool = olderThanMedian(pool)
		sortByRating(pool)
		tied = sameRating
	case SlotRandom:
		rng := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic shuffle, not crypto
		rng.Shuffle(len(pool), func(i, j int) {
			pool[i], pool[j] = pool[j], pool[i]
		})
	default:
		// Unknown slot names rank by recency, same as "new".
		sort.SliceStable(pool, func(i, j int) bool {
			return pool[i].AddedAt.After(pool[j].AddedAt)
		})
		tied = sameAddedAt
	}

	ranked := make([]scoredCandidate, len(pool))
	for i, item := range pool {
		score := 1.0
		if len(pool) > 1 {
			score = 1.0 - float64(i)/float64(len(pool)-1)
		}
		if i > 0 && tied != nil && tied(pool[i-1], item) {
			score = ranked[i-1].score
		}
		ranked[i] = scoredCandidate{item: item, score: score}
	}
	return ranked
}

func sameAddedAt(a, b CandidateItem) bool {
	return a.AddedAt.Equal(b.AddedAt)
}

// sameRating treats the recency fallback inside sortByRating as ordering
// only; two candidates with one rating form a tie for scoring purposes.
func sameRating(a, b CandidateItem) bool {
	if a.Rating == nil || b.Rating == nil {
		return a.Rating == nil && b.Rating == nil
	}
	return *a.Rating == *b.Rating
}

// sortByRating orders by rating descending with unrated items last; ties
// break by recency so ordering stays deterministic.
func sortByRating(pool []CandidateItem) {
	sort.SliceStable(pool, func(i, j int) bool {
		ri, rj := pool[i].Rating, pool[j].Rating
		switch {
		case ri == nil && rj == nil:
			return pool[i].AddedAt.After(pool[j].AddedAt)
		case ri == nil:
			return false
		case rj == nil:
			return true
		case *ri != *rj:
			return *ri > *rj
		default:
			return pool[i].AddedAt.After(pool[j].AddedAt)
		}
	})
}

// olderThanMedian restricts to candidates added before the median addedAt.
// The age threshold is derived from the pool itself, not hard-coded.
func olderThanMedian(pool []CandidateItem) []CandidateItem {
	if len(pool) < 2 {
		return nil
	}

	stamps := make([]int64, len(pool))
	for i := range pool {
		stamps[i] = pool[i].AddedAt.Unix()
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })
	median := stamps[len(stamps)/2]

	old := make([]CandidateItem, 0, len(pool)/2)
	for _, item := range pool {
		if item.AddedAt.Unix() < median {
			old = append(old, item)
		}
	}
	return old
}

// applyAntiRepeat demotes previously shown items and restores descending
// score order. A soft bias only: penalized items remain selectable.
func applyAntiRepeat(ranked []scoredCandidate, previous map[string]struct{}, weight float64) {
	if len(previous) == 0 || weight <= 0 {
		return
	}

	for i := range ranked {
		if _, repeat := previous[poolID(ranked[i].item)]; repeat {
			ranked[i].score -= weight * antiRepeatPenalty
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
}

// fill greedily selects entries slot by slot under the diversity caps.
// Unfillable remainders carry to later slots. If the capped pass cannot
// reach the required total while unselected candidates remain, the caps are
// relaxed for a top-up pass; that degradation is reported, never silent.
func (a *Allocator) fill(kind Kind, policy *Policy, targets []int, rankings [][]scoredCandidate, candidateCount int) ([]PoolEntry, map[string]int) {
	poolSize := policy.PoolSize(kind)
	selected := make(map[string]struct{}, poolSize)
	genreCount := make(map[string]int)
	yearCount := make(map[int]int)
	entries := make([]PoolEntry, 0, poolSize)
	summary := emptySummary(policy.Slots)

	carry := 0
	for i, slot := range policy.Slots {
		want := targets[i] + carry
		got := 0

		for _, sc := range rankings[i] {
			if got >= want {
				break
			}
			if _, dup := selected[sc.item.ID]; dup {
				continue
			}
			if !fitsCaps(sc.item, genreCount, yearCount, policy.Diversity) {
				continue
			}

			entries = append(entries, newEntry(sc.item, slot.Name))
			selected[sc.item.ID] = struct{}{}
			countDiversity(sc.item, genreCount, yearCount)
			got++
		}

		summary[slot.Name] = got
		carry = want - got
	}

	// Degraded mode: the caps left the pool under-filled even though
	// unselected candidates exist. Top up ignoring caps rather than
	// serving a short pool.
	required := min(poolSize, candidateCount)
	if len(entries) < required {
		a.logger.Warn().
			Str("kind", kind.String()).
			Int("selected", len(entries)).
			Int("required", required).
			Msg("diversity caps relaxed to fill pool")

		for i, slot := range policy.Slots {
			for _, sc := range rankings[i] {
				if len(entries) >= required {
					break
				}
				if _, dup := selected[sc.item.ID]; dup {
					continue
				}
				entries = append(entries, newEntry(sc.item, slot.Name))
				selected[sc.item.ID] = struct{}{}
				summary[slot.Name]++
			}
		}
	}

	return entries, summary
}

// fitsCaps reports whether accepting the item keeps every genre and the
// release year within the configured caps.
func fitsCaps(item CandidateItem, genreCount map[string]int, yearCount map[int]int, caps DiversityCaps) bool {
	for _, genre := range item.Genres {
		if genreCount[normalizeGenre(genre)]+1 > caps.GenreCap {
			return false
		}
	}
	if item.Year != 0 && yearCount[item.Year]+1 > caps.YearCap {
		return false
	}
	return true
}

func countDiversity(item CandidateItem, genreCount map[string]int, yearCount map[int]int) {
	for _, genre := range item.Genres {
		genreCount[normalizeGenre(genre)]++
	}
	if item.Year != 0 {
		yearCount[item.Year]++
	}
}

func normalizeGenre(genre string) string {
	return strings.ToLower(strings.TrimSpace(genre))
}

func newEntry(item CandidateItem, slot string) PoolEntry {
	return PoolEntry{
		Item:   item,
		Slot:   slot,
		PoolID: poolID(item),
	}
}

// poolID derives the stable sortable identifier for rotation ordering.
func poolID(item CandidateItem) string {
	var b strings.Builder
	b.Grow(len(item.Title) + len(item.ID) + 1)

	lastDash := true
	for _, r := range strings.ToLower(item.Title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	if !lastDash {
		b.WriteByte('-')
	}
	b.WriteString(item.ID)
	return b.String()
}

// resolveArtwork fills artwork references, preferring the enrichment
// upstream but falling back to local references. While the upstream is
// rate-limited no enrichment calls are issued at all, keeping allocation
// latency bounded.
func (a *Allocator) resolveArtwork(ctx context.Context, entries []PoolEntry) {
	enrichEnabled := a.enricher != nil && !a.enricher.State().Active

	for i := range entries {
		entries[i].Artwork = ArtworkRef{URL: entries[i].Item.Thumb, Source: ArtworkLocal}

		if !enrichEnabled {
			continue
		}

		url, err := a.enricher.Enrich(ctx, entries[i].Item)
		switch {
		case err == nil && url != "":
			entries[i].Artwork = ArtworkRef{URL: url, Source: ArtworkEnriched}
		case errors.Is(err, ErrThrottled):
			// The window opened mid-allocation; stop issuing calls.
			enrichEnabled = false
		case err != nil:
			a.logger.Debug().Err(err).Str("item", entries[i].Item.ID).Msg("enrichment failed, using local artwork")
		}
	}
}

// stampResult finalizes timestamps, hash and flags.
func (a *Allocator) stampResult(kind Kind, entries []PoolEntry, summary map[string]int, shortfall bool, policy *Policy, now time.Time) *PoolResult {
	if entries == nil {
		entries = []PoolEntry{}
	}
	return &PoolResult{
		Kind:          kind,
		Items:         entries,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(policy.Cache.TTL),
		FromCache:     false,
		PolicyHash:    policy.Hash(),
		SlotSummary:   summary,
		Shortfall:     shortfall,
		MatchesPolicy: true,
	}
}

func emptySummary(slots []SlotDef) map[string]int {
	summary := make(map[string]int, len(slots))
	for _, slot := range slots {
		summary[slot.Name] = 0
	}
	return summary
}
