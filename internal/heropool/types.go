// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the two content categories the engine manages.
// External inputs use loose spellings ("movie", "shows", "tv"); ParseKind is
// the single normalization point at the system boundary.
type Kind int

const (
	// KindMovies is the movie catalog.
	KindMovies Kind = iota
	// KindSeries is the series catalog.
	KindSeries
)

// Kinds returns all managed kinds in declaration order.
func Kinds() []Kind {
	return []Kind{KindMovies, KindSeries}
}

// ParseKind normalizes a kind string to one of the two variants.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies", "film", "films":
		return KindMovies, nil
	case "series", "show", "shows", "tv":
		return KindSeries, nil
	default:
		return KindMovies, fmt.Errorf("unknown kind %q", s)
	}
}

// String returns the canonical kind name.
func (k Kind) String() string {
	switch k {
	case KindMovies:
		return "movies"
	case KindSeries:
		return "series"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// CandidateItem is a read-only projection of a catalog entry, owned by the
// candidate source.
type CandidateItem struct {
	// ID is the catalog item identifier.
	ID string `json:"id"`

	// Kind is the content category.
	Kind Kind `json:"kind"`

	// Title is the display title.
	Title string `json:"title"`

	// AddedAt is when the item entered the library.
	AddedAt time.Time `json:"added_at"`

	// Rating is the critic rating (0-10), nil when unrated.
	Rating *float64 `json:"rating,omitempty"`

	// Genres is the ordered set of genre names.
	Genres []string `json:"genres,omitempty"`

	// Year is the release year.
	Year int `json:"year,omitempty"`

	// DurationMinutes is the runtime in minutes.
	DurationMinutes int `json:"duration_minutes,omitempty"`

	// Thumb is the locally available artwork path.
	Thumb string `json:"thumb,omitempty"`
}

// ArtworkSource tells where a pool entry's artwork was resolved from.
type ArtworkSource string

const (
	// ArtworkLocal means artwork came from the catalog's own fields.
	ArtworkLocal ArtworkSource = "local"
	// ArtworkEnriched means artwork came from the enrichment upstream.
	ArtworkEnriched ArtworkSource = "enriched"
)

// ArtworkRef is a resolved artwork reference for a pool entry.
type ArtworkRef struct {
	URL    string        `json:"url"`
	Source ArtworkSource `json:"source"`
}

// PoolEntry is one selected candidate with its allocation metadata.
type PoolEntry struct {
	// Item is the selected candidate.
	Item CandidateItem `json:"item"`

	// Slot is the name of the slot that selected this entry.
	Slot string `json:"slot"`

	// PoolID is a stable, sortable identifier used for deterministic
	// rotation ordering, independent of allocation order.
	PoolID string `json:"pool_id"`

	// Artwork is the resolved artwork reference.
	Artwork ArtworkRef `json:"artwork"`
}

// PoolResult is the allocator's output for one kind.
type PoolResult struct {
	// Kind is the content category this pool was built for.
	Kind Kind `json:"kind"`

	// Items is the ordered pool, slot-priority order.
	Items []PoolEntry `json:"items"`

	// UpdatedAt is when the pool was computed.
	UpdatedAt time.Time `json:"updated_at"`

	// ExpiresAt is UpdatedAt plus the policy cache TTL.
	ExpiresAt time.Time `json:"expires_at"`

	// FromCache is true when the result was served from the pool cache.
	FromCache bool `json:"from_cache"`

	// PolicyHash fingerprints the policy fields that affected selection.
	PolicyHash string `json:"policy_hash"`

	// SlotSummary holds realized per-slot counts. These may fall below the
	// slot targets when the candidate pool was exhausted.
	SlotSummary map[string]int `json:"slot_summary"`

	// Shortfall is true when the pool could not be filled to the configured
	// size because candidates ran out.
	Shortfall bool `json:"shortfall"`

	// MatchesPolicy is false when a cached result predates a policy change.
	// A mismatched pool must not be treated as ready without a refresh.
	MatchesPolicy bool `json:"matches_policy"`
}

// Clone returns a deep-enough copy: the items slice is copied so callers
// cannot corrupt engine state, item contents are treated as immutable.
func (r *PoolResult) Clone() *PoolResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Items = make([]PoolEntry, len(r.Items))
	copy(cp.Items, r.Items)
	cp.SlotSummary = make(map[string]int, len(r.SlotSummary))
	for name, n := range r.SlotSummary {
		cp.SlotSummary[name] = n
	}
	return &cp
}

// PoolIDs returns the set of pool identifiers, used as anti-repeat history
// for the next allocation.
func (r *PoolResult) PoolIDs() map[string]struct{} {
	if r == nil {
		return nil
	}
	ids := make(map[string]struct{}, len(r.Items))
	for i := range r.Items {
		ids[r.Items[i].PoolID] = struct{}{}
	}
	return ids
}

// PipelineState is the per-kind orchestrator state machine value.
type PipelineState int

const (
	// StateIdle means no pool has been requested yet.
	StateIdle PipelineState = iota
	// StateLoading means a fetch is in flight with no usable pool.
	StateLoading
	// StateReady means a fresh, policy-matching pool is available.
	StateReady
	// StateStale means the pool is past its TTL but within grace.
	StateStale
	// StateError means no usable pool exists and the last fetch failed.
	StateError
	// StateDisabled is a terminal override entered when the feature flag
	// resolves to off.
	StateDisabled
)

// String returns a human-readable state name.
func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateStale:
		return "stale"
	case StateError:
		return "error"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s PipelineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PipelineState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "loading":
		*s = StateLoading
	case "ready":
		*s = StateReady
	case "stale":
		*s = StateStale
	case "error":
		*s = StateError
	case "disabled":
		*s = StateDisabled
	default:
		return fmt.Errorf("unknown pipeline state %q", b)
	}
	return nil
}

// PipelineStatus is the observable per-kind pipeline state. One instance per
// kind, created at orchestrator initialization and mutated only by the
// orchestrator; callers receive value copies.
type PipelineStatus struct {
	// Kind is the content category this status describes.
	Kind Kind `json:"kind"`

	// State is the state machine value.
	State PipelineState `json:"state"`

	// Regenerating is true only while a refresh is in flight over an
	// already usable pool.
	Regenerating bool `json:"regenerating"`

	// LastError records the most recent fetch failure, empty when none.
	LastError string `json:"last_error,omitempty"`

	// LastRefresh is when the pool was last successfully refreshed.
	LastRefresh time.Time `json:"last_refresh"`

	// RateLimited mirrors the enrichment client's throttle state for
	// observability.
	RateLimited bool `json:"rate_limited"`
}

// RateLimitState is the enrichment client's observed throttle condition.
// Mutated only by the enrichment client; everyone else reads.
type RateLimitState struct {
	// Active is true while the backoff window is open.
	Active bool `json:"active"`

	// Until is when the backoff window closes.
	Until time.Time `json:"until"`

	// RetryAfter is the server-suggested or computed backoff duration.
	RetryAfter time.Duration `json:"retry_after_ms"`

	// LastStatus is the last upstream HTTP status, 0 when none observed.
	LastStatus int `json:"last_status,omitempty"`

	// Strikes counts consecutive throttle events (timeouts included).
	Strikes int `json:"strikes"`
}
