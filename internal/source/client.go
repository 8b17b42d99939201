// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

// Package source talks to the media server backend: it loads catalog
// candidates for local pool allocation and, when the backend computes pools
// itself, fetches those directly.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/marqueelabs/marquee/internal/heropool"
)

// Config controls the catalog client.
type Config struct {
	// BaseURL is the media server API root, e.g. "http://localhost:32400".
	BaseURL string `koanf:"base_url"`

	// Token authenticates against the media server.
	Token string `koanf:"token"`

	// Timeout bounds one API call.
	Timeout time.Duration `koanf:"timeout"`

	// MaxCandidates caps how many catalog items one candidate load returns.
	MaxCandidates int `koanf:"max_candidates"`

	// ServerPools makes the client fetch server-computed pools instead of
	// allocating locally. The engine still falls back to local allocation
	// when a fetch fails.
	ServerPools bool `koanf:"server_pools"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		MaxCandidates: 500,
	}
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must be set")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("max_candidates must be at least 1, got %d", c.MaxCandidates)
	}
	return nil
}

// Client implements heropool.CandidateSource and heropool.PoolFetcher over
// the media server HTTP API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// catalogItem is the backend's catalog payload for one library entry.
type catalogItem struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	AddedAt         int64    `json:"added_at"`
	Rating          *float64 `json:"rating"`
	Genres          []string `json:"genres"`
	Year            int      `json:"year"`
	DurationMinutes int      `json:"duration_minutes"`
	Thumb           string   `json:"thumb"`
}

// NewClient creates a catalog client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid source config: %w", err)
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "source").Logger(),
	}, nil
}

// ServerPools reports whether the backend should be asked for computed pools.
func (c *Client) ServerPools() bool {
	return c.cfg.ServerPools
}

// Candidates loads the catalog snapshot for one kind.
func (c *Client) Candidates(ctx context.Context, kind heropool.Kind) ([]heropool.CandidateItem, error) {
	var payload struct {
		Items []catalogItem `json:"items"`
	}
	params := url.Values{
		"kind":  {kind.String()},
		"limit": {fmt.Sprint(c.cfg.MaxCandidates)},
	}
	if err := c.get(ctx, "/api/v1/library/items", params, &payload); err != nil {
		return nil, fmt.Errorf("load candidates for %s: %w", kind, err)
	}

	candidates := make([]heropool.CandidateItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.ID == "" || item.Title == "" {
			continue
		}
		candidates = append(candidates, heropool.CandidateItem{
			ID:              item.ID,
			Kind:            kind,
			Title:           item.Title,
			AddedAt:         time.Unix(item.AddedAt, 0).UTC(),
			Rating:          item.Rating,
			Genres:          item.Genres,
			Year:            item.Year,
			DurationMinutes: item.DurationMinutes,
			Thumb:           item.Thumb,
		})
	}

	c.logger.Debug().Str("kind", kind.String()).Int("candidates", len(candidates)).Msg("catalog snapshot loaded")
	return candidates, nil
}

// FetchPool loads a server-computed pool for one kind.
func (c *Client) FetchPool(ctx context.Context, kind heropool.Kind) (*heropool.PoolResult, error) {
	var result heropool.PoolResult
	params := url.Values{"kind": {kind.String()}}
	if err := c.get(ctx, "/api/v1/hero/pool", params, &result); err != nil {
		return nil, fmt.Errorf("fetch server pool for %s: %w", kind, err)
	}

	result.Kind = kind
	if result.UpdatedAt.IsZero() {
		result.UpdatedAt = time.Now().UTC()
	}
	return &result, nil
}

// get performs one authenticated JSON GET against the backend.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint, err := url.Parse(c.cfg.BaseURL + path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("X-Api-Token", c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
