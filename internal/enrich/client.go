// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

// Package enrich resolves remote hero artwork from a metadata upstream while
// protecting it (and pool build latency) with a local rate limiter, a
// circuit breaker, and Retry-After aware backoff. Throttling is a normal
// operating condition here, never an error to escalate.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/marqueelabs/marquee/internal/heropool"
	"github.com/marqueelabs/marquee/internal/metrics"
)

// Config controls the enrichment client.
type Config struct {
	// BaseURL is the metadata upstream, e.g. "https://artwork.example.com".
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates against the upstream. Empty disables the header.
	APIKey string `koanf:"api_key"`

	// Timeout bounds one upstream call. Timeouts count as throttle strikes
	// so a slow upstream degrades to local artwork instead of stalling
	// pool builds.
	Timeout time.Duration `koanf:"timeout"`

	// RequestsPerSecond caps the local call rate.
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	// Burst is the local limiter burst size.
	Burst int `koanf:"burst"`

	// BaseBackoff is the first backoff window when the upstream throttles
	// without a Retry-After hint. Subsequent strikes double it.
	BaseBackoff time.Duration `koanf:"base_backoff"`

	// MaxBackoff caps the computed backoff window.
	MaxBackoff time.Duration `koanf:"max_backoff"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           3 * time.Second,
		RequestsPerSecond: 4,
		Burst:             8,
		BaseBackoff:       30 * time.Second,
		MaxBackoff:        10 * time.Minute,
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
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %f", c.RequestsPerSecond)
	}
	if c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", c.Burst)
	}
	if c.BaseBackoff <= 0 || c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("backoff bounds invalid: base %v, max %v", c.BaseBackoff, c.MaxBackoff)
	}
	return nil
}

// StateListener receives throttle state changes.
type StateListener func(state heropool.RateLimitState)

// Client implements heropool.Enricher against an HTTP artwork upstream.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	logger  zerolog.Logger
	now     func() time.Time

	mu        sync.Mutex
	state     heropool.RateLimitState
	listeners map[int]StateListener
	nextSub   int
}

// artworkResponse is the upstream payload.
type artworkResponse struct {
	URL string `json:"url"`
}

// NewClient creates an enrichment client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid enrichment config: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:    logger.With().Str("component", "enrich").Logger(),
		now:       time.Now,
		listeners: make(map[int]StateListener),
	}

	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "enrichment",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			c.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("enrichment breaker state change")
		},
	})

	return c, nil
}

// State returns the current throttle condition. An elapsed backoff window is
// cleared lazily here and announced to listeners; strikes are kept so the
// next throttle escalates.
func (c *Client) State() heropool.RateLimitState {
	c.mu.Lock()
	if c.state.Active && !c.now().Before(c.state.Until) {
		c.state.Active = false
		snapshot := c.state
		listeners := c.listenersLocked()
		c.mu.Unlock()

		metrics.EnrichmentThrottled.Set(0)
		for _, l := range listeners {
			l(snapshot)
		}
		return snapshot
	}

	state := c.state
	c.mu.Unlock()
	return state
}

// OnStateChange registers a throttle state listener and returns its
// unsubscribe func. Listeners run outside the client lock.
func (c *Client) OnStateChange(listener StateListener) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = listener
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Enrich resolves an artwork URL for one item. It returns
// heropool.ErrThrottled while the backoff window or breaker is open; callers
// fall back to local artwork.
func (c *Client) Enrich(ctx context.Context, item heropool.CandidateItem) (string, error) {
	if c.State().Active {
		metrics.EnrichmentRequests.WithLabelValues("skipped").Inc()
		return "", heropool.ErrThrottled
	}

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.EnrichmentRequests.WithLabelValues("skipped").Inc()
		return "", fmt.Errorf("limiter wait: %w", err)
	}

	url, err := c.breaker.Execute(func() (string, error) {
		return c.fetch(ctx, item)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.EnrichmentRequests.WithLabelValues("throttled").Inc()
			return "", heropool.ErrThrottled
		case errors.Is(err, heropool.ErrThrottled):
			metrics.EnrichmentRequests.WithLabelValues("throttled").Inc()
			return "", err
		default:
			metrics.EnrichmentRequests.WithLabelValues("error").Inc()
			return "", err
		}
	}

	c.recordSuccess()
	metrics.EnrichmentRequests.WithLabelValues("ok").Inc()
	return url, nil
}

// fetch performs one upstream call.
func (c *Client) fetch(ctx context.Context, item heropool.CandidateItem) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint, err := url.Parse(c.cfg.BaseURL + "/artwork")
	if err != nil {
		return "", fmt.Errorf("build enrichment url: %w", err)
	}
	q := endpoint.Query()
	q.Set("kind", item.Kind.String())
	q.Set("id", item.ID)
	q.Set("title", item.Title)
	if item.Year != 0 {
		q.Set("year", strconv.Itoa(item.Year))
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build enrichment request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// A slow upstream is indistinguishable from a throttling one;
		// both open the backoff window.
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			c.recordThrottle(0, 0)
			return "", heropool.ErrThrottled
		}
		return "", fmt.Errorf("enrichment request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var payload artworkResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return "", fmt.Errorf("decode enrichment response: %w", err)
		}
		return payload.URL, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		c.recordThrottle(resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After"), c.now()))
		return "", heropool.ErrThrottled

	case resp.StatusCode == http.StatusNotFound:
		// No artwork known for this item, not a failure.
		return "", nil

	default:
		return "", fmt.Errorf("enrichment upstream returned %d", resp.StatusCode)
	}
}

// recordThrottle opens (or extends) the backoff window. The window honors the
// server's Retry-After when given, otherwise doubles per consecutive strike.
func (c *Client) recordThrottle(status int, retryAfter time.Duration) {
	c.mu.Lock()
	c.state.Strikes++
	backoff := retryAfter
	if backoff <= 0 {
		exp := math.Min(float64(c.state.Strikes-1), 10)
		backoff = time.Duration(float64(c.cfg.BaseBackoff) * math.Pow(2, exp))
	}
	if backoff > c.cfg.MaxBackoff {
		backoff = c.cfg.MaxBackoff
	}

	now := c.now()
	c.state.Active = true
	c.state.Until = now.Add(backoff)
	c.state.RetryAfter = backoff
	c.state.LastStatus = status
	snapshot := c.state
	listeners := c.listenersLocked()
	c.mu.Unlock()

	metrics.EnrichmentThrottled.Set(1)
	metrics.EnrichmentBackoffSeconds.Set(backoff.Seconds())
	c.logger.Warn().
		Int("status", status).
		Dur("backoff", backoff).
		Int("strikes", snapshot.Strikes).
		Msg("enrichment upstream throttled")

	for _, l := range listeners {
		l(snapshot)
	}
}

// recordSuccess clears the throttle state after a healthy call.
func (c *Client) recordSuccess() {
	c.mu.Lock()
	if c.state.Strikes == 0 && !c.state.Active {
		c.mu.Unlock()
		return
	}
	c.state = heropool.RateLimitState{}
	snapshot := c.state
	listeners := c.listenersLocked()
	c.mu.Unlock()

	metrics.EnrichmentThrottled.Set(0)
	metrics.EnrichmentBackoffSeconds.Set(0)
	c.logger.Info().Msg("enrichment upstream recovered")

	for _, l := range listeners {
		l(snapshot)
	}
}

func (c *Client) listenersLocked() []StateListener {
	out := make([]StateListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		out = append(out, l)
	}
	return out
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
