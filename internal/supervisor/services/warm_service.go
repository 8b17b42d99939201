// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/marqueelabs/marquee/internal/heropool"
)

// warmInterval paces the pool warmer. Each pass goes through the engine's
// normal cache path, so a pass over fresh pools costs nothing and a pass
// over stale ones kicks off their background refresh.
const warmInterval = time.Minute

// WarmService keeps hero pools warm so the first viewer after a TTL expiry
// is never the one paying for a rebuild.
type WarmService struct {
	engine *heropool.Engine
	logger zerolog.Logger
}

// NewWarmService creates the pool warmer.
func NewWarmService(engine *heropool.Engine, logger zerolog.Logger) *WarmService {
	return &WarmService{
		engine: engine,
		logger: logger.With().Str("component", "warmer").Logger(),
	}
}

// String implements suture's service naming.
func (s *WarmService) String() string {
	return "pool-warmer"
}

// Serve warms all kinds immediately, then on every interval, until the
// context is canceled.
func (s *WarmService) Serve(ctx context.Context) error {
	s.warm(ctx)

	ticker := time.NewTicker(warmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.warm(ctx)
		}
	}
}

func (s *WarmService) warm(ctx context.Context) {
	for _, kind := range heropool.Kinds() {
		_, err := s.engine.Hero(ctx, kind)
		switch {
		case err == nil:
		case errors.Is(err, heropool.ErrDisabled):
			// Disabled is terminal until the override flips; nothing to warm.
			return
		case errors.Is(err, heropool.ErrInsufficientCandidates):
			s.logger.Debug().Str("kind", kind.String()).Msg("library too small to warm")
		default:
			s.logger.Warn().Err(err).Str("kind", kind.String()).Msg("pool warm failed")
		}
	}
}
