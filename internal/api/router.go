// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

// Package api exposes the hero pool engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/marqueelabs/marquee/internal/heropool"
)

// RouterConfig controls cross-cutting router behavior.
type RouterConfig struct {
	// RateLimit is the per-client request cap per window. Zero disables it.
	RateLimit int

	// RateLimitWindow is the limiter window.
	RateLimitWindow time.Duration
}

// NewRouter builds the service router around an engine.
func NewRouter(engine *heropool.Engine, cfg RouterConfig, logger zerolog.Logger) http.Handler {
	h := &handlers{
		engine: engine,
		logger: logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(metricsMiddleware)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimit, cfg.RateLimitWindow))
		}

		r.Get("/status", h.statuses)
		r.Put("/hero/override", h.setOverride)

		r.Route("/hero/{kind}", func(r chi.Router) {
			r.Get("/", h.heroPool)
			r.Get("/status", h.status)
			r.Post("/refresh", h.refresh)

			r.Route("/rotation", func(r chi.Router) {
				r.Get("/", h.rotationState)
				r.Get("/plan", h.rotationPlan)
				r.Post("/advance", h.rotationAdvance)
				r.Post("/previous", h.rotationPrevious)
				r.Post("/select", h.rotationSelect)
				r.Post("/reset", h.rotationReset)
				r.Post("/pause", h.rotationPause)
				r.Post("/resume", h.rotationResume)
			})
		})
	})

	return r
}
