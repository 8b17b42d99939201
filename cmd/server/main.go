// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

// Command server runs the Marquee sidecar: it builds, caches and rotates
// hero pools for a personal media library and serves them over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/marqueelabs/marquee/internal/api"
	"github.com/marqueelabs/marquee/internal/config"
	"github.com/marqueelabs/marquee/internal/enrich"
	"github.com/marqueelabs/marquee/internal/heropool"
	"github.com/marqueelabs/marquee/internal/logging"
	"github.com/marqueelabs/marquee/internal/source"
	"github.com/marqueelabs/marquee/internal/store"
	"github.com/marqueelabs/marquee/internal/supervisor"
	"github.com/marqueelabs/marquee/internal/supervisor/services"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("configuration error")
	}

	logging.Init(cfg.LoggingConfig())
	logger := logging.Logger()
	logger.Info().Str("listen", cfg.Server.Listen).Msg("marquee starting")

	poolStore, err := store.Open(store.Options{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
	}, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("pool store open failed")
	}
	defer poolStore.Close()

	catalog, err := source.NewClient(cfg.Source, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("source client init failed")
	}

	opts := heropool.Options{}
	if catalog.ServerPools() {
		opts.Fetcher = catalog
	}
	if cfg.EnrichmentEnabled() {
		enricher, err := enrich.NewClient(cfg.Enrichment, logger)
		if err != nil {
			logging.Fatal().Err(err).Msg("enrichment client init failed")
		}
		opts.Enricher = enricher
	} else {
		logger.Info().Msg("enrichment upstream not configured, using local artwork only")
	}

	cache := heropool.NewCache(poolStore, logger)
	engine, err := heropool.NewEngine(cfg.HeroPolicy(), catalog, cache, logger, opts)
	if err != nil {
		logging.Fatal().Err(err).Msg("engine init failed")
	}
	defer engine.Close()

	router := api.NewRouter(engine, api.RouterConfig{
		RateLimit:       cfg.Server.RateLimit,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	}, logger)

	server := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree("marquee")
	tree.Add(services.NewHTTPService(server, cfg.Server.ShutdownTimeout, logger))
	tree.Add(services.NewWarmService(engine, logger))
	tree.Add(poolStore)
	for _, rotator := range engine.Rotators() {
		tree.Add(rotator)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("supervisor exited")
	}
	logger.Info().Msg("marquee stopped")
}
