// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

// Package metrics defines the Prometheus instrumentation surface. All
// collectors register on the default registry via promauto at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marquee"

var (
	// HeroPoolRefreshes counts pool builds by kind and outcome (ok, error).
	HeroPoolRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "heropool",
		Name:      "refreshes_total",
		Help:      "Hero pool builds by kind and outcome.",
	}, []string{"kind", "outcome"})

	// HeroPoolCacheHits counts pool requests served from cache, fresh or
	// stale.
	HeroPoolCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "heropool",
		Name:      "cache_hits_total",
		Help:      "Hero pool requests served from cache.",
	}, []string{"kind"})

	// HeroPoolCacheMisses counts pool requests that had to block on a build.
	HeroPoolCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "heropool",
		Name:      "cache_misses_total",
		Help:      "Hero pool requests that blocked on a pool build.",
	}, []string{"kind"})

	// HeroPoolShortfalls counts builds that could not fill the configured
	// pool size.
	HeroPoolShortfalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "heropool",
		Name:      "shortfalls_total",
		Help:      "Pool builds that ran out of candidates before reaching the configured size.",
	}, []string{"kind"})

	// HeroPoolBuildDuration observes wall time per pool build.
	HeroPoolBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "heropool",
		Name:      "build_duration_seconds",
		Help:      "Wall time of hero pool builds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// HeroRotationAdvances counts rotation frame changes by trigger
	// (auto, manual, select).
	HeroRotationAdvances = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rotation",
		Name:      "advances_total",
		Help:      "Rotation frame changes by kind and trigger.",
	}, []string{"kind", "trigger"})

	// EnrichmentRequests counts artwork enrichment calls by outcome
	// (ok, error, throttled, skipped).
	EnrichmentRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "enrichment",
		Name:      "requests_total",
		Help:      "Artwork enrichment upstream calls by outcome.",
	}, []string{"outcome"})

	// EnrichmentThrottled is 1 while the enrichment backoff window is open.
	EnrichmentThrottled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "enrichment",
		Name:      "throttled",
		Help:      "Whether the enrichment upstream backoff window is open.",
	})

	// EnrichmentBackoffSeconds is the current backoff duration.
	EnrichmentBackoffSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "enrichment",
		Name:      "backoff_seconds",
		Help:      "Current enrichment backoff duration in seconds.",
	})

	// HTTPRequests counts API requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes request latency by method and route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
