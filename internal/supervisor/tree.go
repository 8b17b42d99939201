// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

// Package supervisor assembles the suture service tree. Every long-running
// component (HTTP server, pool warmer, rotators, store maintenance) runs as
// a supervised service so a panic or transient failure restarts that one
// service instead of the process.
package supervisor

import (
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/marqueelabs/marquee/internal/logging"
)

// NewTree creates the root supervisor with restart backoff tuned for
// long-lived daemons and events routed into the structured log.
func NewTree(name string) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook(),
		FailureDecay:     30,
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
	})
}
