// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/marqueelabs/marquee/internal/heropool"
)

type handlers struct {
	engine *heropool.Engine
	logger zerolog.Logger
}

// rotationStateResponse is the full scheduler view for one kind.
type rotationStateResponse struct {
	Kind         heropool.Kind           `json:"kind"`
	Current      *heropool.RotationFrame `json:"current,omitempty"`
	Progress     float64                 `json:"progress"`
	Paused       bool                    `json:"paused"`
	PauseReasons []string                `json:"pause_reasons"`
}

// pauseRequest names the reason being added or cleared.
type pauseRequest struct {
	Reason string `json:"reason"`
}

// selectRequest targets one rotation index.
type selectRequest struct {
	Index int `json:"index"`
}

// overrideRequest sets or clears the feature flag override. A null enabled
// restores the policy default.
type overrideRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready reports whether at least one kind has a usable pool or the feature
// is disabled on purpose.
func (h *handlers) ready(w http.ResponseWriter, _ *http.Request) {
	if !h.engine.Enabled() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	for _, status := range h.engine.Statuses() {
		if status.State == heropool.StateReady || status.State == heropool.StateStale {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "warming"})
}

func (h *handlers) heroPool(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.parseKind(w, r)
	if !ok {
		return
	}

	result, err := h.engine.Hero(r.Context(), kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.parseKind(w, r)
	if !ok {
		return
	}

	result, err := h.engine.Refresh(r.Context(), kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.parseKind(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status(kind))
}

func (h *handlers) statuses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":   h.engine.Enabled(),
		"pipelines": h.engine.Statuses(),
	})
}

func (h *handlers) setOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid json body")
		return
	}

	h.engine.SetEnabledOverride(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.engine.Enabled()})
}

func (h *handlers) rotationState(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.parseKind(w, r)
	if !ok {
		return
	}

	rotator := h.engine.Rotator(kind)
	resp := rotationStateResponse{
		Kind:         kind,
		Progress:     rotator.Progress(),
		Paused:       rotator.Paused(),
		PauseReasons: rotator.PauseReasons(),
	}
	if frame, ok := rotator.Current(); ok {
		resp.Current = &frame
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) rotationPlan(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.parseKind(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Rotator(kind).Plan())
}

func (h *handlers) rotationReset(w http.ResponseWriter, r *http.Request) {
	h.rotationJump(w, r, func(rot *heropool.Rotator) (heropool.RotationFrame, error) {
		return rot.Reset()
	})
}

func (h *handlers) rotationAdvance(w http.ResponseWriter, r *http.Request) {
	h.rotationJump(w, r, func(rot *heropool.Rotator) (heropool.RotationFrame, error) {
		return rot.Advance()
	})
}

func (h *handlers) rotationPrevious(w http.ResponseWriter, r *http.Request) {
	h.rotationJump(w, r, func(rot *heropool.Rotator) (heropool.RotationFrame, error) {
		return rot.Previous()
	})
}

func (h *handlers) rotationSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid json body")
		return
	}
	h.rotationJump(w, r, func(rot *heropool.Rotator) (heropool.RotationFrame, error) {
		return rot.Select(req.Index)
	})
}

func (h *handlers) rotationJump(w http.ResponseWriter, r *http.Request, jump func(*heropool.Rotator) (heropool.RotationFrame, error)) {
	kind, ok := h.parseKind(w, r)
	if !ok {
		return
	}

	frame, err := jump(h.engine.Rotator(kind))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func (h *handlers) rotationPause(w http.ResponseWriter, r *http.Request) {
	kind, reason, ok := h.parsePauseRequest(w, r)
	if !ok {
		return
	}
	h.engine.Rotator(kind).Pause(reason)
	h.rotationState(w, r)
}

func (h *handlers) rotationResume(w http.ResponseWriter, r *http.Request) {
	kind, reason, ok := h.parsePauseRequest(w, r)
	if !ok {
		return
	}
	h.engine.Rotator(kind).Resume(reason)
	h.rotationState(w, r)
}

func (h *handlers) parsePauseRequest(w http.ResponseWriter, r *http.Request) (heropool.Kind, string, bool) {
	kind, ok := h.parseKind(w, r)
	if !ok {
		return kind, "", false
	}

	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeErrorBody(w, http.StatusBadRequest, "reason is required")
		return kind, "", false
	}
	return kind, req.Reason, true
}

func (h *handlers) parseKind(w http.ResponseWriter, r *http.Request) (heropool.Kind, bool) {
	kind, err := heropool.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return kind, false
	}
	return kind, true
}

// writeError maps engine errors to HTTP statuses.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, heropool.ErrDisabled):
		writeErrorBody(w, http.StatusServiceUnavailable, "hero showcase is disabled")
	case errors.Is(err, heropool.ErrInsufficientCandidates):
		writeErrorBody(w, http.StatusServiceUnavailable, "not enough library items to build a pool")
	case errors.Is(err, heropool.ErrNoUsablePool):
		writeErrorBody(w, http.StatusBadGateway, "pool build failed and no cached pool exists")
	case errors.Is(err, heropool.ErrRotationSuppressed):
		writeErrorBody(w, http.StatusConflict, "rotation is suppressed for this pool")
	case errors.Is(err, r.Context().Err()):
		writeErrorBody(w, http.StatusGatewayTimeout, "request canceled")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled api error")
		writeErrorBody(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorBody(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
