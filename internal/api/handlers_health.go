// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/herald/internal/models"
)

// HealthLive reports that the process is up, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, http.StatusOK, map[string]any{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady returns 503 when any registered component fails its check:
// a dead consumer or reclaimer loop, an unreachable Redis, or a fan-out
// channel that does not answer a ping.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overall := h.checker.CheckAll(r.Context())

	data := map[string]any{
		"ready":  overall.Healthy,
		"uptime": time.Since(h.startTime).Seconds(),
	}
	if !overall.Healthy {
		data["failing"] = overall.Failing()
		respondJSON(w, http.StatusServiceUnavailable, &models.APIResponse{
			Status:   "not_ready",
			Data:     data,
			Metadata: metadata(r),
		})
		return
	}
	respondSuccess(w, r, http.StatusOK, data)
}

// Health returns per-component detail and subscriber counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	overall := h.checker.CheckAll(r.Context())

	respondSuccess(w, r, http.StatusOK, map[string]any{
		"status":     overall.Status,
		"healthy":    overall.Healthy,
		"components": overall.Components,
		"broadcast":  h.manager.Stats(),
		"uptime":     time.Since(h.startTime).Seconds(),
	})
}
