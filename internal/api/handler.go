// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package api

import (
	"time"

	"github.com/tomtom215/herald/internal/broadcast"
	"github.com/tomtom215/herald/internal/health"
)

// Handler serves the event stream and health endpoints.
type Handler struct {
	manager   *broadcast.Manager
	checker   *health.Checker
	keepalive time.Duration
	startTime time.Time
}

// NewHandler creates a handler. Streams send keepalives at the manager's
// configured interval.
func NewHandler(manager *broadcast.Manager, checker *health.Checker) *Handler {
	return &Handler{
		manager:   manager,
		checker:   checker,
		keepalive: manager.Config().KeepaliveInterval,
		startTime: time.Now(),
	}
}
