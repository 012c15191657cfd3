// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"
)

// NATSServer is the lifecycle of an in-process NATS server.
//
// Satisfied by *fanout.EmbeddedNATS.
type NATSServer interface {
	IsRunning() bool
	Shutdown(ctx context.Context) error
}

// EmbeddedNATSService owns a started in-process NATS server. It watches the
// server and shuts it down when the tree stops. A server that dies on its own
// cannot be restarted in place, so that terminates the tree.
type EmbeddedNATSService struct {
	server          NATSServer
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	name            string
}

// NewEmbeddedNATSService wraps server. A non-positive shutdownTimeout means 10s.
func NewEmbeddedNATSService(server NATSServer, shutdownTimeout time.Duration) *EmbeddedNATSService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &EmbeddedNATSService{
		server:          server,
		checkInterval:   time.Second,
		shutdownTimeout: shutdownTimeout,
		name:            "nats-embedded",
	}
}

// Serve implements suture.Service.
func (s *EmbeddedNATSService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("embedded NATS shutdown failed: %w", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if !s.server.IsRunning() {
				return fmt.Errorf("embedded NATS server stopped: %w", suture.ErrTerminateSupervisorTree)
			}
		}
	}
}

// String implements fmt.Stringer for suture logs.
func (s *EmbeddedNATSService) String() string {
	return s.name
}
