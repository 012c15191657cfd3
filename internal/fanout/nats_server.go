// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedNATSConfig configures the in-process NATS server.
type EmbeddedNATSConfig struct {
	Host string
	// Port -1 picks a random free port.
	Port         int
	ReadyTimeout time.Duration
}

// EmbeddedNATS runs a NATS server inside the process for single-node
// deployments. JetStream is off; fan-out only needs core subjects.
type EmbeddedNATS struct {
	server    *server.Server
	clientURL string
}

// StartEmbeddedNATS starts the server and waits until it accepts connections.
func StartEmbeddedNATS(cfg EmbeddedNATSConfig) (*EmbeddedNATS, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}

	ns, err := server.NewServer(&server.Options{
		ServerName: "herald-fanout",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  false,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(cfg.ReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s", cfg.ReadyTimeout)
	}

	return &EmbeddedNATS{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for clients.
func (e *EmbeddedNATS) ClientURL() string {
	return e.clientURL
}

// IsRunning reports whether the server is running.
func (e *EmbeddedNATS) IsRunning() bool {
	return e.server.Running()
}

// Shutdown stops the server and waits for it to exit or ctx to end.
func (e *EmbeddedNATS) Shutdown(ctx context.Context) error {
	e.server.Shutdown()
	done := make(chan struct{})
	go func() {
		e.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
