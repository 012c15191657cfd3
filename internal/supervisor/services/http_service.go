// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/herald/internal/logging"
)

// HTTPServer is the lifecycle subset of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// DrainFunc ends long-lived responses before the server shuts down.
// Event streams never go idle on their own, so http.Server.Shutdown would
// otherwise wait for its full timeout.
type DrainFunc func(ctx context.Context) error

// HTTPServerOption configures an HTTPServerService.
type HTTPServerOption func(*HTTPServerService)

// WithDrain registers fn to run before Shutdown.
func WithDrain(fn DrainFunc) HTTPServerOption {
	return func(h *HTTPServerService) {
		h.drain = fn
	}
}

// WithName overrides the service name used in supervisor logs.
func WithName(name string) HTTPServerOption {
	return func(h *HTTPServerService) {
		h.name = name
	}
}

// HTTPServerService wraps an HTTP server as a supervised service.
//
//	server := &http.Server{Addr: ":8080", Handler: router}
//	svc := services.NewHTTPServerService(server, 15*time.Second, services.WithDrain(manager.Shutdown))
//	tree.AddAPIService(svc)
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	drain           DrainFunc
	name            string
}

// NewHTTPServerService creates a new HTTP server service wrapper.
// A non-positive shutdownTimeout means 10s.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration, opts ...HTTPServerOption) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	h := &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            "http-server",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve implements suture.Service. It returns ctx.Err() after a graceful
// shutdown and a wrapped error when the listener fails.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	done := make(chan error, 1)
	go h.listen(done)

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: listen: %w", h.name, err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := h.stop(); err != nil {
		return err
	}
	<-done
	return ctx.Err()
}

// listen reports the listener's exit on done. ErrServerClosed is a clean exit.
func (h *HTTPServerService) listen(done chan<- error) {
	err := h.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	done <- err
}

// stop drains open streams and shuts the server down. Both share one
// shutdownTimeout budget detached from the canceled serve context.
func (h *HTTPServerService) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	if h.drain != nil {
		if err := h.drain(ctx); err != nil {
			logging.Warn().Err(err).Str("service", h.name).Msg("Drain before shutdown failed")
		}
	}
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", h.name, err)
	}
	return nil
}

// String implements fmt.Stringer for suture logs.
func (h *HTTPServerService) String() string {
	return h.name
}
