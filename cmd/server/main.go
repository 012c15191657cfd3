// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/tomtom215/herald/internal/api"
	"github.com/tomtom215/herald/internal/broadcast"
	"github.com/tomtom215/herald/internal/config"
	"github.com/tomtom215/herald/internal/consumer"
	"github.com/tomtom215/herald/internal/health"
	"github.com/tomtom215/herald/internal/logging"
	"github.com/tomtom215/herald/internal/metrics"
	"github.com/tomtom215/herald/internal/processor"
	"github.com/tomtom215/herald/internal/stream"
	"github.com/tomtom215/herald/internal/supervisor"
	"github.com/tomtom215/herald/internal/supervisor/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Herald exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	layout := stream.NewLayout(cfg.Streams.Prefix, cfg.Streams.Domains)
	logging.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Str("streams", cfg.Streams.Backend).
		Str("state", cfg.State.Backend).
		Str("fanout", cfg.Fanout.Backend).
		Int("shards", len(layout.Shards())).
		Msg("Starting Herald")

	comps, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer comps.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proc := processor.New(comps.store, comps.channel, processor.WithPublishTimeout(cfg.Fanout.PublishTimeout))
	pool := consumer.NewPool(comps.log, layout, proc, consumerConfig(cfg.Streams), reclaimConfig(cfg.Reclaim))
	manager := broadcast.NewManager(comps.store, comps.channel, broadcastConfig(cfg.Broadcast))
	if err := manager.Init(ctx); err != nil {
		return fmt.Errorf("initialize broadcast manager: %w", err)
	}

	checker := health.NewChecker(health.Config{Timeout: cfg.Health.CheckTimeout})
	registerHealth(checker, comps, pool, manager, cfg.Health.LivenessGrace)

	handler := api.NewHandler(manager, checker)
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           api.NewRouter(handler, api.NewChiMiddleware(middlewareConfig(cfg.API))),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	if comps.nats != nil {
		tree.AddDataService(services.NewEmbeddedNATSService(comps.nats, cfg.Server.ShutdownTimeout))
	}
	if comps.badger != nil {
		tree.AddDataService(comps.badger)
	}
	tree.AddIngestServices(pool.Services())
	tree.AddMessagingService(manager)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout,
		services.WithDrain(manager.Shutdown)))

	logging.Info().
		Str("addr", server.Addr).
		Str("consumer", pool.Name()).
		Int("consumers", len(pool.Consumers())).
		Int("reclaimers", len(pool.Reclaimers())).
		Msg("Starting supervisor tree")

	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}
	stop()

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", serveErr)
	}
	logging.Info().Msg("Herald stopped")
	return nil
}
