// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/herald/internal/api"
	"github.com/tomtom215/herald/internal/broadcast"
	"github.com/tomtom215/herald/internal/config"
	"github.com/tomtom215/herald/internal/consumer"
	"github.com/tomtom215/herald/internal/fanout"
	"github.com/tomtom215/herald/internal/health"
	"github.com/tomtom215/herald/internal/logging"
	"github.com/tomtom215/herald/internal/state"
	"github.com/tomtom215/herald/internal/stream"
)

// components holds the backends selected by configuration.
type components struct {
	redis   redis.UniversalClient
	log     stream.Log
	store   state.Store
	badger  *state.BadgerStore
	channel fanout.Channel
	breaker *fanout.BreakerChannel
	nats    *fanout.EmbeddedNATS
}

// buildComponents opens every backend. On error, whatever was opened is closed.
func buildComponents(cfg *config.Config) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	if cfg.UsesRedis() {
		c.redis = newRedisClient(cfg.Redis)
	}

	if c.log, err = buildLog(cfg, c.redis); err != nil {
		return nil, err
	}
	if c.store, c.badger, err = buildStore(cfg, c.redis); err != nil {
		return nil, err
	}
	if c.channel, c.nats, err = buildChannel(cfg, c.redis); err != nil {
		return nil, err
	}
	if cfg.Fanout.Breaker.Enabled {
		c.breaker = fanout.NewBreakerChannel(c.channel, breakerConfig(cfg.Fanout.Breaker))
		c.channel = c.breaker
	}
	return c, nil
}

// close releases backends in reverse order of opening.
func (c *components) close() {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing fan-out channel")
		}
	}
	if c.nats != nil && c.nats.IsRunning() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.nats.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Error shutting down embedded NATS")
		}
		cancel()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing state store")
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			logging.Warn().Err(err).Msg("Error closing Redis client")
		}
	}
}

func newRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       []string{cfg.Addr},
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
}

func buildLog(cfg *config.Config, rdb redis.UniversalClient) (stream.Log, error) {
	switch cfg.Streams.Backend {
	case config.BackendRedis:
		return stream.NewRedisLog(rdb), nil
	case config.BackendMemory:
		logging.Warn().Msg("Using in-memory stream log: entries are lost on restart and cannot be shared")
		return stream.NewMemoryLog(), nil
	default:
		return nil, fmt.Errorf("%w: streams.backend %q", config.ErrUnknownBackend, cfg.Streams.Backend)
	}
}

func buildStore(cfg *config.Config, rdb redis.UniversalClient) (state.Store, *state.BadgerStore, error) {
	opts := stateOptions(cfg.State)
	switch cfg.State.Backend {
	case config.BackendRedis:
		return state.NewRedisStore(rdb, opts), nil, nil
	case config.BackendBadger:
		store, err := state.OpenBadgerStore(state.BadgerConfig{
			Path:       cfg.State.Badger.Path,
			InMemory:   cfg.State.Badger.InMemory,
			SyncWrites: cfg.State.Badger.SyncWrites,
			GCInterval: cfg.State.Badger.GCInterval,
		}, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger state store: %w", err)
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("%w: state.backend %q", config.ErrUnknownBackend, cfg.State.Backend)
	}
}

func buildChannel(cfg *config.Config, rdb redis.UniversalClient) (fanout.Channel, *fanout.EmbeddedNATS, error) {
	switch cfg.Fanout.Backend {
	case config.BackendRedis:
		return fanout.NewRedisChannel(rdb, cfg.Fanout.ChannelPrefix), nil, nil
	case config.BackendMemory:
		return fanout.NewMemoryChannel(), nil, nil
	case config.BackendNATS:
		url := cfg.Fanout.NATS.URL
		var embedded *fanout.EmbeddedNATS
		if cfg.Fanout.NATS.Embedded {
			var err error
			embedded, err = fanout.StartEmbeddedNATS(fanout.EmbeddedNATSConfig{
				Host: cfg.Fanout.NATS.EmbeddedHost,
				Port: cfg.Fanout.NATS.EmbeddedPort,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("start embedded NATS: %w", err)
			}
			url = embedded.ClientURL()
			logging.Info().Str("url", url).Msg("Embedded NATS server started")
		}
		ch, err := fanout.NewNATSChannel(fanout.NATSConfig{
			URL:           url,
			MaxReconnects: cfg.Fanout.NATS.MaxReconnects,
			ReconnectWait: cfg.Fanout.NATS.ReconnectWait,
		})
		if err != nil {
			if embedded != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = embedded.Shutdown(ctx)
				cancel()
			}
			return nil, nil, fmt.Errorf("connect NATS fan-out: %w", err)
		}
		return ch, embedded, nil
	default:
		return nil, nil, fmt.Errorf("%w: fanout.backend %q", config.ErrUnknownBackend, cfg.Fanout.Backend)
	}
}

func stateOptions(cfg config.StateConfig) state.Options {
	return state.Options{
		KeyPrefix:       cfg.KeyPrefix,
		MarkerTTL:       cfg.MarkerTTL,
		StateTTL:        cfg.StateTTL,
		TerminalTTL:     cfg.TerminalTTL,
		TokenTTL:        cfg.TokenTTL,
		TokenBufferSize: cfg.TokenBufferSize,
	}
}

func breakerConfig(cfg config.BreakerConfig) fanout.BreakerConfig {
	return fanout.BreakerConfig{
		Name:             "fanout-publish",
		MaxRequests:      cfg.MaxRequests,
		Interval:         cfg.Interval,
		Timeout:          cfg.Timeout,
		FailureThreshold: cfg.FailureThreshold,
	}
}

func consumerConfig(cfg config.StreamsConfig) consumer.Config {
	return consumer.Config{
		Group:      cfg.Group,
		Name:       cfg.ConsumerName,
		BatchSize:  cfg.BatchSize,
		Block:      cfg.Block,
		MaxBackoff: cfg.MaxBackoff,
	}
}

func reclaimConfig(cfg config.ReclaimConfig) consumer.ReclaimConfig {
	return consumer.ReclaimConfig{
		Interval:   cfg.Interval,
		MinIdle:    cfg.MinIdle,
		BatchSize:  cfg.BatchSize,
		MaxPerPass: int64(cfg.MaxPerPass),
	}
}

func broadcastConfig(cfg config.BroadcastConfig) broadcast.Config {
	return broadcast.Config{
		QueueSize:         cfg.QueueSize,
		IdleTimeout:       cfg.IdleTimeout,
		ReapInterval:      cfg.ReapInterval,
		KeepaliveInterval: cfg.KeepaliveInterval,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}
}

func middlewareConfig(cfg config.APIConfig) *api.ChiMiddlewareConfig {
	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.CORSAllowedOrigins
	mw.RateLimitRequests = cfg.RateLimitRequests
	mw.RateLimitWindow = cfg.RateLimitWindow
	return mw
}

// registerHealth wires readiness checks for every backend and background loop.
func registerHealth(checker *health.Checker, c *components, pool *consumer.Pool, manager *broadcast.Manager, grace time.Duration) {
	if c.redis != nil {
		checker.Register("redis", health.CheckFunc(func(ctx context.Context) error {
			return c.redis.Ping(ctx).Err()
		}))
	}
	if c.badger != nil {
		checker.Register("state", health.CheckFunc(c.badger.Ping))
	}
	checker.Register("fanout", health.CheckFunc(c.channel.Ping))
	if c.breaker != nil {
		checker.Register("fanout_breaker", breakerCheck{c.breaker})
	}
	checker.Register("consumers", health.CheckFunc(func(ctx context.Context) error {
		return pool.CheckConsumers(ctx, grace)
	}))
	checker.Register("reclaimers", health.CheckFunc(func(ctx context.Context) error {
		return pool.CheckReclaimers(ctx, grace)
	}))
	checker.Register("broadcast", health.CheckFunc(manager.HealthCheck))
}

// breakerCheck reports a publish breaker that is not closed as degraded.
type breakerCheck struct {
	breaker *fanout.BreakerChannel
}

func (b breakerCheck) HealthCheck(context.Context) health.ComponentHealth {
	st := b.breaker.State()
	return health.ComponentHealth{
		Healthy:  true,
		Degraded: st != "closed",
		Message:  "breaker " + st,
	}
}
