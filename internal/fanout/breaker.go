// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package fanout

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/herald/internal/logging"
	"github.com/tomtom215/herald/internal/metrics"
)

// BreakerConfig configures the circuit breaker guarding publishes.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the publish breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "fanout-publish",
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerChannel wraps a Channel so that publishes fail fast while the
// transport is unhealthy. Subscribe and Ping pass through unchanged.
type BreakerChannel struct {
	Channel
	cb   *gobreaker.CircuitBreaker[struct{}]
	name string
}

// NewBreakerChannel wraps inner with a circuit breaker.
func NewBreakerChannel(inner Channel, cfg BreakerConfig) *BreakerChannel {
	def := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}

	logger := logging.WithComponent("fanout")
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordBreakerTransition(name, from.String(), to.String(), int(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	return &BreakerChannel{
		Channel: inner,
		cb:      gobreaker.NewCircuitBreaker[struct{}](settings),
		name:    cfg.Name,
	}
}

// Publish implements Channel. While the breaker is open it returns
// gobreaker.ErrOpenState without touching the transport.
func (b *BreakerChannel) Publish(ctx context.Context, jobID string, payload []byte) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.Channel.Publish(ctx, jobID, payload)
	})
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}
	return err
}

// State returns the breaker state name.
func (b *BreakerChannel) State() string {
	return b.cb.State().String()
}
