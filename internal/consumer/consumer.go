// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package consumer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/tomtom215/herald/internal/logging"
	"github.com/tomtom215/herald/internal/metrics"
	"github.com/tomtom215/herald/internal/models"
	"github.com/tomtom215/herald/internal/state"
	"github.com/tomtom215/herald/internal/stream"
)

// EntryProcessor projects a single log entry. A nil error or an error
// wrapping models.ErrMalformedEntry authorizes acknowledgement.
type EntryProcessor interface {
	Process(ctx context.Context, shard stream.Shard, msg stream.Message) (state.Outcome, error)
}

// Config holds the read loop settings shared by every shard consumer.
type Config struct {
	// Group is the consumer group name.
	Group string
	// Name identifies this replica within the group.
	Name string
	// BatchSize is the maximum number of entries per read.
	BatchSize int64
	// Block is how long a read waits for new entries.
	Block time.Duration
	// MaxBackoff caps the delay between failed reads.
	MaxBackoff time.Duration
}

// DefaultConfig returns read loop defaults.
func DefaultConfig() Config {
	return Config{
		Group:      "herald",
		BatchSize:  64,
		Block:      5 * time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Group == "" {
		c.Group = def.Group
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Block <= 0 {
		c.Block = def.Block
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	return c
}

// Consumer reads one shard through the consumer group and acknowledges
// entries once the processor has durably projected them.
// It implements suture.Service.
type Consumer struct {
	log       stream.Log
	shard     stream.Shard
	processor EntryProcessor
	cfg       Config
	logger    zerolog.Logger
	heartbeat heartbeat
}

// NewConsumer creates a consumer for shard.
func NewConsumer(log stream.Log, shard stream.Shard, processor EntryProcessor, cfg Config) *Consumer {
	cfg = cfg.withDefaults()
	return &Consumer{
		log:       log,
		shard:     shard,
		processor: processor,
		cfg:       cfg,
		logger: logging.WithComponent("consumer").With().
			Str("shard", shard.Key).
			Str("consumer", cfg.Name).
			Logger(),
	}
}

// Serve runs the read loop until ctx is canceled. The batch in flight when
// ctx is canceled is processed and acknowledged before Serve returns.
func (c *Consumer) Serve(ctx context.Context) error {
	c.heartbeat.beat()
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info().Str("group", c.cfg.Group).Msg("consumer started")

	bo := newBackoff(c.cfg.MaxBackoff)
	for {
		if ctx.Err() != nil {
			c.logger.Info().Msg("consumer stopped")
			return ctx.Err()
		}
		c.heartbeat.beat()

		msgs, err := c.log.ReadGroup(ctx, c.shard.Key, c.cfg.Group, c.cfg.Name, c.cfg.BatchSize, c.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			metrics.StreamReadErrors.WithLabelValues(c.shard.Domain).Inc()
			wait := bo.NextBackOff()
			c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("read failed")
			if isNoGroup(err) {
				if gerr := c.log.EnsureGroup(ctx, c.shard.Key, c.cfg.Group); gerr != nil {
					c.logger.Warn().Err(gerr).Msg("recreate consumer group")
				}
			}
			sleep(ctx, wait)
			continue
		}
		bo.Reset()

		if len(msgs) == 0 {
			continue
		}
		metrics.StreamEntriesRead.WithLabelValues(c.shard.Domain).Add(float64(len(msgs)))

		// The batch finishes even if shutdown starts mid-way.
		c.handleBatch(context.WithoutCancel(ctx), msgs)
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	bo := backoff.WithContext(newBackoff(c.cfg.MaxBackoff), ctx)
	err := backoff.RetryNotify(func() error {
		return c.log.EnsureGroup(ctx, c.shard.Key, c.cfg.Group)
	}, bo, func(err error, wait time.Duration) {
		c.heartbeat.beat()
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("create consumer group failed")
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ensure group on %s: %w", c.shard.Key, err)
	}
	return nil
}

func (c *Consumer) handleBatch(ctx context.Context, msgs []stream.Message) {
	ack := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if processSafely(ctx, c.processor, c.shard, msg, c.logger) {
			ack = append(ack, msg.ID)
		}
	}
	acknowledge(ctx, c.log, c.shard, c.cfg.Group, ack, c.logger)
}

// LastHeartbeat returns the time the loop last made progress.
func (c *Consumer) LastHeartbeat() time.Time {
	return c.heartbeat.last()
}

// Shard returns the shard this consumer reads.
func (c *Consumer) Shard() stream.Shard {
	return c.shard
}

func (c *Consumer) String() string {
	return "consumer:" + c.shard.Key
}

// processSafely runs the processor and reports whether msg may be acknowledged.
func processSafely(ctx context.Context, p EntryProcessor, shard stream.Shard, msg stream.Message, logger zerolog.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("entry_id", msg.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("processor panicked")
			ok = false
		}
	}()

	_, err := p.Process(ctx, shard, msg)
	switch {
	case err == nil:
		return true
	case errors.Is(err, models.ErrMalformedEntry):
		return true
	default:
		logger.Warn().Err(err).Str("entry_id", msg.ID).Msg("entry left pending")
		return false
	}
}

func acknowledge(ctx context.Context, log stream.Log, shard stream.Shard, group string, ids []string, logger zerolog.Logger) {
	if len(ids) == 0 {
		return
	}
	n, err := log.Ack(ctx, shard.Key, group, ids...)
	if err != nil {
		logger.Warn().Err(err).Int("entries", len(ids)).Msg("ack failed")
		return
	}
	metrics.StreamEntriesAcked.WithLabelValues(shard.Domain).Add(float64(n))
}

func newBackoff(maxInterval time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0
	return bo
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func isNoGroup(err error) bool {
	return errors.Is(err, stream.ErrNoGroup) || strings.Contains(err.Error(), "NOGROUP")
}

type heartbeat struct {
	unixNano atomic.Int64
}

func (h *heartbeat) beat() {
	h.unixNano.Store(time.Now().UnixNano())
}

func (h *heartbeat) last() time.Time {
	n := h.unixNano.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
