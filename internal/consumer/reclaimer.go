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
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/herald/internal/logging"
	"github.com/tomtom215/herald/internal/metrics"
	"github.com/tomtom215/herald/internal/stream"
)

// ReclaimConfig holds the pending-entry reclaimer settings.
type ReclaimConfig struct {
	// Interval between passes.
	Interval time.Duration
	// MinIdle is how long an entry must sit unacknowledged before it is stolen.
	MinIdle time.Duration
	// BatchSize is the COUNT passed to each auto-claim call.
	BatchSize int64
	// MaxPerPass bounds the entries claimed from one shard in one pass.
	MaxPerPass int64
}

// DefaultReclaimConfig returns reclaimer defaults.
func DefaultReclaimConfig() ReclaimConfig {
	return ReclaimConfig{
		Interval:   15 * time.Second,
		MinIdle:    60 * time.Second,
		BatchSize:  100,
		MaxPerPass: 1000,
	}
}

func (c ReclaimConfig) withDefaults() ReclaimConfig {
	def := DefaultReclaimConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.MinIdle <= 0 {
		c.MinIdle = def.MinIdle
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxPerPass <= 0 {
		c.MaxPerPass = def.MaxPerPass
	}
	return c
}

// Reclaimer steals entries left pending by dead consumers across every
// shard of one domain and pushes them through the processor again.
// It implements suture.Service.
type Reclaimer struct {
	log       stream.Log
	domain    string
	shards    []stream.Shard
	processor EntryProcessor
	group     string
	name      string
	cfg       ReclaimConfig
	logger    zerolog.Logger
	heartbeat heartbeat
}

// NewReclaimer creates a reclaimer for the given shards of domain. Claimed
// entries are transferred to the consumer named in cfg.
func NewReclaimer(log stream.Log, domain string, shards []stream.Shard, processor EntryProcessor, cfg Config, rcfg ReclaimConfig) *Reclaimer {
	cfg = cfg.withDefaults()
	return &Reclaimer{
		log:       log,
		domain:    domain,
		shards:    shards,
		processor: processor,
		group:     cfg.Group,
		name:      cfg.Name,
		cfg:       rcfg.withDefaults(),
		logger: logging.WithComponent("reclaimer").With().
			Str("domain", domain).
			Str("consumer", cfg.Name).
			Logger(),
	}
}

// Serve runs a pass every interval until ctx is canceled.
func (r *Reclaimer) Serve(ctx context.Context) error {
	r.heartbeat.beat()
	r.logger.Info().
		Int("shards", len(r.shards)).
		Dur("interval", r.cfg.Interval).
		Dur("min_idle", r.cfg.MinIdle).
		Msg("reclaimer started")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reclaimer stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunPass(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn().Err(err).Msg("reclaim pass incomplete")
			}
		}
	}
}

// RunPass scans every shard once and returns the joined per-shard errors.
// A failing shard never stops the others.
func (r *Reclaimer) RunPass(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.ReclaimPassDuration.Observe(time.Since(start).Seconds())
		r.heartbeat.beat()
	}()

	var errs []error
	for _, shard := range r.shards {
		if ctx.Err() != nil {
			break
		}
		if err := r.reclaimShard(ctx, shard); err != nil {
			metrics.ReclaimErrors.WithLabelValues(r.domain).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", shard.Key, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Reclaimer) reclaimShard(ctx context.Context, shard stream.Shard) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("shard", shard.Key).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("reclaim panicked")
			err = fmt.Errorf("reclaim panicked: %v", rec)
		}
	}()

	logger := r.logger.With().Str("shard", shard.Key).Logger()
	cursor := stream.StartCursor
	var claimed int64
	for claimed < r.cfg.MaxPerPass {
		count := min(r.cfg.BatchSize, r.cfg.MaxPerPass-claimed)
		msgs, next, err := r.log.AutoClaim(ctx, shard.Key, r.group, r.name, r.cfg.MinIdle, cursor, count)
		if err != nil {
			return err
		}
		claimed += int64(len(msgs))
		r.handleClaimed(context.WithoutCancel(ctx), shard, msgs, logger)

		if next == stream.StartCursor || next == "" {
			break
		}
		cursor = next
	}

	if claimed > 0 {
		logger.Info().Int64("claimed", claimed).Msg("reclaimed pending entries")
	}

	if pending, err := r.log.Pending(ctx, shard.Key, r.group); err == nil {
		metrics.StreamPending.WithLabelValues(shard.Key).Set(float64(pending))
	}
	return nil
}

func (r *Reclaimer) handleClaimed(ctx context.Context, shard stream.Shard, msgs []stream.Message, logger zerolog.Logger) {
	if len(msgs) == 0 {
		return
	}
	metrics.ReclaimedEntries.WithLabelValues(r.domain).Add(float64(len(msgs)))

	ack := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		// Trimmed or deleted while pending; nothing left to process.
		if msg.Values == nil {
			ack = append(ack, msg.ID)
			continue
		}
		if processSafely(ctx, r.processor, shard, msg, logger) {
			ack = append(ack, msg.ID)
		}
	}
	acknowledge(ctx, r.log, shard, r.group, ack, logger)
}

// LastHeartbeat returns the time the last pass finished.
func (r *Reclaimer) LastHeartbeat() time.Time {
	return r.heartbeat.last()
}

// Interval returns the pass interval.
func (r *Reclaimer) Interval() time.Duration {
	return r.cfg.Interval
}

func (r *Reclaimer) String() string {
	return "reclaimer:" + r.domain
}
