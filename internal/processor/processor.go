// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/herald/internal/fanout"
	"github.com/tomtom215/herald/internal/logging"
	"github.com/tomtom215/herald/internal/metrics"
	"github.com/tomtom215/herald/internal/models"
	"github.com/tomtom215/herald/internal/state"
	"github.com/tomtom215/herald/internal/stream"
)

// DefaultPublishTimeout bounds a single fan-out publish.
const DefaultPublishTimeout = 2 * time.Second

// Processor turns log entries into durable state and fan-out messages.
type Processor struct {
	store          state.Store
	channel        fanout.Channel
	publishTimeout time.Duration
	now            func() time.Time
	logger         zerolog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithPublishTimeout sets the per-publish timeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.publishTimeout = d
		}
	}
}

// New creates a Processor.
func New(store state.Store, channel fanout.Channel, opts ...Option) *Processor {
	p := &Processor{
		store:          store,
		channel:        channel,
		publishTimeout: DefaultPublishTimeout,
		now:            time.Now,
		logger:         logging.WithComponent("processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process projects one entry read from shard.
//
// A nil error authorizes acknowledgement. Errors wrapping models.ErrMalformedEntry
// should also be acknowledged; any other error leaves the entry pending for
// the reclaimer. Publish failures are logged and never returned.
func (p *Processor) Process(ctx context.Context, shard stream.Shard, msg stream.Message) (state.Outcome, error) {
	start := p.now()

	entry, err := models.ParseLogEntry(msg.ID, shard.Domain, shard.Key, msg.Values)
	if err != nil {
		metrics.RecordProcessed(shard.Domain, metrics.OutcomeMalformed, 0)
		p.logger.Warn().Err(err).
			Str("shard", shard.Key).
			Str("entry_id", msg.ID).
			Msg("dropping malformed entry")
		return 0, err
	}

	outcome, err := p.store.Project(ctx, entry)
	if err != nil {
		metrics.RecordProcessed(entry.Domain, metrics.OutcomeFailed, p.now().Sub(start))
		return 0, fmt.Errorf("project entry %s for job %s: %w", entry.ID, entry.JobID, err)
	}

	if outcome != state.OutcomeDuplicate {
		p.publish(ctx, entry)
	}

	metrics.RecordProcessed(entry.Domain, outcome.String(), p.now().Sub(start))
	if e := p.logger.Debug(); e.Enabled() {
		e.Str("job_id", entry.JobID).
			Str("entry_id", entry.ID).
			Str("stage", entry.Stage).
			Str("outcome", outcome.String()).
			Msg("entry processed")
	}
	return outcome, nil
}

func (p *Processor) publish(ctx context.Context, entry *models.LogEntry) {
	payload, err := entry.Envelope().Marshal()
	if err != nil {
		metrics.RecordPublish(err)
		p.logger.Error().Err(err).Str("job_id", entry.JobID).Msg("encode envelope")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	err = p.channel.Publish(pubCtx, entry.JobID, payload)
	metrics.RecordPublish(err)
	if err != nil {
		ev := p.logger.Warn()
		if errors.Is(err, context.Canceled) {
			ev = p.logger.Debug()
		}
		ev.Err(err).
			Str("job_id", entry.JobID).
			Str("entry_id", entry.ID).
			Msg("fan-out publish failed")
	}
}
