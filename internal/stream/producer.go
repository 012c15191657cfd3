// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/herald/internal/metrics"
	"github.com/tomtom215/herald/internal/models"
)

// Producer appends job events to the shard chosen by their job ID.
// Workers embed it; Herald itself uses it in tests and tooling.
type Producer struct {
	log    Log
	layout Layout
	maxLen int64
}

// NewProducer creates a producer. maxLen > 0 enables approximate retention trimming.
func NewProducer(log Log, layout Layout, maxLen int64) *Producer {
	return &Producer{log: log, layout: layout, maxLen: maxLen}
}

// Publish appends entry and returns the assigned entry ID.
// entry.Domain selects the shard set and entry.ID and entry.Shard are filled in.
func (p *Producer) Publish(ctx context.Context, entry *models.LogEntry) (string, error) {
	if entry.JobID == "" {
		return "", errors.New("publish: job_id is required")
	}
	shard, err := p.layout.ShardFor(entry.Domain, entry.JobID)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	if entry.Kind == "" {
		entry.Kind = models.KindStage
	}

	values, err := entry.Fields()
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	id, err := p.log.Append(ctx, shard.Key, values, p.maxLen)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}

	entry.ID = id
	entry.Shard = shard.Key
	metrics.StreamEntriesAppended.WithLabelValues(entry.Domain).Inc()
	return id, nil
}
