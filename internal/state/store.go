// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package state

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/herald/internal/metrics"
	"github.com/tomtom215/herald/internal/models"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("state store closed")

// Outcome is the result of projecting one log entry.
type Outcome int

const (
	// OutcomeApplied means the marker was set and the job state (or token index) updated.
	OutcomeApplied Outcome = iota + 1
	// OutcomeStale means the marker was set but the job state already reflects a newer entry.
	OutcomeStale
	// OutcomeDuplicate means the marker already existed; nothing was written.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return metrics.OutcomeApplied
	case OutcomeStale:
		return metrics.OutcomeStale
	case OutcomeDuplicate:
		return metrics.OutcomeDuplicate
	default:
		return "unknown"
	}
}

// Store holds job snapshots, published markers and the token side index.
//
// Project performs, as one atomic operation: check the published marker for
// (job_id, entry_id); if absent, upsert the job state unless the entry is
// older than the stored state (token entries are appended to the token index
// instead); then set the marker. Any error means nothing was committed.
type Store interface {
	Project(ctx context.Context, entry *models.LogEntry) (Outcome, error)

	// Snapshot returns the latest job state, or nil when none exists.
	Snapshot(ctx context.Context, jobID string) (*models.JobState, error)

	// TokensSince returns buffered token envelopes with seq > afterSeq, in seq order.
	TokensSince(ctx context.Context, jobID string, afterSeq int64) ([]*models.Envelope, error)

	Ping(ctx context.Context) error
	Close() error
}

// Options controls key naming, retention and the token buffer.
type Options struct {
	// KeyPrefix is prepended to every key. Default: "herald:"
	KeyPrefix string

	// MarkerTTL bounds how long redelivery of an entry is recognised. Default: 24h
	MarkerTTL time.Duration

	// StateTTL is the snapshot lifetime while a job is running. Default: 24h
	StateTTL time.Duration

	// TerminalTTL is the snapshot lifetime after a done or error event. Default: 1h
	TerminalTTL time.Duration

	// TokenTTL is the lifetime of the token index, refreshed on each token. Default: 10m
	TokenTTL time.Duration

	// TokenBufferSize caps buffered tokens per job; the oldest are dropped. Default: 512
	TokenBufferSize int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		KeyPrefix:       "herald:",
		MarkerTTL:       24 * time.Hour,
		StateTTL:        24 * time.Hour,
		TerminalTTL:     time.Hour,
		TokenTTL:        10 * time.Minute,
		TokenBufferSize: 512,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.KeyPrefix == "" {
		o.KeyPrefix = d.KeyPrefix
	}
	if o.MarkerTTL <= 0 {
		o.MarkerTTL = d.MarkerTTL
	}
	if o.StateTTL <= 0 {
		o.StateTTL = d.StateTTL
	}
	if o.TerminalTTL <= 0 {
		o.TerminalTTL = d.TerminalTTL
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = d.TokenTTL
	}
	if o.TokenBufferSize <= 0 {
		o.TokenBufferSize = d.TokenBufferSize
	}
	return o
}

// stateTTL picks the snapshot lifetime for the state entry would leave behind.
func (o Options) stateTTL(entry *models.LogEntry) time.Duration {
	if entry.Envelope().IsTerminal() {
		return o.TerminalTTL
	}
	return o.StateTTL
}

// Keys embed the job ID as a hash tag so a job's keys share one cluster slot.

func (o Options) stateKey(jobID string) string {
	return o.KeyPrefix + "state:{" + jobID + "}"
}

func (o Options) markerKey(jobID, entryID string) string {
	return o.KeyPrefix + "published:{" + jobID + "}:" + entryID
}

func (o Options) tokensKey(jobID string) string {
	return o.KeyPrefix + "tokens:{" + jobID + "}"
}

// isOlder reports whether (seq, ts) is older than the stored (curSeq, curTS).
// Sequence numbers decide; timestamps only break ties.
func isOlder(seq, ts, curSeq, curTS int64) bool {
	if seq != curSeq {
		return seq < curSeq
	}
	return ts < curTS
}
