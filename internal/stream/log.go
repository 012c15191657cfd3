// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package stream

import (
	"context"
	"time"
)

// StartCursor is the cursor that begins (and ends) a reclaim scan.
const StartCursor = "0-0"

// Message is one entry read from a shard.
// Values is nil when the entry was deleted from the stream while still pending.
type Message struct {
	ID     string
	Values map[string]any
}

// Log is a sharded, append-only log with consumer-group semantics.
// Implementations: RedisLog (Redis Streams) and MemoryLog.
type Log interface {
	// EnsureGroup creates the consumer group on key, creating the stream if needed.
	// An existing group is not an error.
	EnsureGroup(ctx context.Context, key, group string) error

	// ReadGroup claims up to count new entries for consumer, blocking up to block.
	// It returns no messages and a nil error when the block timeout expires.
	ReadGroup(ctx context.Context, key, group, consumer string, count int64, block time.Duration) ([]Message, error)

	// Ack acknowledges entries, removing them from the group's pending list.
	Ack(ctx context.Context, key, group string, ids ...string) (int64, error)

	// AutoClaim transfers pending entries idle for at least minIdle to consumer,
	// scanning from start. It returns the claimed messages and the cursor to
	// continue from; StartCursor means the scan is complete.
	AutoClaim(ctx context.Context, key, group, consumer string, minIdle time.Duration, start string, count int64) ([]Message, string, error)

	// Pending returns the number of claimed but unacknowledged entries.
	Pending(ctx context.Context, key, group string) (int64, error)

	// Append adds an entry and returns its ID. When maxLen > 0 the stream is
	// trimmed to roughly that many entries.
	Append(ctx context.Context, key string, values map[string]any, maxLen int64) (string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
