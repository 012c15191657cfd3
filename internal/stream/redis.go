// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLog implements Log on Redis Streams.
type RedisLog struct {
	rdb redis.UniversalClient
}

// NewRedisLog wraps a Redis client. The client is owned by the caller.
func NewRedisLog(rdb redis.UniversalClient) *RedisLog {
	return &RedisLog{rdb: rdb}
}

// EnsureGroup runs XGROUP CREATE ... MKSTREAM starting at the beginning of the stream.
func (l *RedisLog) EnsureGroup(ctx context.Context, key, group string) error {
	err := l.rdb.XGroupCreateMkStream(ctx, key, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create group %s on %s: %w", group, key, err)
	}
	return nil
}

// ReadGroup runs XREADGROUP ... STREAMS key >.
func (l *RedisLog) ReadGroup(ctx context.Context, key, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	if block <= 0 {
		// go-redis sends BLOCK 0 (wait forever) for a zero duration.
		block = -1
	}
	streams, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{key, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", key, err)
	}

	var msgs []Message
	for _, s := range streams {
		msgs = append(msgs, convertMessages(s.Messages)...)
	}
	return msgs, nil
}

// Ack runs XACK.
func (l *RedisLog) Ack(ctx context.Context, key, group string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := l.rdb.XAck(ctx, key, group, ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("xack %s: %w", key, err)
	}
	return n, nil
}

// AutoClaim runs XAUTOCLAIM. Redis 7 drops deleted entries from the pending
// list itself; older servers return them with nil values.
func (l *RedisLog) AutoClaim(ctx context.Context, key, group, consumer string, minIdle time.Duration, start string, count int64) ([]Message, string, error) {
	if start == "" {
		start = StartCursor
	}
	xmsgs, next, err := l.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   key,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("xautoclaim %s: %w", key, err)
	}
	return convertMessages(xmsgs), next, nil
}

// Pending runs XPENDING (summary form).
func (l *RedisLog) Pending(ctx context.Context, key, group string) (int64, error) {
	p, err := l.rdb.XPending(ctx, key, group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s: %w", key, err)
	}
	return p.Count, nil
}

// Append runs XADD with approximate MAXLEN trimming.
func (l *RedisLog) Append(ctx context.Context, key string, values map[string]any, maxLen int64) (string, error) {
	args := &redis.XAddArgs{
		Stream: key,
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	id, err := l.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", key, err)
	}
	return id, nil
}

// Ping checks the Redis connection.
func (l *RedisLog) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func convertMessages(xmsgs []redis.XMessage) []Message {
	msgs := make([]Message, 0, len(xmsgs))
	for _, m := range xmsgs {
		msgs = append(msgs, Message{ID: m.ID, Values: m.Values})
	}
	return msgs
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}
