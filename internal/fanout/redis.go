// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannelPrefix prefixes Redis Pub/Sub channel names.
const DefaultRedisChannelPrefix = "herald:"

// RedisChannel implements Channel on Redis Pub/Sub.
type RedisChannel struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisChannel creates a Pub/Sub channel. The client is owned by the caller.
func NewRedisChannel(rdb redis.UniversalClient, prefix string) *RedisChannel {
	if prefix == "" {
		prefix = DefaultRedisChannelPrefix
	}
	return &RedisChannel{rdb: rdb, prefix: prefix}
}

func (c *RedisChannel) name(jobID string) string {
	return c.prefix + "jobs:" + jobID
}

// Publish implements Channel.
func (c *RedisChannel) Publish(ctx context.Context, jobID string, payload []byte) error {
	if err := c.rdb.Publish(ctx, c.name(jobID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", jobID, err)
	}
	return nil
}

// Subscribe implements Channel. It waits for the subscription confirmation
// so no message published after Subscribe returns is missed.
func (c *RedisChannel) Subscribe(ctx context.Context, jobID string) (Subscription, error) {
	ps := c.rdb.Subscribe(ctx, c.name(jobID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", jobID, err)
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan []byte, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

// Ping implements Channel.
func (c *RedisChannel) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close is a no-op; the client is owned by the caller.
func (c *RedisChannel) Close() error {
	return nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) forward() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
