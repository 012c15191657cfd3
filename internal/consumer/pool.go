// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/herald/internal/stream"
)

// ErrStalled is returned by liveness checks when a loop stopped making progress.
var ErrStalled = errors.New("background loop stalled")

// Pool owns one Consumer per shard and one Reclaimer per domain.
type Pool struct {
	consumers  []*Consumer
	reclaimers []*Reclaimer
	cfg        Config
}

// NewPool builds the consumers and reclaimers for every shard in layout.
// An empty cfg.Name is replaced with DefaultName().
func NewPool(log stream.Log, layout stream.Layout, processor EntryProcessor, cfg Config, rcfg ReclaimConfig) *Pool {
	cfg = cfg.withDefaults()
	if cfg.Name == "" {
		cfg.Name = DefaultName()
	}

	p := &Pool{cfg: cfg}
	for _, domain := range layout.DomainNames() {
		shards := layout.DomainShards(domain)
		for _, shard := range shards {
			p.consumers = append(p.consumers, NewConsumer(log, shard, processor, cfg))
		}
		p.reclaimers = append(p.reclaimers, NewReclaimer(log, domain, shards, processor, cfg, rcfg))
	}
	return p
}

// DefaultName returns a consumer identity unique to this process.
func DefaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "herald"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Name returns the consumer identity used by every loop in the pool.
func (p *Pool) Name() string {
	return p.cfg.Name
}

// Consumers returns the shard consumers.
func (p *Pool) Consumers() []*Consumer {
	return p.consumers
}

// Reclaimers returns the per-domain reclaimers.
func (p *Pool) Reclaimers() []*Reclaimer {
	return p.reclaimers
}

// Services returns every loop as a suture service.
func (p *Pool) Services() []suture.Service {
	svcs := make([]suture.Service, 0, len(p.consumers)+len(p.reclaimers))
	for _, c := range p.consumers {
		svcs = append(svcs, c)
	}
	for _, r := range p.reclaimers {
		svcs = append(svcs, r)
	}
	return svcs
}

// CheckConsumers returns ErrStalled if any consumer has not completed a
// read within three block timeouts plus grace.
func (p *Pool) CheckConsumers(_ context.Context, grace time.Duration) error {
	limit := 3*p.cfg.Block + grace
	now := time.Now()
	for _, c := range p.consumers {
		if last := c.LastHeartbeat(); last.IsZero() || now.Sub(last) > limit {
			return fmt.Errorf("%w: %s", ErrStalled, c)
		}
	}
	return nil
}

// CheckReclaimers returns ErrStalled if any reclaimer missed three passes.
func (p *Pool) CheckReclaimers(_ context.Context, grace time.Duration) error {
	now := time.Now()
	for _, r := range p.reclaimers {
		limit := 3*r.Interval() + grace
		if last := r.LastHeartbeat(); last.IsZero() || now.Sub(last) > limit {
			return fmt.Errorf("%w: %s", ErrStalled, r)
		}
	}
	return nil
}
