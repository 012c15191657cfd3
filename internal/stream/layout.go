// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package stream

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// DefaultPrefix is the key prefix of every log shard.
const DefaultPrefix = "herald:events"

// ErrUnknownDomain is returned when a domain has no configured shards.
var ErrUnknownDomain = errors.New("unknown domain")

// Shard is one partition of a domain's event stream.
type Shard struct {
	Domain string
	Index  int
	Key    string
}

func (s Shard) String() string {
	return s.Key
}

// Layout maps domains onto shard keys. Domains may have independently sized shard sets.
type Layout struct {
	Prefix  string
	Domains map[string]int
}

// NewLayout returns a layout with the default prefix when prefix is empty.
func NewLayout(prefix string, domains map[string]int) Layout {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Layout{Prefix: prefix, Domains: domains}
}

// Key returns the stream key for a (domain, shard) pair.
func (l Layout) Key(domain string, index int) string {
	return fmt.Sprintf("%s:%s:%d", l.Prefix, domain, index)
}

// DomainNames returns the configured domains in sorted order.
func (l Layout) DomainNames() []string {
	names := make([]string, 0, len(l.Domains))
	for d := range l.Domains {
		names = append(names, d)
	}
	sort.Strings(names)
	return names
}

// HasDomain reports whether domain is configured.
func (l Layout) HasDomain(domain string) bool {
	_, ok := l.Domains[domain]
	return ok
}

// DomainShards returns every shard of one domain.
func (l Layout) DomainShards(domain string) []Shard {
	n := l.Domains[domain]
	shards := make([]Shard, 0, n)
	for i := 0; i < n; i++ {
		shards = append(shards, Shard{Domain: domain, Index: i, Key: l.Key(domain, i)})
	}
	return shards
}

// Shards returns every (domain, shard) pair, ordered by domain then index.
func (l Layout) Shards() []Shard {
	var shards []Shard
	for _, d := range l.DomainNames() {
		shards = append(shards, l.DomainShards(d)...)
	}
	return shards
}

// ShardFor returns the shard a job's events are appended to.
func (l Layout) ShardFor(domain, jobID string) (Shard, error) {
	n, ok := l.Domains[domain]
	if !ok || n <= 0 {
		return Shard{}, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	idx := ShardIndex(jobID, n)
	return Shard{Domain: domain, Index: idx, Key: l.Key(domain, idx)}, nil
}

// ShardIndex hashes jobID onto one of count shards. The mapping is stable
// across processes so all of a job's events land on one shard.
func ShardIndex(jobID string, count int) int {
	if count <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(jobID) % uint64(count))
}
