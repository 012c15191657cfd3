// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Streams.Domains = map[string]int{"llm": 2}
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "no domains",
			mutate:  func(c *Config) { c.Streams.Domains = nil },
			wantErr: "at least one domain",
		},
		{
			name:    "zero shards",
			mutate:  func(c *Config) { c.Streams.Domains = map[string]int{"llm": 0} },
			wantErr: "greater than or equal to 1",
		},
		{
			name:    "domain with colon",
			mutate:  func(c *Config) { c.Streams.Domains = map[string]int{"a:b": 1} },
			wantErr: "must not contain",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "Port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "one of",
		},
		{
			name:    "bad group",
			mutate:  func(c *Config) { c.Streams.Group = "my group" },
			wantErr: "Group",
		},
		{
			name:    "zero batch",
			mutate:  func(c *Config) { c.Streams.BatchSize = 0 },
			wantErr: "BatchSize",
		},
		{
			name:    "redis addr missing",
			mutate:  func(c *Config) { c.Redis.Addr = "" },
			wantErr: "redis.addr is required",
		},
		{
			name: "redis not needed",
			mutate: func(c *Config) {
				c.Redis.Addr = ""
				c.Streams.Backend = BackendMemory
				c.State.Backend = BackendBadger
				c.State.Badger.InMemory = true
				c.Fanout.Backend = BackendMemory
			},
		},
		{
			name: "badger without path",
			mutate: func(c *Config) {
				c.State.Backend = BackendBadger
				c.State.Badger.Path = ""
			},
			wantErr: "state.badger.path",
		},
		{
			name: "in-memory badger in production",
			mutate: func(c *Config) {
				c.Server.Environment = "production"
				c.State.Backend = BackendBadger
				c.State.Badger.InMemory = true
			},
			wantErr: "not allowed in production",
		},
		{
			name: "on-disk badger with redis streams in production",
			mutate: func(c *Config) {
				c.Server.Environment = "production"
				c.State.Backend = BackendBadger
				c.State.Badger.Path = "/var/lib/herald"
			},
			wantErr: "only allowed in development",
		},
		{
			name: "badger with redis streams in staging",
			mutate: func(c *Config) {
				c.Server.Environment = "staging"
				c.State.Backend = BackendBadger
			},
			wantErr: "only allowed in development",
		},
		{
			name: "badger with memory streams in production",
			mutate: func(c *Config) {
				c.Server.Environment = "production"
				c.Streams.Backend = BackendMemory
				c.State.Backend = BackendBadger
			},
		},
		{
			name: "nats without url",
			mutate: func(c *Config) {
				c.Fanout.Backend = BackendNATS
				c.Fanout.NATS.URL = "not a url"
			},
			wantErr: "fanout.nats.url",
		},
		{
			name: "embedded nats ignores url",
			mutate: func(c *Config) {
				c.Fanout.Backend = BackendNATS
				c.Fanout.NATS.Embedded = true
				c.Fanout.NATS.URL = ""
			},
		},
		{
			name:    "min idle below block",
			mutate:  func(c *Config) { c.Reclaim.MinIdle = c.Streams.Block - time.Second },
			wantErr: "reclaim.min_idle",
		},
		{
			name: "keepalive equal to idle timeout",
			mutate: func(c *Config) {
				c.Broadcast.KeepaliveInterval = time.Minute
				c.Broadcast.IdleTimeout = time.Minute
			},
			wantErr: "broadcast.keepalive_interval",
		},
		{
			name: "keepalive above idle timeout",
			mutate: func(c *Config) {
				c.Broadcast.KeepaliveInterval = 2 * time.Minute
				c.Broadcast.IdleTimeout = time.Minute
			},
			wantErr: "must be less than broadcast.idle_timeout",
		},
		{
			name:    "zero keepalive",
			mutate:  func(c *Config) { c.Broadcast.KeepaliveInterval = 0 },
			wantErr: "KeepaliveInterval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_UnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Fanout.Backend = "kafka"
	// The struct tag rejects it first.
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if err := cfg.validateFanout(); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("validateFanout() = %v, want ErrUnknownBackend", err)
	}
}

func TestUsesRedis(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if !cfg.UsesRedis() {
		t.Error("defaults should use redis")
	}
	cfg.Streams.Backend = BackendMemory
	cfg.State.Backend = BackendBadger
	cfg.Fanout.Backend = BackendNATS
	if cfg.UsesRedis() {
		t.Error("UsesRedis() = true with no redis backend")
	}
}
