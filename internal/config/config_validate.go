// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/tomtom215/herald/internal/validation"
)

// Validate checks struct tags first, then the cross-field rules.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateDomains(); err != nil {
		return err
	}

	if err := c.validateRedis(); err != nil {
		return err
	}

	if err := c.validateState(); err != nil {
		return err
	}

	if err := c.validateFanout(); err != nil {
		return err
	}

	if err := c.validateReclaim(); err != nil {
		return err
	}

	return c.validateBroadcast()
}

// validateDomains checks domain names. They become part of stream keys and
// koanf paths, so the key separators are not allowed.
func (c *Config) validateDomains() error {
	if len(c.Streams.Domains) == 0 {
		return fmt.Errorf("streams.domains must name at least one domain")
	}
	for name := range c.Streams.Domains {
		if err := validation.ValidateVar("streams.domains", name, "required,max=64,identifier"); err != nil {
			return err
		}
		if strings.ContainsAny(name, ".:") {
			return fmt.Errorf("streams.domains: domain %q must not contain '.' or ':'", name)
		}
	}
	return nil
}

func (c *Config) validateRedis() error {
	if !c.UsesRedis() {
		return nil
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when a redis backend is selected")
	}
	if _, _, err := net.SplitHostPort(c.Redis.Addr); err != nil {
		return fmt.Errorf("redis.addr must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateState() error {
	switch c.State.Backend {
	case BackendRedis:
		return nil
	case BackendBadger:
		if !c.State.Badger.InMemory && c.State.Badger.Path == "" {
			return fmt.Errorf("state.badger.path is required unless state.badger.in_memory is set")
		}
		if c.Streams.Backend == BackendRedis && c.State.Badger.InMemory && c.IsProduction() {
			return fmt.Errorf("state.badger.in_memory loses processed markers on restart and is not allowed in production")
		}
		// Badger markers are local to one process while a redis consumer
		// group is shared, so a reclaimed entry would be projected twice.
		if c.Streams.Backend == BackendRedis && !c.IsDevelopment() {
			return fmt.Errorf("state.backend badger with streams.backend redis is only allowed in development; use state.backend redis")
		}
		return nil
	default:
		return fmt.Errorf("state.backend %q: %w", c.State.Backend, ErrUnknownBackend)
	}
}

func (c *Config) validateFanout() error {
	switch c.Fanout.Backend {
	case BackendRedis, BackendMemory:
		return nil
	case BackendNATS:
		if c.Fanout.NATS.Embedded {
			return nil
		}
		u, err := url.Parse(c.Fanout.NATS.URL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("fanout.nats.url must be a valid URL, got %q", c.Fanout.NATS.URL)
		}
		return nil
	default:
		return fmt.Errorf("fanout.backend %q: %w", c.Fanout.Backend, ErrUnknownBackend)
	}
}

// validateReclaim keeps entries held by a live consumer out of reach of the reclaimer.
func (c *Config) validateReclaim() error {
	if c.Reclaim.MinIdle <= c.Streams.Block {
		return fmt.Errorf("reclaim.min_idle (%s) must be greater than streams.block (%s)",
			c.Reclaim.MinIdle, c.Streams.Block)
	}
	return nil
}

// validateBroadcast keeps quiet but healthy streams out of reach of the
// idle reaper, which counts keepalive writes as activity.
func (c *Config) validateBroadcast() error {
	if c.Broadcast.KeepaliveInterval >= c.Broadcast.IdleTimeout {
		return fmt.Errorf("broadcast.keepalive_interval (%s) must be less than broadcast.idle_timeout (%s)",
			c.Broadcast.KeepaliveInterval, c.Broadcast.IdleTimeout)
	}
	return nil
}
