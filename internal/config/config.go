// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package config

import (
	"errors"
	"time"
)

// ErrUnknownBackend is returned when a backend name is not recognised.
var ErrUnknownBackend = errors.New("unknown backend")

// Backend names.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendNATS   = "nats"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Redis     RedisConfig     `koanf:"redis"`
	Streams   StreamsConfig   `koanf:"streams"`
	Reclaim   ReclaimConfig   `koanf:"reclaim"`
	State     StateConfig     `koanf:"state"`
	Fanout    FanoutConfig    `koanf:"fanout"`
	Broadcast BroadcastConfig `koanf:"broadcast"`
	API       APIConfig       `koanf:"api"`
	Health    HealthConfig    `koanf:"health"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port" validate:"gte=1,lte=65535"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0"`
	IdleTimeout       time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	Environment       string        `koanf:"environment" validate:"oneof=development staging production"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// RedisConfig holds the Redis connection used by the stream log, the redis
// state store and the redis fan-out channel.
type RedisConfig struct {
	Addr        string        `koanf:"addr"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db" validate:"gte=0,lte=15"`
	PoolSize    int           `koanf:"pool_size" validate:"gte=0"`
	DialTimeout time.Duration `koanf:"dial_timeout" validate:"gt=0"`
}

// StreamsConfig describes the sharded log and the consumer group.
type StreamsConfig struct {
	// Backend is redis, or memory for single-process development.
	Backend string `koanf:"backend" validate:"oneof=redis memory"`

	// Prefix starts every stream key: {prefix}:{domain}:{shard}.
	Prefix string `koanf:"prefix" validate:"required"`

	// Domains maps each domain to its shard count.
	Domains map[string]int `koanf:"domains" validate:"dive,gte=1,lte=1024"`

	Group        string        `koanf:"group" validate:"required,identifier"`
	ConsumerName string        `koanf:"consumer_name"`
	BatchSize    int64         `koanf:"batch_size" validate:"gte=1,lte=10000"`
	Block        time.Duration `koanf:"block" validate:"gt=0"`
	MaxBackoff   time.Duration `koanf:"max_backoff" validate:"gt=0"`

	// MaxLen is the approximate stream length kept by producers. 0 disables trimming.
	MaxLen int64 `koanf:"max_len" validate:"gte=0"`
}

// ReclaimConfig configures the pending-entry reclaimer.
type ReclaimConfig struct {
	Interval   time.Duration `koanf:"interval" validate:"gt=0"`
	MinIdle    time.Duration `koanf:"min_idle" validate:"gt=0"`
	BatchSize  int64         `koanf:"batch_size" validate:"gte=1,lte=10000"`
	MaxPerPass int           `koanf:"max_per_pass" validate:"gte=1"`
}

// StateConfig configures the job state store.
type StateConfig struct {
	Backend         string        `koanf:"backend" validate:"oneof=redis badger"`
	KeyPrefix       string        `koanf:"key_prefix"`
	MarkerTTL       time.Duration `koanf:"marker_ttl" validate:"gt=0"`
	StateTTL        time.Duration `koanf:"state_ttl" validate:"gt=0"`
	TerminalTTL     time.Duration `koanf:"terminal_ttl" validate:"gt=0"`
	TokenTTL        time.Duration `koanf:"token_ttl" validate:"gt=0"`
	TokenBufferSize int           `koanf:"token_buffer_size" validate:"gte=1"`
	Badger          BadgerConfig  `koanf:"badger"`
}

// BadgerConfig configures the embedded Badger store.
type BadgerConfig struct {
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"`
	SyncWrites bool          `koanf:"sync_writes"`
	GCInterval time.Duration `koanf:"gc_interval" validate:"gt=0"`
}

// FanoutConfig configures the fan-out channel.
type FanoutConfig struct {
	Backend        string        `koanf:"backend" validate:"oneof=redis nats memory"`
	ChannelPrefix  string        `koanf:"channel_prefix"`
	PublishTimeout time.Duration `koanf:"publish_timeout" validate:"gt=0"`
	NATS           NATSConfig    `koanf:"nats"`
	Breaker        BreakerConfig `koanf:"breaker"`
}

// NATSConfig configures the NATS fan-out transport.
type NATSConfig struct {
	URL string `koanf:"url"`

	// Embedded starts an in-process NATS server and connects to it.
	Embedded      bool          `koanf:"embedded"`
	EmbeddedHost  string        `koanf:"embedded_host"`
	EmbeddedPort  int           `koanf:"embedded_port" validate:"gte=-1,lte=65535"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait" validate:"gt=0"`
}

// BreakerConfig configures the circuit breaker around fan-out publishes.
type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	MaxRequests      uint32        `koanf:"max_requests" validate:"gte=1"`
	Interval         time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
}

// BroadcastConfig configures the subscription manager.
type BroadcastConfig struct {
	QueueSize         int           `koanf:"queue_size" validate:"gte=1,lte=65536"`
	IdleTimeout       time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ReapInterval      time.Duration `koanf:"reap_interval" validate:"gt=0"`
	KeepaliveInterval time.Duration `koanf:"keepalive_interval" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	// RateLimitRequests is the number of event-stream connections allowed per
	// client IP per RateLimitWindow. 0 disables the limit.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`

	// CORSAllowedOrigins lists browser origins allowed to open event streams.
	// Empty allows none; "*" allows any.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins" validate:"dive,required"`
}

// HealthConfig configures readiness checks.
type HealthConfig struct {
	CheckTimeout time.Duration `koanf:"check_timeout" validate:"gt=0"`
	// LivenessGrace is added to the expected heartbeat period of background loops.
	LivenessGrace time.Duration `koanf:"liveness_grace" validate:"gte=0"`
}

// DefaultDomains is used when no domain is configured.
var DefaultDomains = map[string]int{"default": 1}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// UsesRedis reports whether any component needs the Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Streams.Backend == BackendRedis ||
		c.State.Backend == BackendRedis ||
		c.Fanout.Backend == BackendRedis
}

// Load loads configuration from defaults, an optional YAML file and the environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
