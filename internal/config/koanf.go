// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package config

import (
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/herald/config.yaml",
	"/etc/herald/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix starts every structured environment variable. Nested keys are
// separated by a double underscore: HERALD_STREAMS__BATCH_SIZE -> streams.batch_size.
const EnvPrefix = "HERALD_"

// domainsPath is the koanf path of the per-domain shard counts.
const domainsPath = "streams.domains"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			Environment:       "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			DialTimeout: 5 * time.Second,
		},
		Streams: StreamsConfig{
			Backend:    BackendRedis,
			Prefix:     "herald:events",
			Group:      "herald",
			BatchSize:  64,
			Block:      5 * time.Second,
			MaxBackoff: 30 * time.Second,
			MaxLen:     100000,
		},
		Reclaim: ReclaimConfig{
			Interval:   15 * time.Second,
			MinIdle:    60 * time.Second,
			BatchSize:  100,
			MaxPerPass: 1000,
		},
		State: StateConfig{
			Backend:         BackendRedis,
			KeyPrefix:       "herald:",
			MarkerTTL:       24 * time.Hour,
			StateTTL:        24 * time.Hour,
			TerminalTTL:     time.Hour,
			TokenTTL:        10 * time.Minute,
			TokenBufferSize: 512,
			Badger: BadgerConfig{
				Path:       "/data/herald",
				GCInterval: 5 * time.Minute,
			},
		},
		Fanout: FanoutConfig{
			Backend:        BackendRedis,
			ChannelPrefix:  "herald:",
			PublishTimeout: 2 * time.Second,
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				EmbeddedHost:  "127.0.0.1",
				EmbeddedPort:  4222,
				MaxReconnects: -1,
				ReconnectWait: 2 * time.Second,
			},
			Breaker: BreakerConfig{
				Enabled:          true,
				MaxRequests:      3,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Broadcast: BroadcastConfig{
			QueueSize:         1024,
			IdleTimeout:       10 * time.Minute,
			ReapInterval:      30 * time.Second,
			KeepaliveInterval: 15 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		API: APIConfig{
			RateLimitRequests: 60,
			RateLimitWindow:   time.Minute,
		},
		Health: HealthConfig{
			CheckTimeout:  2 * time.Second,
			LivenessGrace: 10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	if err := processDomainFields(k); err != nil {
		return nil, fmt.Errorf("failed to process %s: %w", domainsPath, err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if len(cfg.Streams.Domains) == 0 {
		cfg.Streams.Domains = maps.Clone(DefaultDomains)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"api.cors_allowed_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// processDomainFields replaces a "llm:4,vision:2" string (from the
// environment or a scalar YAML value) with the equivalent map.
func processDomainFields(k *koanf.Koanf) error {
	raw, ok := k.Get(domainsPath).(string)
	if !ok {
		return nil
	}
	domains, err := ParseDomains(raw)
	if err != nil {
		return err
	}
	k.Delete(domainsPath)
	if len(domains) == 0 {
		return nil
	}
	values := make(map[string]any, len(domains))
	for name, shards := range domains {
		values[name] = shards
	}
	return k.Set(domainsPath, values)
}

// ParseDomains parses a comma-separated list of domain[:shards] pairs.
// A domain without a count gets one shard.
func ParseDomains(s string) (map[string]int, error) {
	out := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, count, hasCount := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty domain name in %q", part)
		}
		shards := 1
		if hasCount {
			n, err := strconv.Atoi(strings.TrimSpace(count))
			if err != nil {
				return nil, fmt.Errorf("invalid shard count for domain %q: %w", name, err)
			}
			shards = n
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("domain %q listed twice", name)
		}
		out[name] = shards
	}
	return out, nil
}

// envMappings maps unprefixed environment variables to config paths.
var envMappings = map[string]string{
	"herald_stream_domains": domainsPath,

	"redis_addr":     "redis.addr",
	"redis_username": "redis.username",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"http_host":   "server.host",
	"http_port":   "server.port",
	"environment": "server.environment",

	"nats_url":      "fanout.nats.url",
	"nats_embedded": "fanout.nats.embedded",
	"badger_path":   "state.badger.path",
	"cors_origins":  "api.cors_allowed_origins",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - HERALD_STREAMS__BATCH_SIZE -> streams.batch_size
//   - HERALD_FANOUT__NATS__URL -> fanout.nats.url
//   - HERALD_STREAM_DOMAINS -> streams.domains
//   - REDIS_ADDR -> redis.addr
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	prefix := strings.ToLower(EnvPrefix)
	if rest, ok := strings.CutPrefix(key, prefix); ok && strings.Contains(rest, "__") {
		return strings.ReplaceAll(rest, "__", ".")
	}

	// For unmapped keys, return empty string to skip them
	return ""
}
