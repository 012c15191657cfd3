// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package config provides centralized configuration management for Herald.

Configuration is loaded with koanf in three layers, later layers overriding
earlier ones:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: CONFIG_PATH, then config.yaml, config.yml,
    /etc/herald/config.yaml, /etc/herald/config.yml
 3. Environment variables

# Environment Variables

Any setting can be given as HERALD_ followed by its path, with a double
underscore between sections:

	HERALD_STREAMS__BATCH_SIZE=128
	HERALD_STATE__BACKEND=badger
	HERALD_FANOUT__NATS__EMBEDDED=true

A few short names are mapped explicitly:

  - HERALD_STREAM_DOMAINS: domain shard counts, e.g. "llm:4,vision:2"
  - REDIS_ADDR, REDIS_USERNAME, REDIS_PASSWORD, REDIS_DB
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER
  - HTTP_HOST, HTTP_PORT, ENVIRONMENT
  - NATS_URL, NATS_EMBEDDED, BADGER_PATH
  - CORS_ORIGINS: comma-separated list for api.cors_allowed_origins

Unrecognised variables are ignored.

# Backends

  - streams.backend: redis (default) or memory
  - state.backend: redis (default) or badger
  - fanout.backend: redis (default), nats or memory

The memory backends only reach subscribers in the same process.

# Validation

Validate runs the go-playground/validator struct tags through the validation
package, then cross-field rules: domain names, Redis address when a redis
backend is used, Badger path, NATS URL, reclaim.min_idle greater than
streams.block, and broadcast.keepalive_interval less than
broadcast.idle_timeout. Badger state keeps processed markers in one process,
so it is only accepted with redis streams in development.

# Example

	streams:
	  domains:
	    llm: 4
	    vision: 2
	  batch_size: 64
	state:
	  backend: redis
	  token_ttl: 10m
	fanout:
	  backend: nats
	  nats:
	    url: nats://nats:4222
*/
package config
