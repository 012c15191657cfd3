// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

// Package testinfra provides test infrastructure for integration testing with containers.
//
// This package uses testcontainers-go to run a real Redis server so the Redis
// Streams log, the Lua projection script and Pub/Sub fan-out are exercised
// against the production server rather than fakes.
//
//	//go:build integration
//
//	func TestRedisLog(t *testing.T) {
//	    rdb := testinfra.NewRedisClient(t)
//	    log := stream.NewRedisLog(rdb)
//	    // ...
//	}
//
// Run with:
//
//	go test -tags integration ./...
//
// Tests are skipped gracefully if Docker is unavailable. First runs pull the
// Redis image; later runs use the local cache.
package testinfra
