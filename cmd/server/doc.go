// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package main is the Herald server.

Herald reads job lifecycle events from sharded durable logs, projects each job
to a snapshot exactly once, and relays events to browsers over Server-Sent
Events.

# Supervisor Tree

	herald
	├── data-layer       embedded NATS, Badger value-log GC
	├── ingest-layer     one consumer per shard, one reclaimer per domain
	├── messaging-layer  broadcast manager (idle reaper)
	└── api-layer        HTTP server

# Backends

Each stage picks a backend from configuration:

	streams.backend  redis | memory
	state.backend    redis | badger
	fanout.backend   redis | nats | memory

The memory backends run everything in one process for development.

# Signal Handling

SIGINT and SIGTERM cancel the tree. The HTTP service first closes every
event stream through the broadcast manager, then shuts the server down;
consumers finish their current batch before returning.

# Example

	HERALD_STREAM_DOMAINS="llm:4,vision:2" \
	REDIS_ADDR=redis:6379 \
	HERALD_FANOUT__BACKEND=nats NATS_EMBEDDED=true \
	./herald
*/
package main
