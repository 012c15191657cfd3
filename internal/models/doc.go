// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package models defines the data structures shared across Herald.

Key Types:

  - LogEntry: one event appended by a producer to a log shard
  - Envelope: the client-facing event, published on the fan-out channel and written as SSE data
  - JobState: the latest projected snapshot of a job, used for catch-up
  - Kind: the event type union (stage, token, token_recovery, needs_input, error, done, keepalive, unknown)

Wire Format:

Log entries are flat string maps:

	job_id   required
	type     event kind (derived from stage when absent)
	stage    stage name
	status   stage status
	ts       unix milliseconds (entry ID time when absent)
	seq      per-job sequence number
	payload  JSON object with progress, result, token, message

Terminal Events:

An envelope is terminal when its kind is done or error, or when its stage is
named done or error. Terminal envelopes bypass duplicate filtering and are
never evicted from a subscriber queue.

JSON encoding uses goccy/go-json.
*/
package models
