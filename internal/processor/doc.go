// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

// Package processor applies log entries exactly once.
//
// For each entry the state store atomically checks the published marker,
// upserts the job snapshot (or appends to the token index) and sets the
// marker. Entries that were not duplicates are then published to the
// fan-out channel. Publishing is best effort: a lost message is recovered
// by subscribers from the snapshot, so it never blocks acknowledgement.
package processor
