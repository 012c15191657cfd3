// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

// Package health aggregates component health checks for the readiness
// endpoint. Checks run in parallel, each under its own timeout; a check that
// does not answer in time counts as unhealthy.
package health
