// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

// Package logging provides centralized zerolog-based structured logging for Herald.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("job_id", id).Msg("subscriber attached")
//	logging.Error().Err(err).Str("stream", key).Msg("read failed")
//
// Long-running components create a tagged child logger once and keep it:
//
//	logger := logging.WithComponent("reclaimer")
//
// # Configuration
//
// Environment variables (through internal/config):
//
//	LOG_LEVEL   - trace, debug, info, warn, error (default: info)
//	LOG_FORMAT  - json, console (default: json)
//	LOG_CALLER  - include caller file:line (default: false)
//
// # slog and Watermill
//
// Suture's event hook (sutureslog) and Watermill both take log/slog loggers.
// NewSlogLogger and NewWatermillLogger route them through the same zerolog
// output so every line shares field names.
//
// # Thread Safety
//
// All exported functions are safe for concurrent use.
package logging
