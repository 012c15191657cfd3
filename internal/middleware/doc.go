// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package middleware provides chi-compatible HTTP middleware.

  - RequestID: X-Request-ID propagation plus request and correlation IDs in the
    logging context
  - PrometheusMetrics: request count, latency and in-flight gauge, labelled by
    route pattern

Both wrappers keep http.Flusher working, which event streams depend on.

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
*/
package middleware
