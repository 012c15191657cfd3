// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	requestIDKey
	loggerKey
)

func fromContext[T any](ctx context.Context, key ctxKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

// GenerateCorrelationID returns an 8 character random ID.
func GenerateCorrelationID() string {
	return uuid.NewString()[:8]
}

// ContextWithCorrelationID stores id in ctx.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithNewCorrelationID stores a generated correlation ID in ctx.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext returns the correlation ID in ctx, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := fromContext[string](ctx, correlationIDKey)
	return id
}

// ContextWithRequestID stores the HTTP request ID in ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := fromContext[string](ctx, requestIDKey)
	return id
}

// ContextWithLogger makes Ctx start from logger instead of the global one.
//
//nolint:gocritic // zerolog.Logger is passed by value
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns a logger carrying the correlation and request IDs in ctx.
//
//	logging.Ctx(r.Context()).Info().Str("job_id", jobID).Msg("stream opened")
func Ctx(ctx context.Context) *zerolog.Logger {
	base, ok := fromContext[zerolog.Logger](ctx, loggerKey)
	if !ok {
		base = Logger()
	}

	lc := base.With()
	for _, f := range [...][2]string{
		{"correlation_id", CorrelationIDFromContext(ctx)},
		{"request_id", RequestIDFromContext(ctx)},
	} {
		if f[1] != "" {
			lc = lc.Str(f[0], f[1])
		}
	}
	l := lc.Logger()
	return &l
}
