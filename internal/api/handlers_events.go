// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/herald/internal/broadcast"
	"github.com/tomtom215/herald/internal/logging"
	"github.com/tomtom215/herald/internal/metrics"
	"github.com/tomtom215/herald/internal/models"
	"github.com/tomtom215/herald/internal/validation"
)

// LastEventIDHeader is sent by EventSource on reconnect with the last frame id.
const LastEventIDHeader = "Last-Event-ID"

type eventsRequest struct {
	Service      string `validate:"required,max=128,identifier"`
	JobID        string `validate:"required,max=128,identifier"`
	LastTokenSeq int64  `validate:"gte=0"`
}

// errBadCursor reports a last_token_seq that is not an integer.
var errBadCursor = errors.New("last_token_seq must be an integer")

// lastTokenSeq reads the token cursor from the query, falling back to
// Last-Event-ID. A malformed Last-Event-ID is ignored; a malformed query
// parameter is an error.
func lastTokenSeq(r *http.Request) (int64, error) {
	if raw := r.URL.Query().Get("last_token_seq"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, errBadCursor
		}
		return seq, nil
	}
	if raw := r.Header.Get(LastEventIDHeader); raw != "" {
		if seq, err := strconv.ParseInt(raw, 10, 64); err == nil && seq > 0 {
			return seq, nil
		}
	}
	return 0, nil
}

// Events streams a job's events as text/event-stream.
//
// The stream starts with the latest snapshot and buffered tokens after the
// cursor, then relays live events. It ends after a terminal event, when the
// client goes away, or when the subscriber is closed by shutdown or the idle
// reaper.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	seq, err := lastTokenSeq(r)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, &models.APIResponse{
			Status:   "error",
			Metadata: metadata(r),
			Error: &models.APIError{
				Code:    "VALIDATION_ERROR",
				Message: err.Error(),
				Details: map[string]any{"field": "last_token_seq"},
			},
		})
		return
	}

	req := eventsRequest{
		Service:      chi.URLParam(r, "service"),
		JobID:        chi.URLParam(r, "jobID"),
		LastTokenSeq: seq,
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidationError(w, r, verr)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming not supported", nil)
		return
	}

	ctx := r.Context()
	logger := logging.Ctx(ctx).With().
		Str("service", req.Service).
		Str("job_id", req.JobID).
		Logger()

	sub, err := h.manager.Subscribe(ctx, req.JobID, broadcast.SubscribeOptions{LastTokenSeq: req.LastTokenSeq})
	if err != nil {
		if errors.Is(err, broadcast.ErrManagerClosed) || errors.Is(err, broadcast.ErrNotInitialized) {
			respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Event streaming is not available", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "SUBSCRIBE_FAILED", "Failed to subscribe to job events", err)
		return
	}
	defer h.manager.Unsubscribe(sub)

	if !sub.MarkStreaming() {
		respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Event streaming is not available", nil)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.SSEConnections.Inc()
	defer metrics.SSEConnections.Dec()

	logger.Debug().Int64("last_token_seq", req.LastTokenSeq).Msg("event stream opened")

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		finished, err := drain(w, sub)
		if err != nil {
			logger.Debug().Err(err).Msg("event stream write failed")
			return
		}
		flusher.Flush()
		if finished {
			logger.Debug().Msg("event stream finished")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			// Deliver what was buffered before the subscriber ended.
			if _, err := drain(w, sub); err == nil {
				flusher.Flush()
			}
			logger.Debug().Str("state", sub.State().String()).Msg("event stream closed")
			return
		case <-sub.Ready():
		case now := <-keepalive.C:
			if err := writeFrame(w, models.Keepalive(req.JobID, now.UTC())); err != nil {
				logger.Debug().Err(err).Msg("keepalive write failed")
				return
			}
			flusher.Flush()
			sub.Touch()
		}
	}
}

// drain writes every buffered envelope. It reports true once a terminal
// envelope has been written.
func drain(w http.ResponseWriter, sub *broadcast.Subscriber) (bool, error) {
	for {
		env, ok := sub.Pop()
		if !ok {
			return false, nil
		}
		if err := writeFrame(w, env); err != nil {
			return false, err
		}
		if env.IsTerminal() {
			return true, nil
		}
	}
}

// writeFrame writes one SSE frame. Token frames carry their seq as the
// event id so EventSource reconnects resume from it.
func writeFrame(w http.ResponseWriter, env *models.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	frame := make([]byte, 0, len(data)+64)
	if env.Kind.IsToken() && env.Seq > 0 {
		frame = append(frame, "id: "...)
		frame = strconv.AppendInt(frame, env.Seq, 10)
		frame = append(frame, '\n')
	}
	frame = append(frame, "event: "...)
	frame = append(frame, string(env.Kind)...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)

	if _, err := w.Write(frame); err != nil {
		return err
	}
	metrics.SSEEventsWritten.WithLabelValues(string(env.Kind)).Inc()
	return nil
}
