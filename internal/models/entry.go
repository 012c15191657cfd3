// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ErrMalformedEntry is returned when a log entry cannot be decoded. Such an
// entry can never be processed successfully and is acknowledged as a poison pill.
var ErrMalformedEntry = errors.New("malformed log entry")

// Wire field names of a log entry.
const (
	FieldDomain  = "domain"
	FieldJobID   = "job_id"
	FieldType    = "type"
	FieldStage   = "stage"
	FieldStatus  = "status"
	FieldTS      = "ts"
	FieldSeq     = "seq"
	FieldPayload = "payload"
)

// Payload is the opaque part of a log entry.
type Payload struct {
	Progress *float64       `json:"progress,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Token    string          `json:"token,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// LogEntry is one event appended by a producer to a log shard.
type LogEntry struct {
	Domain    string
	Shard     string
	ID        string
	JobID     string
	Kind      Kind
	Stage     string
	Status    string
	Timestamp time.Time
	Seq       int64
	Payload   Payload
}

// ParseLogEntry decodes the field map of a stream entry. All failures wrap ErrMalformedEntry.
func ParseLogEntry(id, domain, shard string, values map[string]any) (*LogEntry, error) {
	entry := &LogEntry{ID: id, Domain: domain, Shard: shard}

	entry.JobID = fieldString(values, FieldJobID)
	if entry.JobID == "" {
		return nil, fmt.Errorf("%w: entry %s has no job_id", ErrMalformedEntry, id)
	}
	if d := fieldString(values, FieldDomain); d != "" {
		entry.Domain = d
	}
	entry.Stage = fieldString(values, FieldStage)
	entry.Status = fieldString(values, FieldStatus)

	if t := fieldString(values, FieldType); t != "" {
		entry.Kind = ParseKind(t)
	} else {
		entry.Kind = kindFromStage(entry.Stage)
	}

	if raw := fieldString(values, FieldTS); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %s has invalid ts %q", ErrMalformedEntry, id, raw)
		}
		entry.Timestamp = time.UnixMilli(ms).UTC()
	} else if ts, ok := timestampFromID(id); ok {
		entry.Timestamp = ts
	}

	if raw := fieldString(values, FieldSeq); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %s has invalid seq %q", ErrMalformedEntry, id, raw)
		}
		entry.Seq = seq
	}

	if raw := fieldString(values, FieldPayload); raw != "" {
		if err := json.Unmarshal([]byte(raw), &entry.Payload); err != nil {
			return nil, fmt.Errorf("%w: entry %s payload: %v", ErrMalformedEntry, id, err)
		}
	}

	return entry, nil
}

// Fields encodes the entry into the field map appended to a stream.
func (e *LogEntry) Fields() (map[string]any, error) {
	values := map[string]any{
		FieldJobID: e.JobID,
		FieldType:  string(e.Kind),
		FieldStage: e.Stage,
		FieldSeq:   strconv.FormatInt(e.Seq, 10),
	}
	if e.Domain != "" {
		values[FieldDomain] = e.Domain
	}
	if e.Status != "" {
		values[FieldStatus] = e.Status
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	values[FieldTS] = strconv.FormatInt(ts.UnixMilli(), 10)

	if e.Payload.Progress != nil || len(e.Payload.Result) > 0 || e.Payload.Token != "" || e.Payload.Message != "" {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		values[FieldPayload] = string(data)
	}
	return values, nil
}

// Envelope converts the entry into the client-facing envelope.
func (e *LogEntry) Envelope() *Envelope {
	return &Envelope{
		Kind:      e.Kind,
		Domain:    e.Domain,
		JobID:     e.JobID,
		EntryID:   e.ID,
		Stage:     e.Stage,
		Status:    e.Status,
		Progress:  e.Payload.Progress,
		Result:    e.Payload.Result,
		Token:     e.Payload.Token,
		Message:   e.Payload.Message,
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
	}
}

func kindFromStage(stage string) Kind {
	switch strings.ToLower(stage) {
	case "done":
		return KindDone
	case "error":
		return KindError
	default:
		return KindStage
	}
}

func fieldString(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// timestampFromID extracts the millisecond part of a stream entry ID ("<ms>-<seq>").
func timestampFromID(id string) (time.Time, bool) {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(n).UTC(), true
}
