// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package models

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Kind identifies the type of a job event. It is also the SSE event name.
type Kind string

// Known event kinds. KindUnknown covers kinds added by newer producers.
const (
	KindStage         Kind = "stage"
	KindToken         Kind = "token"
	KindTokenRecovery Kind = "token_recovery"
	KindNeedsInput    Kind = "needs_input"
	KindError         Kind = "error"
	KindDone          Kind = "done"
	KindKeepalive     Kind = "keepalive"
	KindUnknown       Kind = "unknown"
)

// ParseKind maps a wire value onto a Kind. Empty input yields KindStage,
// unrecognised input yields KindUnknown.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindStage
	case KindStage, KindToken, KindTokenRecovery, KindNeedsInput, KindError, KindDone, KindKeepalive:
		return k
	default:
		return KindUnknown
	}
}

// IsTerminal reports whether the kind ends a job.
func (k Kind) IsTerminal() bool {
	return k == KindDone || k == KindError
}

// IsToken reports whether the kind is a fine-grained streaming sub-event.
func (k Kind) IsToken() bool {
	return k == KindToken || k == KindTokenRecovery
}

// terminalStages are stage names that end a job regardless of kind.
var terminalStages = map[string]struct{}{
	"done":  {},
	"error": {},
}

// DedupKey identifies a (stage, status) pair within one job's event stream.
// Token events also carry their sequence number, since every token shares
// the same stage and status.
type DedupKey struct {
	Stage  string
	Status string
	Seq    int64
}

// Envelope is one event delivered to clients. It is the payload of the
// fan-out channel and the data of every SSE frame.
type Envelope struct {
	Kind      Kind            `json:"type"`
	Domain    string          `json:"domain,omitempty"`
	JobID     string          `json:"job_id"`
	EntryID   string          `json:"entry_id,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Status    string          `json:"status,omitempty"`
	Progress  *float64        `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Token     string          `json:"token,omitempty"`
	Message   string          `json:"message,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// IsTerminal reports whether the envelope ends the job stream.
// Terminal envelopes bypass dedup filtering and are never evicted.
func (e *Envelope) IsTerminal() bool {
	if e.Kind.IsTerminal() {
		return true
	}
	if e.Kind.IsToken() || e.Kind == KindKeepalive {
		return false
	}
	_, ok := terminalStages[strings.ToLower(e.Stage)]
	return ok
}

// DedupKey returns the key used for duplicate suppression.
func (e *Envelope) DedupKey() DedupKey {
	key := DedupKey{Stage: e.Stage, Status: e.Status}
	if e.Kind.IsToken() {
		key.Seq = e.Seq
	}
	return key
}

// Keepalive returns an envelope that carries only a timestamp.
func Keepalive(jobID string, now time.Time) *Envelope {
	return &Envelope{Kind: KindKeepalive, JobID: jobID, Timestamp: now}
}

// Marshal encodes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes a JSON envelope. Unknown kinds are kept as KindUnknown.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	env.Kind = ParseKind(string(env.Kind))
	return &env, nil
}
