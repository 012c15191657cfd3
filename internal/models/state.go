// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// JobState is the latest known snapshot of a job, projected from its log entries.
type JobState struct {
	JobID       string          `json:"job_id"`
	Domain      string          `json:"domain,omitempty"`
	Kind        Kind            `json:"type"`
	Stage       string          `json:"stage"`
	Status      string          `json:"status,omitempty"`
	Progress    *float64        `json:"progress,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Message     string          `json:"message,omitempty"`
	LastSeq     int64           `json:"last_seq"`
	LastEntryID string          `json:"last_entry_id"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StateFromEntry builds the snapshot that entry would leave behind.
func StateFromEntry(e *LogEntry) *JobState {
	return &JobState{
		JobID:       e.JobID,
		Domain:      e.Domain,
		Kind:        e.Kind,
		Stage:       e.Stage,
		Status:      e.Status,
		Progress:    e.Payload.Progress,
		Result:      e.Payload.Result,
		Message:     e.Payload.Message,
		LastSeq:     e.Seq,
		LastEntryID: e.ID,
		UpdatedAt:   e.Timestamp,
	}
}

// Envelope returns the catch-up envelope for a late subscriber.
func (s *JobState) Envelope() *Envelope {
	kind := s.Kind
	if kind == "" {
		kind = KindStage
	}
	return &Envelope{
		Kind:      kind,
		Domain:    s.Domain,
		JobID:     s.JobID,
		EntryID:   s.LastEntryID,
		Stage:     s.Stage,
		Status:    s.Status,
		Progress:  s.Progress,
		Result:    s.Result,
		Message:   s.Message,
		Seq:       s.LastSeq,
		Timestamp: s.UpdatedAt,
	}
}

// IsTerminal reports whether the snapshot describes a finished job.
func (s *JobState) IsTerminal() bool {
	return s.Envelope().IsTerminal()
}
