// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/herald/internal/fanout"
	"github.com/tomtom215/herald/internal/models"
	"github.com/tomtom215/herald/internal/state"
	"github.com/tomtom215/herald/internal/stream"
)

var testShard = stream.Shard{Domain: "llm", Index: 0, Key: "herald:events:llm:0"}

func newStore(t *testing.T) *state.BadgerStore {
	t.Helper()
	s, err := state.OpenBadgerStore(state.BadgerConfig{InMemory: true}, state.Options{})
	if err != nil {
		t.Fatalf("OpenBadgerStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// recordingChannel captures published payloads.
type recordingChannel struct {
	fanout.Channel
	mu       sync.Mutex
	payloads map[string][][]byte
	err      error
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{payloads: make(map[string][][]byte)}
}

func (c *recordingChannel) Publish(_ context.Context, jobID string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.payloads[jobID] = append(c.payloads[jobID], payload)
	return nil
}

func (c *recordingChannel) published(jobID string) []*models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Envelope, 0, len(c.payloads[jobID]))
	for _, p := range c.payloads[jobID] {
		env, err := models.UnmarshalEnvelope(p)
		if err != nil {
			panic(err)
		}
		out = append(out, env)
	}
	return out
}

type failingStore struct {
	state.Store
}

func (failingStore) Project(context.Context, *models.LogEntry) (state.Outcome, error) {
	return 0, errors.New("redis: connection refused")
}

func message(t *testing.T, id string, e *models.LogEntry) stream.Message {
	t.Helper()
	values, err := e.Fields()
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	return stream.Message{ID: id, Values: values}
}

func stage(jobID, stageName, status string, seq int64, ts time.Time) *models.LogEntry {
	return &models.LogEntry{
		JobID:     jobID,
		Kind:      models.KindStage,
		Stage:     stageName,
		Status:    status,
		Seq:       seq,
		Timestamp: ts,
	}
}

func TestProcessAppliesAndPublishes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	ch := newRecordingChannel()
	p := New(store, ch)

	ts := time.UnixMilli(1_700_000_000_000).UTC()
	out, err := p.Process(ctx, testShard, message(t, "1-0", stage("job-1", "weather", "started", 1, ts)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out != state.OutcomeApplied {
		t.Errorf("outcome = %v, want applied", out)
	}

	snap, err := store.Snapshot(ctx, "job-1")
	if err != nil || snap == nil {
		t.Fatalf("Snapshot = %v, %v", snap, err)
	}
	if snap.Stage != "weather" || snap.LastEntryID != "1-0" || snap.Domain != "llm" {
		t.Errorf("snapshot = %+v", snap)
	}

	envs := ch.published("job-1")
	if len(envs) != 1 {
		t.Fatalf("published %d envelopes, want 1", len(envs))
	}
	if envs[0].Stage != "weather" || envs[0].EntryID != "1-0" || !envs[0].Timestamp.Equal(ts) {
		t.Errorf("envelope = %+v", envs[0])
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	ch := newRecordingChannel()
	p := New(store, ch)

	msg := message(t, "5-0", stage("job-2", "weather", "started", 1, time.Now()))
	for i, want := range []state.Outcome{state.OutcomeApplied, state.OutcomeDuplicate, state.OutcomeDuplicate} {
		out, err := p.Process(ctx, testShard, msg)
		if err != nil {
			t.Fatalf("Process %d: %v", i, err)
		}
		if out != want {
			t.Errorf("Process %d outcome = %v, want %v", i, out, want)
		}
	}
	if n := len(ch.published("job-2")); n != 1 {
		t.Errorf("published %d times, want 1", n)
	}
}

func TestProcessStaleStillPublishes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	ch := newRecordingChannel()
	p := New(store, ch)

	now := time.Now()
	if _, err := p.Process(ctx, testShard, message(t, "2-0", stage("job-3", "news", "completed", 3, now))); err != nil {
		t.Fatalf("Process: %v", err)
	}
	out, err := p.Process(ctx, testShard, message(t, "1-0", stage("job-3", "weather", "completed", 2, now.Add(-time.Second))))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out != state.OutcomeStale {
		t.Errorf("outcome = %v, want stale", out)
	}

	snap, _ := store.Snapshot(ctx, "job-3")
	if snap == nil || snap.Stage != "news" {
		t.Errorf("stale entry overwrote snapshot: %+v", snap)
	}
	if n := len(ch.published("job-3")); n != 2 {
		t.Errorf("published %d envelopes, want 2", n)
	}
}

func TestProcessMalformed(t *testing.T) {
	t.Parallel()

	p := New(newStore(t), newRecordingChannel())
	tests := []struct {
		name   string
		values map[string]any
	}{
		{"no job id", map[string]any{"stage": "weather"}},
		{"bad seq", map[string]any{"job_id": "j", "seq": "x"}},
		{"bad payload", map[string]any{"job_id": "j", "payload": "{"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := p.Process(context.Background(), testShard, stream.Message{ID: "1-0", Values: tt.values})
			if !errors.Is(err, models.ErrMalformedEntry) {
				t.Errorf("expected ErrMalformedEntry, got %v", err)
			}
		})
	}
}

func TestProcessStoreFailureIsReturned(t *testing.T) {
	t.Parallel()

	ch := newRecordingChannel()
	p := New(failingStore{}, ch)
	_, err := p.Process(context.Background(), testShard, message(t, "1-0", stage("job-4", "weather", "started", 1, time.Now())))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, models.ErrMalformedEntry) {
		t.Error("store failure reported as malformed")
	}
	if n := len(ch.published("job-4")); n != 0 {
		t.Errorf("published %d envelopes after store failure", n)
	}
}

func TestProcessPublishFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	ch := newRecordingChannel()
	ch.err = errors.New("fan-out down")
	p := New(store, ch, WithPublishTimeout(100*time.Millisecond))

	out, err := p.Process(ctx, testShard, message(t, "1-0", stage("job-5", "done", "", 9, time.Now())))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out != state.OutcomeApplied {
		t.Errorf("outcome = %v", out)
	}
	snap, _ := store.Snapshot(ctx, "job-5")
	if snap == nil || !snap.IsTerminal() {
		t.Errorf("terminal snapshot not stored: %+v", snap)
	}
}

func TestProcessTokensFeedCatchUpIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	ch := newRecordingChannel()
	p := New(store, ch)

	for seq := int64(1); seq <= 3; seq++ {
		e := &models.LogEntry{
			JobID:     "job-6",
			Kind:      models.KindToken,
			Stage:     "summary",
			Seq:       seq,
			Timestamp: time.Now(),
			Payload:   models.Payload{Token: "tok"},
		}
		if _, err := p.Process(ctx, testShard, message(t, "1-"+string(rune('0'+seq)), e)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	toks, err := store.TokensSince(ctx, "job-6", 1)
	if err != nil {
		t.Fatalf("TokensSince: %v", err)
	}
	if len(toks) != 2 || toks[0].Seq != 2 || toks[1].Seq != 3 {
		t.Errorf("tokens = %+v", toks)
	}
	if snap, _ := store.Snapshot(ctx, "job-6"); snap != nil {
		t.Errorf("token entries wrote a snapshot: %+v", snap)
	}
	if n := len(ch.published("job-6")); n != 3 {
		t.Errorf("published %d tokens, want 3", n)
	}
}

func TestProcessWithMemoryChannel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ch := fanout.NewMemoryChannel()
	defer ch.Close()

	sub, err := ch.Subscribe(ctx, "job-7")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	p := New(newStore(t), ch)
	if _, err := p.Process(ctx, testShard, message(t, "1-0", stage("job-7", "news", "started", 1, time.Now()))); err != nil {
		t.Fatalf("Process: %v", err)
	}

	select {
	case payload := <-sub.Messages():
		env, err := models.UnmarshalEnvelope(payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.JobID != "job-7" || env.Stage != "news" {
			t.Errorf("envelope = %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fan-out message")
	}
}
