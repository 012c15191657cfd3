// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package broadcast

import (
	"testing"
	"time"

	"github.com/tomtom215/herald/internal/models"
)

var epoch = time.UnixMilli(0).UTC()

func at(ms int64) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func env(stage, status string, ts int64) *models.Envelope {
	return &models.Envelope{Kind: models.KindStage, JobID: "job", Stage: stage, Status: status, Timestamp: at(ts)}
}

func terminal(ts int64) *models.Envelope {
	return &models.Envelope{Kind: models.KindDone, JobID: "job", Stage: "done", Timestamp: at(ts)}
}

func TestQueueWeatherExample(t *testing.T) {
	t.Parallel()

	q := NewQueue(8)
	steps := []struct {
		ts      int64
		want    PutResult
		wantLen int
	}{
		{100, Accepted, 1},
		{100, RejectedDuplicate, 1},
		{101, Accepted, 2},
	}
	for i, s := range steps {
		if got := q.Put(env("weather", "started", s.ts)); got != s.want {
			t.Errorf("step %d: Put = %v, want %v", i, got, s.want)
		}
		if q.Len() != s.wantLen {
			t.Errorf("step %d: Len = %d, want %d", i, q.Len(), s.wantLen)
		}
	}
}

func TestQueueDedupPerKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		first *models.Envelope
		next  *models.Envelope
		want  PutResult
	}{
		{"older same key", env("weather", "started", 200), env("weather", "started", 150), RejectedDuplicate},
		{"newer same key", env("weather", "started", 200), env("weather", "started", 201), Accepted},
		{"different status", env("weather", "started", 200), env("weather", "completed", 100), Accepted},
		{"different stage", env("weather", "started", 200), env("news", "started", 100), Accepted},
		{"terminal bypasses dedup", terminal(200), terminal(200), Accepted},
		{
			"tokens keyed by seq",
			&models.Envelope{Kind: models.KindToken, Stage: "summary", Seq: 1, Timestamp: at(5)},
			&models.Envelope{Kind: models.KindToken, Stage: "summary", Seq: 2, Timestamp: at(5)},
			Accepted,
		},
		{
			"recovered token duplicates live token",
			&models.Envelope{Kind: models.KindToken, Stage: "summary", Seq: 7, Timestamp: at(5)},
			&models.Envelope{Kind: models.KindTokenRecovery, Stage: "summary", Seq: 7, Timestamp: at(5)},
			RejectedDuplicate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := NewQueue(4)
			if got := q.Put(tt.first); got != Accepted {
				t.Fatalf("first Put = %v", got)
			}
			if got := q.Put(tt.next); got != tt.want {
				t.Errorf("second Put = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueueOutOfOrderParallelStages(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	a := env("a", "completed", 100)
	a.Seq = 80
	b := env("b", "completed", 90)
	b.Seq = 60

	if got := q.Put(a); got != Accepted {
		t.Errorf("stage a: %v", got)
	}
	if got := q.Put(b); got != Accepted {
		t.Errorf("stage b: %v", got)
	}
	if q.MaxSeq() != 80 {
		t.Errorf("MaxSeq = %d, want 80", q.MaxSeq())
	}
}

func TestQueueTerminalDurability(t *testing.T) {
	t.Parallel()

	const k = 3
	q := NewQueue(k)
	for i := 0; i < k; i++ {
		if got := q.Put(terminal(int64(i))); got != Accepted {
			t.Fatalf("terminal %d: %v", i, got)
		}
	}
	if got := q.Put(env("weather", "started", 999)); got != RejectedQueueFull {
		t.Errorf("non-terminal into terminal-saturated queue = %v, want RejectedQueueFull", got)
	}
	if got := q.Put(terminal(1000)); got != RejectedQueueFull {
		t.Errorf("terminal into terminal-saturated queue = %v, want RejectedQueueFull", got)
	}
	for i := 0; i < k; i++ {
		e, ok := q.Pop()
		if !ok || !e.IsTerminal() || !e.Timestamp.Equal(at(int64(i))) {
			t.Errorf("pop %d = %+v, %v", i, e, ok)
		}
	}
}

func TestQueueEvictsOldestNonTerminal(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	var evicted []*models.Envelope
	q.onEvict = func(e *models.Envelope) { evicted = append(evicted, e) }

	q.Put(terminal(1))
	q.Put(env("a", "started", 2))
	q.Put(env("b", "started", 3))
	if got := q.Put(env("c", "started", 4)); got != Accepted {
		t.Fatalf("Put on full queue = %v", got)
	}
	if len(evicted) != 1 || evicted[0].Stage != "a" {
		t.Fatalf("evicted = %+v, want stage a", evicted)
	}

	var stages []string
	for {
		e, ok := q.Pop()
		if !ok {
			break
		}
		stages = append(stages, e.Stage)
	}
	want := []string{"done", "b", "c"}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stages = %v, want %v", stages, want)
			break
		}
	}
}

func TestQueueTracksSeqOfRejected(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	first := env("weather", "started", 100)
	first.Seq = 3
	q.Put(first)

	dup := env("weather", "started", 100)
	dup.Seq = 9
	if got := q.Put(dup); got != RejectedDuplicate {
		t.Fatalf("Put = %v", got)
	}
	if q.MaxSeq() != 9 {
		t.Errorf("MaxSeq = %d, want 9", q.MaxSeq())
	}
}

func TestQueueKeepaliveNotBuffered(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	before := q.LastActivity()
	if got := q.Put(models.Keepalive("job", time.Now())); got == Accepted {
		t.Error("keepalive accepted")
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d", q.Len())
	}
	if !q.LastActivity().Equal(before) {
		t.Error("keepalive touched activity")
	}
	// A later real event with the zero-value key must still be accepted.
	if got := q.Put(&models.Envelope{Kind: models.KindStage, Timestamp: time.Now()}); got != Accepted {
		t.Errorf("Put after keepalive = %v", got)
	}
}

func TestQueueActivityAndReady(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	clock := at(50_000)
	q.now = func() time.Time { return clock }

	q.Put(env("a", "x", 1))
	if !q.LastActivity().Equal(clock) {
		t.Errorf("LastActivity = %v", q.LastActivity())
	}
	select {
	case <-q.Ready():
	default:
		t.Error("Ready not signaled")
	}

	clock = at(60_000)
	q.Put(env("a", "x", 1))
	if !q.LastActivity().Equal(at(50_000)) {
		t.Error("rejected Put updated activity")
	}
}

func TestQueueClosedRejects(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	q.Put(env("a", "x", 1))
	q.close()
	if got := q.Put(env("b", "x", 2)); got != RejectedQueueFull {
		t.Errorf("Put after close = %v", got)
	}
	if _, ok := q.Pop(); !ok {
		t.Error("buffered envelope lost on close")
	}
}

func TestPutResultString(t *testing.T) {
	t.Parallel()

	tests := map[PutResult]string{
		Accepted:          "accepted",
		RejectedDuplicate: "duplicate",
		RejectedQueueFull: "full",
		PutResult(42):     "unknown",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", r, got, want)
		}
	}
}
