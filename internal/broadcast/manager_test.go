// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/herald/internal/fanout"
	"github.com/tomtom215/herald/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	snapshots map[string]*models.JobState
	tokens    map[string][]*models.Envelope
	err       error

	// onSnapshot runs before Snapshot reads, outside the lock.
	onSnapshot func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snapshots: make(map[string]*models.JobState),
		tokens:    make(map[string][]*models.Envelope),
	}
}

func (s *fakeStore) Snapshot(_ context.Context, jobID string) (*models.JobState, error) {
	if s.onSnapshot != nil {
		s.onSnapshot()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshots[jobID], nil
}

func (s *fakeStore) TokensSince(_ context.Context, jobID string, afterSeq int64) ([]*models.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []*models.Envelope
	for _, tok := range s.tokens[jobID] {
		if tok.Seq > afterSeq {
			cp := *tok
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newTestManager(t *testing.T, store SnapshotStore, cfg Config) (*Manager, fanout.Channel) {
	t.Helper()
	ch := fanout.NewMemoryChannel()
	m := NewManager(store, ch, cfg)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
		_ = ch.Close()
	})
	return m, ch
}

func publish(t *testing.T, ch fanout.Channel, e *models.Envelope) {
	t.Helper()
	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := ch.Publish(context.Background(), e.JobID, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func next(t *testing.T, s *Subscriber) *models.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if e, ok := s.Pop(); ok {
			return e
		}
		select {
		case <-s.Ready():
		case <-deadline:
			t.Fatal("no envelope delivered")
			return nil
		}
	}
}

func TestManagerFanOutToAllSubscribers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, ch := newTestManager(t, newFakeStore(), Config{})

	a, err := m.Subscribe(ctx, "job-1", SubscribeOptions{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b, err := m.Subscribe(ctx, "job-1", SubscribeOptions{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if st := m.Stats(); st.Jobs != 1 || st.Subscribers != 2 {
		t.Errorf("Stats = %+v", st)
	}

	e := &models.Envelope{Kind: models.KindStage, JobID: "job-1", Stage: "weather", Status: "started", Timestamp: at(100)}
	publish(t, ch, e)

	for _, s := range []*Subscriber{a, b} {
		got := next(t, s)
		if got.Stage != "weather" || got.JobID != "job-1" {
			t.Errorf("envelope = %+v", got)
		}
	}
}

func TestManagerFiltersForeignJobIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, ch := newTestManager(t, newFakeStore(), Config{})

	// "a.b" and "a_b" share a sanitized topic.
	s, err := m.Subscribe(ctx, "a_b", SubscribeOptions{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	publish(t, ch, &models.Envelope{Kind: models.KindStage, JobID: "a.b", Stage: "x", Timestamp: at(1)})
	publish(t, ch, &models.Envelope{Kind: models.KindStage, JobID: "a_b", Stage: "y", Timestamp: at(2)})

	if got := next(t, s); got.Stage != "y" {
		t.Errorf("received foreign job envelope: %+v", got)
	}
}

func TestManagerTearsDownLastSubscriber(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t, newFakeStore(), Config{})

	a, _ := m.Subscribe(ctx, "job", SubscribeOptions{})
	b, _ := m.Subscribe(ctx, "job", SubscribeOptions{})

	m.Unsubscribe(a)
	if st := m.Stats(); st.Jobs != 1 || st.Subscribers != 1 {
		t.Errorf("after first unsubscribe: %+v", st)
	}
	if a.State() != StateClosed {
		t.Errorf("state = %v", a.State())
	}

	m.Disconnect(b)
	m.Disconnect(b)
	if st := m.Stats(); st.Jobs != 0 || st.Subscribers != 0 {
		t.Errorf("after last unsubscribe: %+v", st)
	}
	if b.State() != StateDisconnected {
		t.Errorf("state = %v", b.State())
	}

	// A fresh subscription reopens the job.
	c, err := m.Subscribe(ctx, "job", SubscribeOptions{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if c.State() != StateConnecting {
		t.Errorf("new subscriber state = %v", c.State())
	}
	if st := m.Stats(); st.Jobs != 1 || st.Subscribers != 1 {
		t.Errorf("after resubscribe: %+v", st)
	}
}

func TestManagerSnapshotCatchUp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	store.snapshots["job"] = &models.JobState{JobID: "job", Stage: "news", Status: "completed", LastSeq: 42, UpdatedAt: at(500)}
	m, ch := newTestManager(t, store, Config{})

	s, err := m.Subscribe(ctx, "job", SubscribeOptions{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	got := next(t, s)
	if got.Stage != "news" || got.Seq != 42 || got.Kind != models.KindStage {
		t.Errorf("snapshot envelope = %+v", got)
	}

	// A live copy of the snapshot's event is suppressed.
	publish(t, ch, &models.Envelope{Kind: models.KindStage, JobID: "job", Stage: "news", Status: "completed", Seq: 42, Timestamp: at(500)})
	publish(t, ch, &models.Envelope{Kind: models.KindDone, JobID: "job", Stage: "done", Seq: 43, Timestamp: at(600)})
	if got := next(t, s); got.Kind != models.KindDone {
		t.Errorf("expected done after duplicate, got %+v", got)
	}
}

func TestManagerTokenCatchUp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	for seq := int64(1); seq <= 5; seq++ {
		store.tokens["job"] = append(store.tokens["job"], &models.Envelope{
			Kind: models.KindToken, JobID: "job", Stage: "summary", Seq: seq, Timestamp: at(seq),
		})
	}
	m, _ := newTestManager(t, store, Config{})

	tokens, err := m.CatchUpTokens(ctx, "job", 3)
	if err != nil {
		t.Fatalf("CatchUpTokens: %v", err)
	}
	if len(tokens) != 2 || tokens[0].Seq != 4 || tokens[1].Seq != 5 {
		t.Fatalf("tokens = %+v", tokens)
	}
	for _, tok := range tokens {
		if tok.Kind != models.KindTokenRecovery {
			t.Errorf("kind = %s", tok.Kind)
		}
	}

	s, err := m.Subscribe(ctx, "job", SubscribeOptions{LastTokenSeq: 3})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for _, want := range []int64{4, 5} {
		if got := next(t, s); got.Seq != want || got.Kind != models.KindTokenRecovery {
			t.Errorf("got %+v, want recovered seq %d", got, want)
		}
	}
	if s.Len() != 0 {
		t.Errorf("%d extra envelopes", s.Len())
	}
}

func TestManagerTerminalSnapshotAfterTokens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	for seq := int64(1); seq <= 3; seq++ {
		store.tokens["job"] = append(store.tokens["job"], &models.Envelope{
			Kind: models.KindToken, JobID: "job", Stage: "generate", Seq: seq, Timestamp: at(seq),
		})
	}
	store.snapshots["job"] = &models.JobState{JobID: "job", Kind: models.KindDone, Stage: "done", LastSeq: 4, UpdatedAt: at(10)}
	m, _ := newTestManager(t, store, Config{})

	s, err := m.Subscribe(ctx, "job", SubscribeOptions{LastTokenSeq: 1})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	want := []struct {
		kind models.Kind
		seq  int64
	}{
		{models.KindTokenRecovery, 2},
		{models.KindTokenRecovery, 3},
		{models.KindDone, 4},
	}
	for i, w := range want {
		got := next(t, s)
		if got.Kind != w.kind || got.Seq != w.seq {
			t.Errorf("envelope %d = %s/%d, want %s/%d", i, got.Kind, got.Seq, w.kind, w.seq)
		}
	}
}

func TestManagerLiveEventsWaitForCatchUp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	store.snapshots["job"] = &models.JobState{JobID: "job", Stage: "generate", Status: "running", LastSeq: 3, UpdatedAt: at(3)}
	for seq := int64(1); seq <= 3; seq++ {
		store.tokens["job"] = append(store.tokens["job"], &models.Envelope{
			Kind: models.KindToken, JobID: "job", Stage: "generate", Seq: seq, Timestamp: at(seq),
		})
	}
	m, ch := newTestManager(t, store, Config{})

	// Publish while catch-up is still reading the store and wait until the
	// dispatcher has handed the event to the subscriber.
	store.onSnapshot = func() {
		publish(t, ch, &models.Envelope{Kind: models.KindToken, JobID: "job", Stage: "generate", Seq: 4, Timestamp: at(4)})
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if heldLive(m, "job") > 0 {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Error("live event never reached the subscriber")
	}

	s, err := m.Subscribe(ctx, "job", SubscribeOptions{LastTokenSeq: 1})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	want := []struct {
		kind models.Kind
		seq  int64
	}{
		{models.KindStage, 3},
		{models.KindTokenRecovery, 2},
		{models.KindTokenRecovery, 3},
		{models.KindToken, 4},
	}
	for i, w := range want {
		got := next(t, s)
		if got.Kind != w.kind || got.Seq != w.seq {
			t.Errorf("envelope %d = %s/%d, want %s/%d", i, got.Kind, got.Seq, w.kind, w.seq)
		}
	}
}

// heldLive counts live envelopes waiting for catch-up across jobID's subscribers.
func heldLive(m *Manager, jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	js, ok := m.jobs[jobID]
	if !ok {
		return 0
	}
	n := 0
	for _, s := range js.subscribers {
		n += s.pending.Len()
	}
	return n
}

func TestManagerSnapshotMissing(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, newFakeStore(), Config{})
	snap, err := m.StateSnapshot(context.Background(), "nope")
	if err != nil || snap != nil {
		t.Errorf("StateSnapshot = %+v, %v", snap, err)
	}
}

func TestManagerCatchUpFailureUnsubscribes(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.err = errors.New("redis down")
	m, _ := newTestManager(t, store, Config{})

	if _, err := m.Subscribe(context.Background(), "job", SubscribeOptions{}); err == nil {
		t.Fatal("expected error")
	}
	if st := m.Stats(); st.Jobs != 0 || st.Subscribers != 0 {
		t.Errorf("Stats after failed subscribe = %+v", st)
	}
}

func TestManagerLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ch := fanout.NewMemoryChannel()
	defer ch.Close()
	m := NewManager(newFakeStore(), ch, Config{})

	if _, err := m.Subscribe(ctx, "job", SubscribeOptions{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Subscribe before Init = %v", err)
	}
	if err := m.HealthCheck(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("HealthCheck before Init = %v", err)
	}
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Init(ctx); err != nil {
		t.Errorf("second Init: %v", err)
	}
	if err := m.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	s, err := m.Subscribe(ctx, "job", SubscribeOptions{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	s.MarkStreaming()
	s.Put(env("weather", "started", 1))

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Error("subscriber not closed by Shutdown")
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v", s.State())
	}
	if _, ok := s.Pop(); !ok {
		t.Error("buffered envelope lost on shutdown")
	}
	if _, err := m.Subscribe(ctx, "job", SubscribeOptions{}); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Subscribe after Shutdown = %v", err)
	}
	if err := m.Init(ctx); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Init after Shutdown = %v", err)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	m.Unsubscribe(s)
}

func TestManagerReapIdle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t, newFakeStore(), Config{IdleTimeout: time.Minute})

	idle, _ := m.Subscribe(ctx, "job-a", SubscribeOptions{SkipCatchUp: true})
	active, _ := m.Subscribe(ctx, "job-b", SubscribeOptions{SkipCatchUp: true})

	later := time.Now().Add(2 * time.Minute)
	active.queue.now = func() time.Time { return later }
	active.Touch()

	if n := m.ReapIdle(later); n != 1 {
		t.Errorf("reaped %d, want 1", n)
	}
	if idle.State() != StateDisconnected {
		t.Errorf("idle state = %v", idle.State())
	}
	if active.State().Ended() {
		t.Errorf("active subscriber reaped")
	}
	if st := m.Stats(); st.Jobs != 1 || st.Subscribers != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestManagerServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ch := fanout.NewMemoryChannel()
	defer ch.Close()
	m := NewManager(newFakeStore(), ch, Config{ReapInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	var s *Subscriber
	deadline := time.Now().Add(2 * time.Second)
	for {
		var err error
		s, err = m.Subscribe(context.Background(), "job", SubscribeOptions{SkipCatchUp: true})
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Subscribe never succeeded: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	if s.State() != StateClosed {
		t.Errorf("subscriber state after Serve exit = %v", s.State())
	}
}

func TestSubscriberStateMachine(t *testing.T) {
	t.Parallel()

	s := newSubscriber("job", 4, nil)
	if s.State() != StateConnecting {
		t.Fatalf("initial state = %v", s.State())
	}
	if !s.MarkStreaming() || s.State() != StateStreaming {
		t.Fatalf("MarkStreaming failed, state = %v", s.State())
	}
	if !s.end(StateDisconnected) {
		t.Fatal("end returned false")
	}
	if s.end(StateClosed) {
		t.Error("ended twice")
	}
	if s.MarkStreaming() {
		t.Error("resurrected a disconnected subscriber")
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v", s.State())
	}
}
