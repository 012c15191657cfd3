// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/herald/internal/models"
)

// State is the lifecycle state of a subscriber connection.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Ended reports whether s is a final state.
func (s State) Ended() bool {
	return s == StateDisconnected || s == StateClosed
}

// Subscriber is one streaming connection for a job.
// Connecting moves to Streaming once; either may move to Disconnected or
// Closed, and a subscriber never leaves those.
type Subscriber struct {
	ID        string
	JobID     string
	CreatedAt time.Time

	queue *Queue
	state atomic.Int32

	// Live envelopes wait in pending until catch-up has been enqueued.
	gate    sync.Mutex
	live    bool
	pending *Queue

	done  chan struct{}
	once  sync.Once
}

func newSubscriber(jobID string, capacity int, onEvict func(*models.Envelope)) *Subscriber {
	q := NewQueue(capacity)
	q.onEvict = onEvict
	pending := NewQueue(capacity)
	pending.onEvict = onEvict
	return &Subscriber{
		ID:        uuid.NewString(),
		JobID:     jobID,
		CreatedAt: time.Now(),
		queue:     q,
		pending:   pending,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// MarkStreaming moves a connecting subscriber to Streaming. It reports
// false if the subscriber already ended.
func (s *Subscriber) MarkStreaming() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateStreaming)) ||
		s.State() == StateStreaming
}

// end moves the subscriber to a final state. Only the first call wins.
func (s *Subscriber) end(final State) bool {
	for {
		cur := State(s.state.Load())
		if cur.Ended() {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(final)) {
			s.once.Do(func() {
				s.queue.close()
				close(s.done)
			})
			return true
		}
	}
}

// Put offers an envelope to the subscriber's queue.
func (s *Subscriber) Put(env *models.Envelope) PutResult {
	return s.queue.Put(env)
}

// offer hands a live envelope to the subscriber. Before goLive it is held
// back so that it cannot overtake catch-up envelopes.
func (s *Subscriber) offer(env *models.Envelope) PutResult {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.live {
		return s.queue.Put(env)
	}
	return s.pending.Put(env)
}

// goLive moves held live envelopes behind whatever catch-up enqueued and
// lets later ones through directly.
func (s *Subscriber) goLive() {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.live {
		return
	}
	for {
		env, ok := s.pending.Pop()
		if !ok {
			break
		}
		s.queue.Put(env)
	}
	s.live = true
}

// Pop returns the next buffered envelope.
func (s *Subscriber) Pop() (*models.Envelope, bool) {
	return s.queue.Pop()
}

// Ready fires after envelopes were enqueued.
func (s *Subscriber) Ready() <-chan struct{} {
	return s.queue.Ready()
}

// Done is closed when the subscriber reaches a final state. Envelopes
// buffered before that can still be popped.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Touch records client activity such as a keepalive write.
func (s *Subscriber) Touch() {
	s.queue.touch()
}

// LastActivity returns the time of the last accepted envelope or Touch.
func (s *Subscriber) LastActivity() time.Time {
	return s.queue.LastActivity()
}

// LastSeq returns the highest sequence number seen for this connection.
func (s *Subscriber) LastSeq() int64 {
	return s.queue.MaxSeq()
}

// Len returns the number of buffered envelopes.
func (s *Subscriber) Len() int {
	return s.queue.Len()
}
