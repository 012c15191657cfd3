// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package broadcast

import (
	"sync"
	"time"

	"github.com/tomtom215/herald/internal/models"
)

// PutResult is the outcome of Queue.Put.
type PutResult int

const (
	// Accepted means the envelope was enqueued, possibly after evicting the
	// oldest non-terminal envelope.
	Accepted PutResult = iota
	// RejectedDuplicate means an envelope with the same dedup key and an equal
	// or newer timestamp was already accepted.
	RejectedDuplicate
	// RejectedQueueFull means the buffer holds only terminal envelopes, or
	// the queue is closed.
	RejectedQueueFull
)

func (r PutResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectedDuplicate:
		return "duplicate"
	case RejectedQueueFull:
		return "full"
	default:
		return "unknown"
	}
}

// Queue is the bounded per-connection buffer between the dispatch goroutine
// and the HTTP handler.
//
// Envelopes are filtered per (stage, status): one whose timestamp is not
// newer than the last accepted one for its key is rejected, unless it is
// terminal. On overflow the oldest non-terminal envelope is evicted;
// terminal envelopes are never evicted.
type Queue struct {
	mu           sync.Mutex
	buf          []*models.Envelope
	capacity     int
	lastAccepted map[models.DedupKey]time.Time
	maxSeq       int64
	lastActivity time.Time
	closed       bool

	ready   chan struct{}
	onEvict func(*models.Envelope)
	now     func() time.Time
}

// NewQueue creates a queue holding at most capacity envelopes.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		buf:          make([]*models.Envelope, 0, capacity),
		capacity:     capacity,
		lastAccepted: make(map[models.DedupKey]time.Time),
		ready:        make(chan struct{}, 1),
		now:          time.Now,
		lastActivity: time.Now(),
	}
}

// Put applies the dedup and backpressure policy to env.
// Keepalive envelopes are never buffered and leave the dedup state untouched.
func (q *Queue) Put(env *models.Envelope) PutResult {
	if env == nil || env.Kind == models.KindKeepalive {
		return RejectedDuplicate
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if env.Seq > q.maxSeq {
		q.maxSeq = env.Seq
	}
	if q.closed {
		return RejectedQueueFull
	}

	terminal := env.IsTerminal()
	key := env.DedupKey()
	if !terminal {
		if last, ok := q.lastAccepted[key]; ok && !env.Timestamp.After(last) {
			return RejectedDuplicate
		}
	}

	if len(q.buf) >= q.capacity {
		i := q.oldestNonTerminal()
		if i < 0 {
			return RejectedQueueFull
		}
		evicted := q.buf[i]
		q.buf = append(q.buf[:i], q.buf[i+1:]...)
		if q.onEvict != nil {
			q.onEvict(evicted)
		}
	}

	q.buf = append(q.buf, env)
	if last, ok := q.lastAccepted[key]; !ok || env.Timestamp.After(last) {
		q.lastAccepted[key] = env.Timestamp
	}
	q.lastActivity = q.now()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return Accepted
}

func (q *Queue) oldestNonTerminal() int {
	for i, env := range q.buf {
		if !env.IsTerminal() {
			return i
		}
	}
	return -1
}

// Pop removes and returns the oldest envelope.
func (q *Queue) Pop() (*models.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buf) == 0 {
		return nil, false
	}
	env := q.buf[0]
	q.buf[0] = nil
	q.buf = q.buf[1:]
	return env, true
}

// Ready receives a value after at least one envelope has been enqueued.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of buffered envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// MaxSeq returns the highest sequence number offered to Put, including
// rejected envelopes.
func (q *Queue) MaxSeq() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxSeq
}

// LastActivity returns the time of the last accepted enqueue.
func (q *Queue) LastActivity() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastActivity
}

// touch records activity that did not go through Put.
func (q *Queue) touch() {
	q.mu.Lock()
	q.lastActivity = q.now()
	q.mu.Unlock()
}

// close stops accepting envelopes. Buffered envelopes can still be popped.
func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
