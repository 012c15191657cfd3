// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNoGroup is returned by MemoryLog when reading through a group that was never created.
var ErrNoGroup = errors.New("NOGROUP no such key or consumer group")

// MemoryLog is an in-process Log with the same consumer-group semantics as
// Redis Streams: per-group delivery cursor, pending entries list with owner
// and delivery time, idle-based claim transfer. Used for tests and the
// single-process "memory" backend.
type MemoryLog struct {
	mu      sync.Mutex
	streams map[string]*memStream
	now     func() time.Time
}

type memStream struct {
	entries []memEntry
	lastID  entryID
	groups  map[string]*memGroup
	notify  chan struct{}
}

type memEntry struct {
	id     entryID
	values map[string]any
}

type memGroup struct {
	lastDelivered entryID
	pending       map[entryID]*PendingInfo
}

// PendingInfo describes one claimed but unacknowledged entry.
type PendingInfo struct {
	Consumer    string
	DeliveredAt time.Time
	Deliveries  int
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		streams: make(map[string]*memStream),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for entry IDs and idle times.
func (l *MemoryLog) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *MemoryLog) stream(key string) *memStream {
	s, ok := l.streams[key]
	if !ok {
		s = &memStream{groups: make(map[string]*memGroup), notify: make(chan struct{})}
		l.streams[key] = s
	}
	return s
}

// EnsureGroup creates the group at the start of the stream.
func (l *MemoryLog) EnsureGroup(_ context.Context, key, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stream(key)
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = &memGroup{pending: make(map[entryID]*PendingInfo)}
	}
	return nil
}

// ReadGroup delivers entries after the group's cursor, blocking until one
// is appended, block elapses or ctx is done.
func (l *MemoryLog) ReadGroup(ctx context.Context, key, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	var timer *time.Timer
	for {
		msgs, notify, err := l.deliver(key, group, consumer, count)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		if block <= 0 {
			return nil, nil
		}
		if timer == nil {
			timer = time.NewTimer(block)
			defer timer.Stop()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
		}
	}
}

func (l *MemoryLog) deliver(key, group, consumer string, count int64) ([]Message, <-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoGroup, key)
	}
	g, ok := s.groups[group]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s %s", ErrNoGroup, key, group)
	}

	now := l.now()
	var msgs []Message
	for _, e := range s.entries {
		if count > 0 && int64(len(msgs)) >= count {
			break
		}
		if !g.lastDelivered.less(e.id) {
			continue
		}
		g.lastDelivered = e.id
		g.pending[e.id] = &PendingInfo{Consumer: consumer, DeliveredAt: now, Deliveries: 1}
		msgs = append(msgs, Message{ID: e.id.String(), Values: copyValues(e.values)})
	}
	return msgs, s.notify, nil
}

// Ack removes ids from the group's pending list.
func (l *MemoryLog) Ack(_ context.Context, key, group string, ids ...string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, err := l.group(key, group)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, raw := range ids {
		id, err := parseEntryID(raw)
		if err != nil {
			return n, err
		}
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			n++
		}
	}
	return n, nil
}

// AutoClaim transfers idle pending entries to consumer in ID order.
func (l *MemoryLog) AutoClaim(_ context.Context, key, group, consumer string, minIdle time.Duration, start string, count int64) ([]Message, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, err := l.group(key, group)
	if err != nil {
		return nil, "", err
	}
	if start == "" {
		start = StartCursor
	}
	from, err := parseEntryID(start)
	if err != nil {
		return nil, "", err
	}

	ids := make([]entryID, 0, len(g.pending))
	for id := range g.pending {
		if !id.less(from) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].less(ids[j]) })

	now := l.now()
	s := l.streams[key]
	var msgs []Message
	next := StartCursor
	for _, id := range ids {
		if count > 0 && int64(len(msgs)) >= count {
			next = id.String()
			break
		}
		p := g.pending[id]
		if now.Sub(p.DeliveredAt) < minIdle {
			continue
		}
		p.Consumer = consumer
		p.DeliveredAt = now
		p.Deliveries++

		msg := Message{ID: id.String()}
		if e, ok := s.find(id); ok {
			msg.Values = copyValues(e.values)
		}
		msgs = append(msgs, msg)
	}
	return msgs, next, nil
}

// Pending returns the size of the group's pending list.
func (l *MemoryLog) Pending(_ context.Context, key, group string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, err := l.group(key, group)
	if err != nil {
		return 0, err
	}
	return int64(len(g.pending)), nil
}

// PendingEntry returns the claim held on one entry, if any.
func (l *MemoryLog) PendingEntry(key, group, id string) (PendingInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, err := l.group(key, group)
	if err != nil {
		return PendingInfo{}, false
	}
	eid, err := parseEntryID(id)
	if err != nil {
		return PendingInfo{}, false
	}
	p, ok := g.pending[eid]
	if !ok {
		return PendingInfo{}, false
	}
	return *p, true
}

// Append adds an entry with a time-based ID. maxLen trims exactly.
func (l *MemoryLog) Append(_ context.Context, key string, values map[string]any, maxLen int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stream(key)
	ms := uint64(l.now().UnixMilli())
	id := entryID{ms: ms}
	if ms <= s.lastID.ms {
		id = entryID{ms: s.lastID.ms, seq: s.lastID.seq + 1}
	}
	s.lastID = id
	s.entries = append(s.entries, memEntry{id: id, values: copyValues(values)})
	if maxLen > 0 && int64(len(s.entries)) > maxLen {
		s.entries = append([]memEntry(nil), s.entries[int64(len(s.entries))-maxLen:]...)
	}

	close(s.notify)
	s.notify = make(chan struct{})
	return id.String(), nil
}

// Delete removes entries from a stream without touching pending lists, as XDEL does.
func (l *MemoryLog) Delete(key string, ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[key]
	if !ok {
		return
	}
	drop := make(map[entryID]struct{}, len(ids))
	for _, raw := range ids {
		if id, err := parseEntryID(raw); err == nil {
			drop[id] = struct{}{}
		}
	}
	kept := s.entries[:0]
	for _, e := range s.entries {
		if _, ok := drop[e.id]; !ok {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

// Len returns the number of entries in a stream.
func (l *MemoryLog) Len(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.streams[key]; ok {
		return len(s.entries)
	}
	return 0
}

// Ping always succeeds.
func (l *MemoryLog) Ping(context.Context) error {
	return nil
}

func (l *MemoryLog) group(key, group string) (*memGroup, error) {
	s, ok := l.streams[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoGroup, key)
	}
	g, ok := s.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNoGroup, key, group)
	}
	return g, nil
}

func (s *memStream) find(id entryID) (memEntry, bool) {
	i := sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].id.less(id) })
	if i < len(s.entries) && s.entries[i].id == id {
		return s.entries[i], true
	}
	return memEntry{}, false
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// entryID is a stream entry ID: "<ms>-<seq>".
type entryID struct {
	ms  uint64
	seq uint64
}

func (id entryID) less(o entryID) bool {
	if id.ms != o.ms {
		return id.ms < o.ms
	}
	return id.seq < o.seq
}

func (id entryID) String() string {
	return strconv.FormatUint(id.ms, 10) + "-" + strconv.FormatUint(id.seq, 10)
}

func parseEntryID(s string) (entryID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return entryID{}, fmt.Errorf("invalid entry id %q", s)
	}
	id := entryID{ms: ms}
	if hasSeq {
		seq, err := strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return entryID{}, fmt.Errorf("invalid entry id %q", s)
		}
		id.seq = seq
	}
	return id, nil
}
