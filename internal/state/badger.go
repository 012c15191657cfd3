// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package state

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/herald/internal/logging"
	"github.com/tomtom215/herald/internal/models"
)

// maxConflictRetries bounds optimistic transaction retries in Project.
const maxConflictRetries = 10

// BadgerConfig configures an embedded Badger store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory (single-process deployments and tests).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is how often Serve runs value-log GC. Default: 5m
	GCInterval time.Duration
}

// BadgerStore implements Store on an embedded Badger database. Project runs in
// one read-write transaction; Badger's conflict detection plays the role of the
// Redis script's atomicity and conflicting commits are retried.
type BadgerStore struct {
	db     *badger.DB
	opts   Options
	cfg    BadgerConfig
	closed atomic.Bool
}

// badgerState is the stored value of a state key.
type badgerState struct {
	Seq   int64            `json:"seq"`
	TS    int64            `json:"ts"`
	State *models.JobState `json:"state"`
}

// OpenBadgerStore opens (or creates) a Badger-backed store.
func OpenBadgerStore(cfg BadgerConfig, opts Options) (*BadgerStore, error) {
	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger store: path is required unless in-memory")
		}
		bopts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 5 * time.Minute
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("Badger state store opened")
	return &BadgerStore{db: db, opts: opts.withDefaults(), cfg: cfg}, nil
}

// Project implements Store.
func (s *BadgerStore) Project(ctx context.Context, entry *models.LogEntry) (Outcome, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	var outcome Outcome
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			var txErr error
			outcome, txErr = s.projectTxn(txn, entry)
			return txErr
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("project %s/%s: %w", entry.JobID, entry.ID, err)
	}
	return outcome, nil
}

func (s *BadgerStore) projectTxn(txn *badger.Txn, entry *models.LogEntry) (Outcome, error) {
	marker := []byte(s.opts.markerKey(entry.JobID, entry.ID))
	_, err := txn.Get(marker)
	if err == nil {
		return OutcomeDuplicate, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return 0, fmt.Errorf("read marker: %w", err)
	}

	outcome := OutcomeApplied
	if entry.Kind.IsToken() {
		if err := s.appendToken(txn, entry); err != nil {
			return 0, err
		}
	} else {
		outcome, err = s.upsertState(txn, entry)
		if err != nil {
			return 0, err
		}
	}

	if err := txn.SetEntry(badger.NewEntry(marker, []byte{1}).WithTTL(s.opts.MarkerTTL)); err != nil {
		return 0, fmt.Errorf("set marker: %w", err)
	}
	return outcome, nil
}

func (s *BadgerStore) upsertState(txn *badger.Txn, entry *models.LogEntry) (Outcome, error) {
	key := []byte(s.opts.stateKey(entry.JobID))
	ts := entry.Timestamp.UnixMicro()

	item, err := txn.Get(key)
	switch {
	case err == nil:
		var cur badgerState
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cur) }); err != nil {
			return 0, fmt.Errorf("decode state: %w", err)
		}
		if isOlder(entry.Seq, ts, cur.Seq, cur.TS) {
			return OutcomeStale, nil
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return 0, fmt.Errorf("read state: %w", err)
	}

	data, err := json.Marshal(badgerState{Seq: entry.Seq, TS: ts, State: models.StateFromEntry(entry)})
	if err != nil {
		return 0, fmt.Errorf("encode state: %w", err)
	}
	if err := txn.SetEntry(badger.NewEntry(key, data).WithTTL(s.opts.stateTTL(entry))); err != nil {
		return 0, fmt.Errorf("write state: %w", err)
	}
	return OutcomeApplied, nil
}

// Token keys sort by seq: <prefix>tokens:{job}:<20-digit seq>:<entry id>.
func (s *BadgerStore) tokenPrefix(jobID string) []byte {
	return []byte(s.opts.tokensKey(jobID) + ":")
}

func (s *BadgerStore) tokenKey(jobID string, seq int64, entryID string) []byte {
	if seq < 0 {
		seq = 0
	}
	return []byte(fmt.Sprintf("%s%020d:%s", s.tokenPrefix(jobID), seq, entryID))
}

func (s *BadgerStore) appendToken(txn *badger.Txn, entry *models.LogEntry) error {
	data, err := json.Marshal(entry.Envelope())
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	// Collect existing keys before the write; iterators on a read-write
	// transaction also see its pending writes.
	prefix := s.tokenPrefix(entry.JobID)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	excess := len(keys) + 1 - s.opts.TokenBufferSize
	for i := 0; i < excess && i < len(keys); i++ {
		if err := txn.Delete(keys[i]); err != nil {
			return fmt.Errorf("trim tokens: %w", err)
		}
	}

	key := s.tokenKey(entry.JobID, entry.Seq, entry.ID)
	if err := txn.SetEntry(badger.NewEntry(key, data).WithTTL(s.opts.TokenTTL)); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// Snapshot implements Store.
func (s *BadgerStore) Snapshot(_ context.Context, jobID string) (*models.JobState, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var st *models.JobState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.opts.stateKey(jobID)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var cur badgerState
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cur) }); err != nil {
			return err
		}
		st = cur.State
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", jobID, err)
	}
	return st, nil
}

// TokensSince implements Store.
func (s *BadgerStore) TokensSince(_ context.Context, jobID string, afterSeq int64) ([]*models.Envelope, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var out []*models.Envelope
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := s.tokenPrefix(jobID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := []byte(fmt.Sprintf("%s%020d", prefix, afterSeq+1))
		if afterSeq < 0 {
			start = prefix
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			var env *models.Envelope
			err := it.Item().Value(func(val []byte) error {
				var decErr error
				env, decErr = models.UnmarshalEnvelope(val)
				return decErr
			})
			if err != nil {
				return err
			}
			out = append(out, env)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read tokens %s: %w", jobID, err)
	}
	return out, nil
}

// Ping reports whether the database is open.
func (s *BadgerStore) Ping(context.Context) error {
	if s.closed.Load() || s.db.IsClosed() {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("Badger state store closed")
	return nil
}

// RunGC runs value-log garbage collection until nothing is rewritten.
func (s *BadgerStore) RunGC() error {
	if s.cfg.InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Serve implements suture.Service, running value-log GC periodically.
func (s *BadgerStore) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("Badger value-log GC failed")
			}
		}
	}
}

func (s *BadgerStore) String() string {
	return "badger-state-gc"
}
