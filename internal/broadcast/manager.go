// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"golang.org/x/time/rate"

	"github.com/tomtom215/herald/internal/fanout"
	"github.com/tomtom215/herald/internal/logging"
	"github.com/tomtom215/herald/internal/metrics"
	"github.com/tomtom215/herald/internal/models"
)

var (
	// ErrManagerClosed is returned after Shutdown.
	ErrManagerClosed = errors.New("broadcast manager closed")
	// ErrNotInitialized is returned before Init.
	ErrNotInitialized = errors.New("broadcast manager not initialized")
)

// SnapshotStore is the read side of the state store used for catch-up.
type SnapshotStore interface {
	Snapshot(ctx context.Context, jobID string) (*models.JobState, error)
	TokensSince(ctx context.Context, jobID string, afterSeq int64) ([]*models.Envelope, error)
}

// Config holds broadcast settings.
type Config struct {
	// QueueSize is the per-subscriber buffer capacity.
	QueueSize int
	// IdleTimeout disconnects subscribers with no activity for this long.
	IdleTimeout time.Duration
	// ReapInterval is how often idle subscribers are looked for.
	ReapInterval time.Duration
	// KeepaliveInterval is how often streaming handlers send a keepalive.
	KeepaliveInterval time.Duration
	// ShutdownTimeout bounds the wait for dispatch goroutines.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns broadcast defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:         1024,
		IdleTimeout:       10 * time.Minute,
		ReapInterval:      30 * time.Second,
		KeepaliveInterval: 15 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = def.ReapInterval
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

// SubscribeOptions controls catch-up for a new subscriber.
type SubscribeOptions struct {
	// LastTokenSeq is the client's token cursor; buffered tokens with a
	// greater seq are replayed.
	LastTokenSeq int64
	// SkipCatchUp disables the snapshot and token replay.
	SkipCatchUp bool
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Jobs        int `json:"jobs"`
	Subscribers int `json:"subscribers"`
}

// jobSubscription multiplexes one fan-out subscription to every subscriber of a job.
type jobSubscription struct {
	jobID       string
	sub         fanout.Subscription
	subscribers map[string]*Subscriber
}

// Manager bridges fan-out subscriptions to subscriber queues.
// It implements suture.Service; Serve runs the idle reaper.
type Manager struct {
	store   SnapshotStore
	channel fanout.Channel
	cfg     Config
	logger  zerolog.Logger

	mu          sync.Mutex
	jobs        map[string]*jobSubscription
	subscribers int
	initialized bool
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	evictLimiter *rate.Limiter
}

// NewManager creates a manager. Call Init before Subscribe.
func NewManager(store SnapshotStore, channel fanout.Channel, cfg Config) *Manager {
	return &Manager{
		store:        store,
		channel:      channel,
		cfg:          cfg.withDefaults(),
		logger:       logging.WithComponent("broadcast"),
		jobs:         make(map[string]*jobSubscription),
		evictLimiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Init prepares the manager for subscriptions. It is idempotent.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.initialized {
		return nil
	}
	if err := m.channel.Ping(ctx); err != nil {
		return fmt.Errorf("fan-out channel: %w", err)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.initialized = true
	m.logger.Info().Int("queue_size", m.cfg.QueueSize).Msg("broadcast manager initialized")
	return nil
}

// Subscribe registers a subscriber for jobID, opening the job's fan-out
// subscription if this is its first subscriber. Unless opts.SkipCatchUp is
// set, the latest snapshot and buffered tokens after opts.LastTokenSeq are
// enqueued first. Live events received meanwhile are queued behind them.
func (m *Manager) Subscribe(ctx context.Context, jobID string, opts SubscribeOptions) (*Subscriber, error) {
	s := newSubscriber(jobID, m.cfg.QueueSize, m.onEvict)

	if err := m.register(s); err != nil {
		return nil, err
	}

	if !opts.SkipCatchUp {
		if err := m.catchUp(ctx, s, opts.LastTokenSeq); err != nil {
			m.Unsubscribe(s)
			return nil, err
		}
	}
	s.goLive()
	return s, nil
}

func (m *Manager) register(s *Subscriber) error {
	m.mu.Lock()
	if err := m.usableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if js, ok := m.jobs[s.JobID]; ok {
		m.addLocked(js, s)
		m.mu.Unlock()
		return nil
	}
	subCtx := m.ctx
	m.mu.Unlock()

	// Subscribe outside the lock; another caller may win the race.
	fsub, err := m.channel.Subscribe(subCtx, s.JobID)
	if err != nil {
		return fmt.Errorf("subscribe to job %s: %w", s.JobID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usableLocked(); err != nil {
		_ = fsub.Close()
		return err
	}
	if js, ok := m.jobs[s.JobID]; ok {
		_ = fsub.Close()
		m.addLocked(js, s)
		return nil
	}

	js := &jobSubscription{jobID: s.JobID, sub: fsub, subscribers: make(map[string]*Subscriber)}
	m.jobs[s.JobID] = js
	metrics.BroadcastJobSubscriptions.Inc()
	m.addLocked(js, s)

	m.wg.Add(1)
	go m.dispatch(js)
	return nil
}

func (m *Manager) usableLocked() error {
	if m.closed {
		return ErrManagerClosed
	}
	if !m.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (m *Manager) addLocked(js *jobSubscription, s *Subscriber) {
	js.subscribers[s.ID] = s
	m.subscribers++
	metrics.BroadcastSubscribers.Inc()
}

func (m *Manager) catchUp(ctx context.Context, s *Subscriber, lastTokenSeq int64) error {
	snap, err := m.StateSnapshot(ctx, s.JobID)
	if err != nil {
		return err
	}
	tokens, err := m.CatchUpTokens(ctx, s.JobID, lastTokenSeq)
	if err != nil {
		return err
	}

	// A terminal snapshot ends the stream, so it goes after the tokens.
	var final *models.Envelope
	if snap != nil {
		if env := snap.Envelope(); env.IsTerminal() {
			final = env
		} else {
			s.Put(env)
		}
	}
	for _, tok := range tokens {
		s.Put(tok)
	}
	if final != nil {
		s.Put(final)
	}
	return nil
}

// Unsubscribe removes s and closes it. The job's fan-out subscription is
// torn down when its last subscriber leaves. Safe to call more than once.
func (m *Manager) Unsubscribe(s *Subscriber) {
	s.end(StateClosed)
	m.remove(s)
}

// Disconnect ends s as Disconnected and removes it.
func (m *Manager) Disconnect(s *Subscriber) {
	s.end(StateDisconnected)
	m.remove(s)
}

func (m *Manager) remove(s *Subscriber) {
	m.mu.Lock()
	js, ok := m.jobs[s.JobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, member := js.subscribers[s.ID]; !member {
		m.mu.Unlock()
		return
	}
	delete(js.subscribers, s.ID)
	m.subscribers--
	metrics.BroadcastSubscribers.Dec()

	var teardown *jobSubscription
	if len(js.subscribers) == 0 {
		delete(m.jobs, s.JobID)
		metrics.BroadcastJobSubscriptions.Dec()
		teardown = js
	}
	m.mu.Unlock()

	if teardown != nil {
		if err := teardown.sub.Close(); err != nil {
			m.logger.Debug().Err(err).Str("job_id", teardown.jobID).Msg("close job subscription")
		}
	}
}

func (m *Manager) dispatch(js *jobSubscription) {
	defer m.wg.Done()
	logger := m.logger.With().Str("job_id", js.jobID).Logger()

	for payload := range js.sub.Messages() {
		env, err := models.UnmarshalEnvelope(payload)
		if err != nil {
			metrics.FanoutDecodeErrors.Inc()
			logger.Warn().Err(err).Msg("undecodable fan-out payload")
			continue
		}
		// Sanitized topics can be shared by distinct job IDs.
		if env.JobID != js.jobID {
			continue
		}
		metrics.FanoutReceived.Inc()
		m.deliver(js, env, logger)
	}
}

func (m *Manager) deliver(js *jobSubscription, env *models.Envelope, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("dispatch panicked")
		}
	}()

	m.mu.Lock()
	targets := make([]*Subscriber, 0, len(js.subscribers))
	for _, s := range js.subscribers {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		res := s.offer(env)
		metrics.QueuePuts.WithLabelValues(res.String()).Inc()
		if res == RejectedQueueFull && s.State() == StateStreaming {
			logger.Warn().Str("subscriber", s.ID).Msg("subscriber queue saturated with terminal events")
		}
	}
}

func (m *Manager) onEvict(env *models.Envelope) {
	metrics.QueueEvictions.Inc()
	if m.evictLimiter.Allow() {
		m.logger.Warn().
			Str("job_id", env.JobID).
			Str("stage", env.Stage).
			Str("type", string(env.Kind)).
			Msg("slow subscriber, evicting oldest event")
	}
}

// StateSnapshot returns the latest job state, or nil if none exists.
func (m *Manager) StateSnapshot(ctx context.Context, jobID string) (*models.JobState, error) {
	snap, err := m.store.Snapshot(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("snapshot for job %s: %w", jobID, err)
	}
	return snap, nil
}

// CatchUpTokens returns buffered tokens with seq > lastSeq in seq order,
// marked as token_recovery.
func (m *Manager) CatchUpTokens(ctx context.Context, jobID string, lastSeq int64) ([]*models.Envelope, error) {
	tokens, err := m.store.TokensSince(ctx, jobID, lastSeq)
	if err != nil {
		return nil, fmt.Errorf("tokens for job %s: %w", jobID, err)
	}
	for _, tok := range tokens {
		tok.Kind = models.KindTokenRecovery
	}
	metrics.CatchUpTokens.Add(float64(len(tokens)))
	return tokens, nil
}

// Stats returns the number of job subscriptions and subscribers.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Jobs: len(m.jobs), Subscribers: m.subscribers}
}

// HealthCheck reports whether the manager accepts subscribers and the
// fan-out channel is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	err := m.usableLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.channel.Ping(ctx)
}

// ReapIdle disconnects subscribers idle longer than the idle timeout and
// returns how many were removed.
func (m *Manager) ReapIdle(now time.Time) int {
	m.mu.Lock()
	var idle []*Subscriber
	for _, js := range m.jobs {
		for _, s := range js.subscribers {
			if now.Sub(s.LastActivity()) > m.cfg.IdleTimeout {
				idle = append(idle, s)
			}
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.Disconnect(s)
		metrics.SubscribersReaped.Inc()
	}
	if len(idle) > 0 {
		m.logger.Info().Int("subscribers", len(idle)).Msg("reaped idle subscribers")
	}
	return len(idle)
}

// Serve implements suture.Service. It initializes the manager if needed,
// reaps idle subscribers until ctx is canceled, then shuts down.
func (m *Manager) Serve(ctx context.Context) error {
	if err := m.Init(ctx); err != nil {
		if errors.Is(err, ErrManagerClosed) {
			return suture.ErrDoNotRestart
		}
		return err
	}

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
			err := m.Shutdown(shutdownCtx)
			cancel()
			if err != nil {
				m.logger.Warn().Err(err).Msg("broadcast shutdown incomplete")
			}
			return ctx.Err()
		case now := <-ticker.C:
			m.ReapIdle(now)
		}
	}
}

func (m *Manager) String() string {
	return "broadcast-manager"
}

// Shutdown closes every subscriber and job subscription and waits for the
// dispatch goroutines. Subscribers see Done closed and can drain what they
// already buffered.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	jobs := m.jobs
	m.jobs = make(map[string]*jobSubscription)
	closed := m.subscribers
	m.subscribers = 0
	cancel := m.cancel
	m.mu.Unlock()

	for _, js := range jobs {
		for _, s := range js.subscribers {
			s.end(StateClosed)
		}
		_ = js.sub.Close()
	}
	metrics.BroadcastSubscribers.Sub(float64(closed))
	metrics.BroadcastJobSubscriptions.Sub(float64(len(jobs)))
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info().Int("subscribers", closed).Int("jobs", len(jobs)).Msg("broadcast manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for dispatchers: %w", ctx.Err())
	}
}
