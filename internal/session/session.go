// Package session implements the Session Registry (C8): it ties a user's
// persisted Session row to a live executor entry, stream subscription and
// worker goroutine, and restores every active session on process startup.
//
// Grounded on original_source's restore_active_sessions in
// bot/src/services/trading_signal.rs for the startup-restoration behavior
// (log and count failures, never abort startup), and on the teacher's
// internal/database/database.go CRUD style for the Session row itself.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chainsignal/signalengine/internal/candle"
	"github.com/chainsignal/signalengine/internal/executor"
	"github.com/chainsignal/signalengine/internal/store"
	"github.com/chainsignal/signalengine/internal/streammanager"
	"github.com/chainsignal/signalengine/internal/strategy"
	"github.com/chainsignal/signalengine/internal/worker"
)

// Manager owns the live session lifecycle: starting one wires together an
// executor entry, a stream subscription and a worker goroutine; stopping
// one tears all three down and marks the session row stopped.
type Manager struct {
	store    *store.Store
	registry *executor.Registry
	streams  *streammanager.Manager
	handler  worker.SignalHandler

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
}

// New creates a Manager. handler receives every non-Hold signal emitted by
// any running worker (typically a *reconciler.Reconciler).
func New(s *store.Store, registry *executor.Registry, streams *streammanager.Manager, handler worker.SignalHandler) *Manager {
	return &Manager{store: s, registry: registry, streams: streams, handler: handler, cancels: make(map[int64]context.CancelFunc)}
}

// Start validates cfg, persists a new active Session row, and spawns the
// user's worker goroutine against a live stream subscription. It returns an
// error without mutating any state if cfg is invalid or a strategy
// instance cannot be built.
func (m *Manager) Start(ctx context.Context, userID int64, cfg strategy.Config) error {
	if m.registry.IsTrading(userID) {
		return fmt.Errorf("user %d already has a running session", userID)
	}

	entry, err := m.registry.Register(userID, cfg)
	if err != nil {
		return err
	}

	tfSeconds, err := candle.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		m.registry.Unregister(userID)
		return err
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		m.registry.Unregister(userID)
		return fmt.Errorf("marshal strategy config: %w", err)
	}

	exchangeName := cfg.Exchange
	if exchangeName == "" {
		exchangeName = streammanager.DefaultExchange
	}

	sess := &store.Session{
		ID:           store.NewID(),
		UserID:       userID,
		Exchange:     exchangeName,
		Pair:         cfg.Pair,
		Timeframe:    cfg.Timeframe,
		Status:       "active",
		StrategyJSON: string(cfgJSON),
		StartedAt:    time.Now(),
	}
	if err := m.store.SaveSession(sess); err != nil {
		m.registry.Unregister(userID)
		return fmt.Errorf("persist session: %w", err)
	}

	trades, unsubscribe := m.streams.Subscribe(exchangeName, cfg.Pair)
	w := worker.New(userID, entry, trades, unsubscribe, time.Duration(tfSeconds)*time.Second, m.handler)

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[userID] = cancel
	m.mu.Unlock()

	go w.Run(runCtx)

	log.Info().Int64("user", userID).Str("pair", cfg.Pair).Str("session", sess.ID).Msg("session started")
	return nil
}

// Stop cancels a running user's worker and marks their session stopped.
func (m *Manager) Stop(userID int64) error {
	m.mu.Lock()
	cancel, ok := m.cancels[userID]
	delete(m.cancels, userID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("user %d has no running session", userID)
	}
	cancel()
	m.registry.Unregister(userID)

	sessions, err := m.store.ActiveSessions()
	if err != nil {
		return fmt.Errorf("look up active sessions: %w", err)
	}
	for _, s := range sessions {
		if s.UserID == userID {
			if err := m.store.StopSession(s.ID); err != nil {
				return fmt.Errorf("mark session stopped: %w", err)
			}
		}
	}
	return nil
}

// RestoreActiveSessions loads every Session row marked active and restarts
// its worker. A session whose stored config fails to parse or start is
// logged and counted as a failure; the restoration continues for every
// other session rather than aborting startup.
func (m *Manager) RestoreActiveSessions(ctx context.Context) (restored, failed int) {
	sessions, err := m.store.ActiveSessions()
	if err != nil {
		log.Error().Err(err).Msg("failed to list active sessions for restoration")
		return 0, 0
	}

	for _, sess := range sessions {
		var cfg strategy.Config
		if err := json.Unmarshal([]byte(sess.StrategyJSON), &cfg); err != nil {
			log.Error().Err(err).Str("session", sess.ID).Msg("failed to parse stored strategy config, skipping")
			failed++
			continue
		}
		if err := m.startRestored(ctx, sess, cfg); err != nil {
			log.Error().Err(err).Str("session", sess.ID).Int64("user", sess.UserID).Msg("failed to restore session")
			failed++
			continue
		}
		restored++
	}

	log.Info().Int("restored", restored).Int("failed", failed).Msg("session restoration complete")
	return restored, failed
}

// startRestored re-attaches a worker to an already-persisted, already-active
// session row, without creating a second Session record (unlike Start).
func (m *Manager) startRestored(ctx context.Context, sess store.Session, cfg strategy.Config) error {
	entry, err := m.registry.Register(sess.UserID, cfg)
	if err != nil {
		return err
	}
	tfSeconds, err := candle.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		m.registry.Unregister(sess.UserID)
		return err
	}

	exchangeName := sess.Exchange
	if exchangeName == "" {
		exchangeName = streammanager.DefaultExchange
	}
	trades, unsubscribe := m.streams.Subscribe(exchangeName, cfg.Pair)
	w := worker.New(sess.UserID, entry, trades, unsubscribe, time.Duration(tfSeconds)*time.Second, m.handler)

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[sess.UserID] = cancel
	m.mu.Unlock()

	go w.Run(runCtx)
	return nil
}
