// Package executor implements the Strategy Executor (C4): a registry of
// running per-user strategy instances, each paired with the candle
// aggregator feeding it. internal/worker drives ticks and timer fires
// through this registry; internal/session populates it at startup.
//
// Grounded on the teacher's internal/markets/manager.go MarketManager:
// a map-keyed registry with Register/Start/Stop lifecycle methods and a
// read-write lock guarding the map itself, while each entry's own mutex
// guards its mutable indicator/candle state.
package executor

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chainsignal/signalengine/internal/candle"
	"github.com/chainsignal/signalengine/internal/strategy"
)

// Entry is one user's running strategy: its candle aggregator and the
// strategy instance consuming the candles it closes, guarded by a single
// lock so tick and timer tasks never observe a torn intermediate state.
type Entry struct {
	mu sync.Mutex

	UserID    int64
	Pair      string
	Timeframe string

	aggregator *candle.Aggregator
	instance   *strategy.Instance

	tradeCount int
	lastSignal strategy.Signal
}

// Registry is the C4 Strategy Executor: map[userID]*Entry with a
// registration lifecycle. One Registry instance serves every user in the
// process.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[int64]*Entry)}
}

// Register creates (or replaces) the running entry for a user, building a
// fresh Aggregator and strategy Instance from cfg. Replacing an existing
// entry discards its in-flight candle and indicator state, matching the
// spec's "starting a new strategy resets state" rule.
func (r *Registry) Register(userID int64, cfg strategy.Config) (*Entry, error) {
	tfSeconds, err := candle.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("register %d: %w", userID, err)
	}
	if !candle.ValidTimeframes[cfg.Timeframe] {
		log.Warn().Int64("user", userID).Str("timeframe", cfg.Timeframe).Msg("timeframe outside the primary set, accepting it")
	}
	inst, err := strategy.NewInstance(cfg)
	if err != nil {
		return nil, fmt.Errorf("register %d: %w", userID, err)
	}

	e := &Entry{
		UserID:     userID,
		Pair:       cfg.Pair,
		Timeframe:  cfg.Timeframe,
		aggregator: candle.New(tfSeconds),
		instance:   inst,
	}

	r.mu.Lock()
	r.entries[userID] = e
	r.mu.Unlock()
	return e, nil
}

// Unregister removes a user's running entry. It is idempotent.
func (r *Registry) Unregister(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, userID)
}

// Get returns the running entry for a user, if any.
func (r *Registry) Get(userID int64) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	return e, ok
}

// IsTrading reports whether a user currently has a running entry.
func (r *Registry) IsTrading(userID int64) bool {
	_, ok := r.Get(userID)
	return ok
}

// Users lists every currently-registered user ID.
func (r *Registry) Users() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// StateInfo is a snapshot of one entry's observable state, for
// observability (the worker's heartbeat log line reads it).
type StateInfo struct {
	UserID     int64
	Pair       string
	Timeframe  string
	TradeCount int
	LastSignal strategy.Signal
}

// StateInfo returns a point-in-time snapshot of an entry, locking just long
// enough to copy its fields.
func (e *Entry) StateInfo() StateInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StateInfo{
		UserID:     e.UserID,
		Pair:       e.Pair,
		Timeframe:  e.Timeframe,
		TradeCount: e.tradeCount,
		LastSignal: e.lastSignal,
	}
}

// OnTick feeds one trade price/timestamp through the entry's aggregator and,
// if it closes a candle, through the strategy instance. It returns the
// resulting signal and whether a candle actually closed on this call.
func (e *Entry) OnTick(price float64, ts int64) (strategy.Signal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.process(e.aggregator.OnTick(price, ts))
}

// OnTimer forces the entry's aggregator to close its current candle if a
// tick hasn't already done so, and evaluates the strategy if it did.
func (e *Entry) OnTimer() (strategy.Signal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.process(e.aggregator.OnTimerTick())
}

func (e *Entry) process(c candle.Closed, closed bool) (strategy.Signal, bool) {
	if !closed {
		return strategy.Signal{}, false
	}
	sig := e.instance.OnClosedCandle(c)
	if sig.Kind != strategy.Hold {
		e.tradeCount++
		e.lastSignal = sig
	}
	return sig, true
}
