// Package worker implements the Per-User Trading Worker (C6): a tick task
// and a timer task per user, sharing one lock-timeout-guarded executor
// entry, with periodic heartbeat logging.
//
// Grounded on original_source's start_user_trading_service in
// bot/src/services/trading_signal.rs (spawns a tick consumer and a timer
// alongside each other per user) and on the teacher's bot/arb_bot.go-style
// heartbeat-ticker loop shape.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chainsignal/signalengine/internal/exchange"
	"github.com/chainsignal/signalengine/internal/executor"
	"github.com/chainsignal/signalengine/internal/strategy"
)

// DefaultLockTimeout is the time a worker will wait to acquire its entry's
// lock before dropping a tick or timer fire and logging the drop, per the
// spec's concurrency model.
const DefaultLockTimeout = 5 * time.Second

// HeartbeatInterval is how often a running worker logs a liveness line.
const HeartbeatInterval = 120 * time.Second

// SignalHandler receives every non-Hold signal a worker's strategy emits.
// internal/reconciler implements this to turn signals into position/trade
// state changes.
type SignalHandler interface {
	Handle(ctx context.Context, userID int64, sig strategy.Signal)
}

// Worker drives one user's Entry from a trade stream and a wall-clock
// timer. A Worker owns a one-token channel used as a timeout-capable mutex,
// since the spec requires dropping (not blocking indefinitely) when the
// entry is contended past LockTimeout.
type Worker struct {
	UserID int64

	entry       *executor.Entry
	trades      <-chan exchange.Trade
	unsubscribe func()
	timeframe   time.Duration
	handler     SignalHandler
	lockTimeout time.Duration

	token chan struct{}
}

// New creates a Worker for userID, consuming trades and driving entry.
func New(userID int64, entry *executor.Entry, trades <-chan exchange.Trade, unsubscribe func(), timeframe time.Duration, handler SignalHandler) *Worker {
	token := make(chan struct{}, 1)
	token <- struct{}{}
	return &Worker{
		UserID:      userID,
		entry:       entry,
		trades:      trades,
		unsubscribe: unsubscribe,
		timeframe:   timeframe,
		handler:     handler,
		lockTimeout: DefaultLockTimeout,
		token:       token,
	}
}

// Run blocks, driving the worker's tick task and timer task as two
// concurrent goroutines until ctx is cancelled, then unsubscribes from its
// trade stream before returning. Running them concurrently (rather than in
// one shared select loop) is what makes w.token's lock-timeout actually
// reachable: a tick and a timer fire can genuinely race for the same Entry.
func (w *Worker) Run(ctx context.Context) {
	defer w.unsubscribe()

	log.Info().Int64("user", w.UserID).Str("pair", w.entry.Pair).Msg("worker started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.runTickLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		w.runTimerLoop(ctx)
	}()
	wg.Wait()

	log.Info().Int64("user", w.UserID).Msg("worker stopping")
}

func (w *Worker) runTickLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-w.trades:
			if !ok {
				return
			}
			w.onTick(ctx, trade)
		}
	}
}

func (w *Worker) runTimerLoop(ctx context.Context) {
	timerTicker := time.NewTicker(w.timeframe)
	defer timerTicker.Stop()
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timerTicker.C:
			w.onTimer(ctx)
		case <-heartbeat.C:
			info := w.entry.StateInfo()
			log.Info().Int64("user", w.UserID).Str("pair", info.Pair).Int("trades", info.TradeCount).Msg("worker heartbeat")
		}
	}
}

func (w *Worker) onTick(ctx context.Context, trade exchange.Trade) {
	if !w.acquire(ctx) {
		log.Warn().Int64("user", w.UserID).Msg("dropped tick: lock timeout")
		return
	}
	defer w.release()

	sig, closed := w.entry.OnTick(trade.Price, trade.Timestamp)
	if closed && sig.Kind != strategy.Hold {
		w.handler.Handle(ctx, w.UserID, sig)
	}
}

func (w *Worker) onTimer(ctx context.Context) {
	if !w.acquire(ctx) {
		log.Warn().Int64("user", w.UserID).Msg("dropped timer fire: lock timeout")
		return
	}
	defer w.release()

	sig, closed := w.entry.OnTimer()
	if closed && sig.Kind != strategy.Hold {
		w.handler.Handle(ctx, w.UserID, sig)
	}
}

func (w *Worker) acquire(ctx context.Context) bool {
	timer := time.NewTimer(w.lockTimeout)
	defer timer.Stop()
	select {
	case <-w.token:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (w *Worker) release() {
	w.token <- struct{}{}
}
