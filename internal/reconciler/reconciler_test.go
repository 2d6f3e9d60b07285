package reconciler

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsignal/signalengine/internal/store"
	"github.com/chainsignal/signalengine/internal/strategy"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, userID int64, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir() + "/reconciler_test.db")
	require.NoError(t, err)
	return s
}

// S5: a Buy signal with no open position opens one; a second Buy while that
// position is open is suppressed; a Sell closes the position and records a
// trade; a further Sell with nothing open is suppressed.
func TestReconciler_S5_BuySellLifecycle(t *testing.T) {
	s := newTestStore(t)
	notifier := &recordingNotifier{}
	r := New(s, notifier, decimal.NewFromFloat(0.01))

	ctx := context.Background()
	const userID = int64(42)

	r.Handle(ctx, userID, strategy.Signal{Kind: strategy.Buy, Pair: "BTCUSDT", Price: 100, Confidence: 0.8, Reason: "rsi oversold"})
	pos, err := s.OpenPosition(userID, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos, "first buy should open a position")

	r.Handle(ctx, userID, strategy.Signal{Kind: strategy.Buy, Pair: "BTCUSDT", Price: 105, Confidence: 0.8, Reason: "rsi oversold again"})
	stillOpen, err := s.OpenPosition(userID, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, pos.ID, stillOpen.ID, "second buy must be suppressed, not open a second position")

	r.Handle(ctx, userID, strategy.Signal{Kind: strategy.Sell, Pair: "BTCUSDT", Price: 110, Confidence: 0.8, Reason: "rsi overbought"})
	closedPos, err := s.OpenPosition(userID, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, closedPos, "position should be closed after sell")

	trades, err := s.TradesByUser(userID, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].PnL.GreaterThan(decimal.Zero), "selling above entry price should record positive PnL")

	r.Handle(ctx, userID, strategy.Signal{Kind: strategy.Sell, Pair: "BTCUSDT", Price: 120, Confidence: 0.8, Reason: "late sell"})
	trades, err = s.TradesByUser(userID, 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1, "sell with nothing open must not create a second trade")

	// Every signal handled above — including the two suppressed ones —
	// must still have produced a signals row.
	signals, err := s.SignalsByUser(userID, 10)
	require.NoError(t, err)
	require.Len(t, signals, 4, "a signals row is persisted for every non-Hold signal, suppressed or not")

	byStatus := map[string]int{}
	for _, sig := range signals {
		byStatus[sig.Status]++
	}
	assert.Equal(t, 2, byStatus["executed"], "the first buy and first sell should be recorded as executed")
	assert.Equal(t, 2, byStatus["suppressed"], "the duplicate buy and the late sell should be recorded as suppressed")
}
