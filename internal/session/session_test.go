package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsignal/signalengine/internal/executor"
	"github.com/chainsignal/signalengine/internal/store"
	"github.com/chainsignal/signalengine/internal/streammanager"
	"github.com/chainsignal/signalengine/internal/strategy"
)

type noopHandler struct{}

func (noopHandler) Handle(ctx context.Context, userID int64, sig strategy.Signal) {}

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir() + "/session_test.db")
	require.NoError(t, err)
	streams := streammanager.New(map[string]string{"binance": "ws://127.0.0.1:1"}, 8)
	m := New(s, executor.New(), streams, noopHandler{})
	return m, s
}

func TestManager_StartPersistsActiveSession(t *testing.T) {
	m, s := newTestManager(t)
	cfg := strategy.Config{Type: strategy.KindRSI, Pair: "BTCUSDT", Timeframe: "1m", Parameters: map[string]float64{"period": 14}}

	err := m.Start(context.Background(), 1, cfg)
	require.NoError(t, err)

	sessions, err := s.ActiveSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, int64(1), sessions[0].UserID)
	assert.Equal(t, "BTCUSDT", sessions[0].Pair)
}

func TestManager_StartTwiceForSameUserFails(t *testing.T) {
	m, _ := newTestManager(t)
	cfg := strategy.Config{Type: strategy.KindRSI, Pair: "BTCUSDT", Timeframe: "1m", Parameters: map[string]float64{"period": 14}}

	require.NoError(t, m.Start(context.Background(), 1, cfg))
	err := m.Start(context.Background(), 1, cfg)
	assert.Error(t, err)
}

func TestManager_Stop(t *testing.T) {
	m, s := newTestManager(t)
	cfg := strategy.Config{Type: strategy.KindRSI, Pair: "BTCUSDT", Timeframe: "1m", Parameters: map[string]float64{"period": 14}}
	require.NoError(t, m.Start(context.Background(), 1, cfg))

	require.NoError(t, m.Stop(1))

	sessions, err := s.ActiveSessions()
	require.NoError(t, err)
	assert.Len(t, sessions, 0)
}

// S6: restoring active sessions at startup re-registers every stored
// strategy, counting (not aborting on) a session with unparsable config.
func TestManager_S6_RestoreActiveSessions(t *testing.T) {
	m, s := newTestManager(t)

	good := strategy.Config{Type: strategy.KindRSI, Pair: "ETHUSDT", Timeframe: "5m", Parameters: map[string]float64{"period": 14}}
	require.NoError(t, m.Start(context.Background(), 1, good))

	require.NoError(t, s.SaveSession(&store.Session{
		ID: store.NewID(), UserID: 2, Pair: "BTCUSDT", Timeframe: "1m",
		Status: "active", StrategyJSON: "not valid json", StartedAt: time.Now(),
	}))

	restored, failed := m.RestoreActiveSessions(context.Background())
	assert.Equal(t, 2, restored+failed)
	assert.Equal(t, 1, failed, "the malformed session should be counted as a failure")
	assert.GreaterOrEqual(t, restored, 1)
}
