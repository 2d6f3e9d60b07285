package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsignal/signalengine/internal/strategy"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()
	cfg := strategy.Config{
		Type: strategy.KindRSI, Pair: "BTCUSDT", Timeframe: "1m",
		Parameters: map[string]float64{"period": 5},
	}

	entry, err := r.Register(1, cfg)
	require.NoError(t, err)
	assert.True(t, r.IsTrading(1))
	assert.False(t, r.IsTrading(2))

	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Same(t, entry, got)

	r.Unregister(1)
	assert.False(t, r.IsTrading(1))
}

func TestRegistry_RejectsInvalidConfig(t *testing.T) {
	r := New()
	_, err := r.Register(1, strategy.Config{Type: strategy.KindRSI, Timeframe: "1m"})
	assert.Error(t, err, "missing pair should fail validation before registration")
	assert.False(t, r.IsTrading(1))
}

func TestEntry_OnTick_ClosesCandleAndEvaluatesStrategy(t *testing.T) {
	r := New()
	entry, err := r.Register(1, strategy.Config{
		Type: strategy.KindRSI, Pair: "BTCUSDT", Timeframe: "1m",
		Parameters: map[string]float64{"period": 3},
	})
	require.NoError(t, err)

	price := 100.0
	var lastClosed bool
	for minute := int64(0); minute < 10; minute++ {
		price -= 2
		_, closed := entry.OnTick(price, minute*60)
		if closed {
			lastClosed = true
		}
	}
	assert.True(t, lastClosed, "a full run of minute ticks should close at least one candle")

	info := entry.StateInfo()
	assert.Equal(t, int64(1), info.UserID)
}

func TestEntry_OnTimer_NoOpWithoutCandle(t *testing.T) {
	r := New()
	entry, err := r.Register(1, strategy.Config{
		Type: strategy.KindRSI, Pair: "BTCUSDT", Timeframe: "1m",
		Parameters: map[string]float64{"period": 3},
	})
	require.NoError(t, err)

	_, closed := entry.OnTimer()
	assert.False(t, closed)
}
