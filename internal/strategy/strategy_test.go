package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsignal/signalengine/internal/candle"
)

func closedAt(price float64) candle.Closed {
	return candle.Closed{Open: price, High: price, Low: price, Close: price}
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{Type: KindRSI, Pair: "BTCUSDT", Parameters: map[string]float64{"period": 14}}
	assert.NoError(t, valid.Validate())

	noPair := Config{Type: KindRSI, Parameters: map[string]float64{"period": 14}}
	assert.Error(t, noPair.Validate())

	badPeriod := Config{Type: KindRSI, Pair: "BTCUSDT", Parameters: map[string]float64{"period": 500}}
	assert.Error(t, badPeriod.Validate())

	macdFastNotLessSlow := Config{Type: KindMACD, Pair: "BTCUSDT", Parameters: map[string]float64{"fast": 30, "slow": 26, "signal": 9}}
	assert.Error(t, macdFastNotLessSlow.Validate())

	mixedNoSub := Config{Type: KindMixed, Pair: "BTCUSDT", Combinator: CombinatorAll}
	assert.Error(t, mixedNoSub.Validate())

	mixedOK := Config{
		Type: KindMixed, Pair: "BTCUSDT", Combinator: CombinatorAll,
		SubConfigs: []Config{{Type: KindRSI, Pair: "BTCUSDT", Parameters: map[string]float64{"period": 14}}},
	}
	assert.NoError(t, mixedOK.Validate())
}

// S3: RSI(14) strategy fed a monotonic decline then a monotonic rise emits
// exactly one Buy (when RSI first crosses under 30) and one Sell (when it
// first crosses back over 70), suppressing repeats in between.
func TestInstance_S3_RSIBuySellSequence(t *testing.T) {
	inst, err := NewInstance(Config{Type: KindRSI, Pair: "BTCUSDT", Parameters: map[string]float64{"period": 14}})
	require.NoError(t, err)

	price := 100.0
	buys, sells := 0, 0
	for i := 0; i < 20; i++ {
		price -= 1
		sig := inst.OnClosedCandle(closedAt(price))
		switch sig.Kind {
		case Buy:
			buys++
		case Sell:
			sells++
		}
	}
	assert.Equal(t, 1, buys, "only the first oversold crossing should emit a Buy")
	assert.Equal(t, 0, sells)

	for i := 0; i < 40; i++ {
		price += 1
		sig := inst.OnClosedCandle(closedAt(price))
		if sig.Kind == Sell {
			sells++
		}
	}
	assert.Equal(t, 1, sells, "only the first overbought crossing should emit a Sell")
}

// P6: repeated candles that keep evaluating to the same non-Hold kind never
// emit more than one signal of that kind in a row.
func TestInstance_P6_DuplicateSuppression(t *testing.T) {
	inst, err := NewInstance(Config{Type: KindRSI, Pair: "BTCUSDT", Parameters: map[string]float64{"period": 5}})
	require.NoError(t, err)

	price := 100.0
	for i := 0; i < 10; i++ {
		price -= 1
		inst.OnClosedCandle(closedAt(price))
	}

	// Feed several more candles that keep RSI pinned low; each subsequent
	// evaluation must suppress to Hold since the kind hasn't changed.
	suppressedBuys := 0
	for i := 0; i < 5; i++ {
		price -= 1
		sig := inst.OnClosedCandle(closedAt(price))
		if sig.Kind == Buy {
			suppressedBuys++
		}
	}
	assert.Equal(t, 0, suppressedBuys, "sustained oversold RSI must not re-emit Buy every candle")
}

// A sub-instance voting Buy and one voting Sell on the same candle must
// always hold, even under the Any combinator, which would otherwise short
// circuit to Buy on the first positive vote.
func TestInstance_Mixed_ContradictorySubSignalsHold(t *testing.T) {
	inst, err := NewInstance(Config{
		Type: KindMixed, Pair: "BTCUSDT", Combinator: CombinatorAny,
		SubConfigs: []Config{
			{Type: KindRSI, Pair: "BTCUSDT", Parameters: map[string]float64{"period": 5}},
			{
				Type: KindRSI, Pair: "BTCUSDT", Parameters: map[string]float64{"period": 5},
				BuyCondition: "rsi > 1000", SellCondition: "rsi < 35",
			},
		},
	})
	require.NoError(t, err)

	price := 100.0
	var last Signal
	for i := 0; i < 10; i++ {
		price -= 1
		last = inst.OnClosedCandle(closedAt(price))
	}
	assert.Equal(t, Hold, last.Kind, "one sub voting Buy and the other voting Sell must hold, not pick a side")
}

// Regression for vote-starvation: a sub-instance's own duplicate-signal
// suppression must never be applied before its vote reaches the Mixed
// combinator, or a sub that already fired once would go silent on every
// later candle even while its condition still holds.
func TestInstance_Mixed_SubVotesPersistAcrossCandles(t *testing.T) {
	inst, err := NewInstance(Config{
		Type: KindMixed, Pair: "BTCUSDT", Combinator: CombinatorAll,
		SubConfigs: []Config{
			{Type: KindRSI, Pair: "BTCUSDT", Parameters: map[string]float64{"period": 5}},
			{Type: KindRSI, Pair: "BTCUSDT", Parameters: map[string]float64{"period": 5}},
		},
	})
	require.NoError(t, err)

	price := 100.0
	buyVotes := 0
	for i := 0; i < 10; i++ {
		price -= 1
		kind, _, _ := inst.evaluateMixed(closedAt(price))
		if kind == Buy {
			buyVotes++
		}
	}
	assert.Greater(t, buyVotes, 1, "both sub-instances must keep voting Buy while RSI stays oversold, not just on the first crossing")
}

func TestParseCondition(t *testing.T) {
	token, op, threshold, err := parseCondition("rsi < 30")
	require.NoError(t, err)
	assert.Equal(t, "rsi", token)
	assert.Equal(t, "<", op)
	assert.Equal(t, 30.0, threshold)

	_, _, _, err = parseCondition("garbage")
	assert.Error(t, err)
}

func TestExtractThreshold(t *testing.T) {
	assert.Equal(t, 25.0, extractThreshold("adx > 25", 99))
	assert.Equal(t, 99.0, extractThreshold("", 99))
}
