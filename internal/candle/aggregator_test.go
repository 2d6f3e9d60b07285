package candle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	cases := map[string]int64{"1m": 60, "5m": 300, "15m": 900, "1h": 3600, "4h": 14400, "1d": 86400, "1w": 604800}
	for tf, want := range cases {
		got, err := ParseTimeframe(tf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTimeframe("bogus")
	assert.Error(t, err)
}

// S1: tf=1m, ticks (100,0),(105,15),(97,45),(101,59),(102,60) closes the
// first bucket exactly on the (102,60) tick.
func TestAggregator_S1_TickDrivenClosure(t *testing.T) {
	a := New(60)

	for _, tick := range []struct {
		price float64
		ts    int64
	}{{100, 0}, {105, 15}, {97, 45}, {101, 59}} {
		closed, ok := a.OnTick(tick.price, tick.ts)
		assert.False(t, ok, "no closure expected mid-bucket")
		assert.Equal(t, Closed{}, closed)
	}

	closed, ok := a.OnTick(102, 60)
	require.True(t, ok)
	assert.Equal(t, Closed{Open: 100, High: 105, Low: 97, Close: 101, Volume: 0, Timestamp: 0}, closed)
}

// S2: tf=1m, a single tick then a timer fire closes the candle; a second
// timer fire with no new ticks emits nothing.
func TestAggregator_S2_TimerDrivenClosure(t *testing.T) {
	a := New(60)
	_, ok := a.OnTick(100, 0)
	assert.False(t, ok)

	closed, ok := a.OnTimerTick()
	require.True(t, ok)
	assert.Equal(t, Closed{Open: 100, High: 100, Low: 100, Close: 100, Timestamp: 0}, closed)

	closed, ok = a.OnTimerTick()
	assert.False(t, ok)
	assert.Equal(t, Closed{}, closed)
}

// P7: ticks at ts=119,120,121 for tf=60s produce a ClosedCandle with
// start=60 on the ts=120 transition, whose close is the ts=119 price.
func TestAggregator_P7_CandleBoundary(t *testing.T) {
	a := New(60)
	_, ok := a.OnTick(50, 119)
	assert.False(t, ok)

	closed, ok := a.OnTick(55, 120)
	require.True(t, ok)
	assert.Equal(t, int64(60), closed.Timestamp)
	assert.Equal(t, 50.0, closed.Close)

	_, ok = a.OnTick(60, 121)
	assert.False(t, ok)
}

// P2: two concurrent callers racing to close the same candle (e.g. a timer
// firing twice in quick succession while a tick-driven closure is also in
// flight) must never both observe processed=false.
func TestAggregator_P2_AtMostOnceUnderRace(t *testing.T) {
	a := New(60)
	_, _ = a.OnTick(100, 0)

	var wg sync.WaitGroup
	results := make(chan bool, 2)

	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, ok := a.OnTimerTick()
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	emitted := 0
	for ok := range results {
		if ok {
			emitted++
		}
	}
	assert.Equal(t, 1, emitted, "exactly one racer should observe processed=false and emit")
}
