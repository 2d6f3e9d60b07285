// Package candle implements the per-user, per-timeframe OHLC aggregator
// (C3): a candle builder with dual tick-driven and timer-driven closure
// paths, guaranteeing at-most-once emission per bucket (invariant I5).
//
// Grounded directly on original_source's OneMinuteCandle/TradingState in
// bot/src/services/trading_signal.rs, generalized from a hardcoded 1-minute
// bucket to an arbitrary parsed timeframe.
package candle

import (
	"fmt"
	"strconv"
	"sync"
)

// Candle is the mutable, in-progress bar. Open is fixed at creation; High/
// Low/Close update on every tick; Processed is set exactly once by
// whichever closure path (tick or timer) wins the race under the
// Aggregator's lock.
type Candle struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Start     int64
	Processed bool
}

// Closed is the immutable snapshot handed to strategies on candle close.
type Closed struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp int64
}

// ParseTimeframe converts a suffix string (m/h/d/w) to seconds.
func ParseTimeframe(tf string) (int64, error) {
	if tf == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	suffix := tf[len(tf)-1]
	numPart := tf[:len(tf)-1]
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q: %w", tf, err)
	}
	switch suffix {
	case 'm':
		return n * 60, nil
	case 'h':
		return n * 3600, nil
	case 'd':
		return n * 86400, nil
	case 'w':
		return n * 7 * 86400, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe suffix in %q", tf)
	}
}

// ValidTimeframes lists the timeframes the spec calls out as the primary
// accepted set; others are logged but accepted per the validation rules.
var ValidTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "1d": true, "1w": true,
}

// Aggregator builds time-aligned candles from an asynchronous tick stream
// for a single user+timeframe. All mutation happens under the aggregator's
// own mu, so a tick-driven and a timer-driven closure can never both emit
// the same candle.
type Aggregator struct {
	mu      sync.Mutex
	tfSec   int64
	current *Candle
}

// New creates an Aggregator for the given timeframe in seconds.
func New(tfSeconds int64) *Aggregator {
	return &Aggregator{tfSec: tfSeconds}
}

func (a *Aggregator) bucket(ts int64) int64 {
	return (ts / a.tfSec) * a.tfSec
}

// OnTick feeds one trade price/timestamp and returns a Closed candle if the
// tick observed a bucket transition that this call is responsible for
// closing; otherwise it returns (Closed{}, false).
func (a *Aggregator) OnTick(price float64, ts int64) (Closed, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.bucket(ts)

	if a.current == nil {
		a.current = &Candle{Open: price, High: price, Low: price, Close: price, Start: b}
		return Closed{}, false
	}

	if b > a.current.Start {
		var out Closed
		emit := false
		if !a.current.Processed {
			a.current.Processed = true
			out = snapshot(a.current)
			emit = true
		}
		a.current = &Candle{Open: price, High: price, Low: price, Close: price, Start: b}
		return out, emit
	}

	if price > a.current.High {
		a.current.High = price
	}
	if price < a.current.Low {
		a.current.Low = price
	}
	a.current.Close = price
	return Closed{}, false
}

// OnTimerTick is invoked from a wall-clock timer whose period equals the
// aggregator's timeframe. It closes the current candle if it has not
// already been closed by a tick; the slot itself is not cleared, since the
// next tick's stale-bucket check will replace it.
func (a *Aggregator) OnTimerTick() (Closed, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil || a.current.Processed {
		return Closed{}, false
	}
	a.current.Processed = true
	return snapshot(a.current), true
}

func snapshot(c *Candle) Closed {
	return Closed{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: 0, Timestamp: c.Start}
}
