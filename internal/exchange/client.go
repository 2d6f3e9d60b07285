// Package exchange wires up a single upstream trade-tick connection for one
// pair. It is the piece of the Stream Manager (C5) that actually talks to
// the exchange; internal/streammanager owns the per-StreamKey lifecycle and
// subscriber fan-out.
//
// Grounded directly on the teacher's internal/binance/client.go dial/
// reconnect loop, generalized from a fixed-symbol client into a per-pair
// Client the Stream Manager can start and stop on demand.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Trade is one normalized upstream price tick.
type Trade struct {
	Pair      string
	Price     float64
	Timestamp int64 // unix seconds
}

const (
	dialTimeout    = 10 * time.Second
	pingInterval   = 20 * time.Second
	reconnectBase  = 1 * time.Second
	reconnectCap   = 30 * time.Second
	staleThreshold = 60 * time.Second
)

// Client streams trades for a single pair from a Binance-style single-symbol
// trade stream, reconnecting with exponential backoff on any failure.
type Client struct {
	wsURL string
	pair  string

	// lastTradeAt is unix nanos, written by runOnce's read loop and read by
	// its stale-connection watchdog goroutine; atomic since both run
	// concurrently for the lifetime of one connection.
	lastTradeAt atomic.Int64
}

// NewClient builds a Client that will dial wsBase + "/" + lower(pair) + "@trade".
func NewClient(wsBase, pair string) *Client {
	return &Client{wsURL: wsBase, pair: pair}
}

// Run dials the upstream stream and forwards decoded trades to out until ctx
// is cancelled, and then returns ctx.Err() (never nil); any dial or read
// failure triggers a backoff-and-retry rather than a returned error, so
// that the stream manager can treat Run as "run forever, log failures".
func (c *Client) Run(ctx context.Context, out chan<- Trade) error {
	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.runOnce(ctx, out); err != nil {
			log.Warn().Err(err).Str("pair", c.pair).Dur("backoff", backoff).Msg("exchange stream disconnected, retrying")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectCap {
			backoff = reconnectCap
		}
	}
}

func (c *Client) runOnce(ctx context.Context, out chan<- Trade) error {
	url := c.streamURL()
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	c.lastTradeAt.Store(0)

	log.Info().Str("pair", c.pair).Str("url", url).Msg("exchange stream connected")

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	staleTicker := time.NewTicker(staleThreshold)
	defer staleTicker.Stop()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-staleTicker.C:
				last := c.lastTradeAt.Load()
				if last != 0 && time.Since(time.Unix(0, last)) > staleThreshold {
					log.Warn().Str("pair", c.pair).Msg("exchange stream stale, forcing reconnect")
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		trade, err := decodeTrade(c.pair, msg)
		if err != nil {
			log.Debug().Err(err).Msg("skipping undecodable stream message")
			continue
		}
		c.lastTradeAt.Store(time.Now().UnixNano())
		select {
		case out <- trade:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) streamURL() string {
	return fmt.Sprintf("%s/%s@trade", c.wsURL, lower(c.pair))
}

type rawTradeEvent struct {
	Price string `json:"p"`
	Time  int64  `json:"T"`
}

func decodeTrade(pair string, msg []byte) (Trade, error) {
	var ev rawTradeEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return Trade{}, err
	}
	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil {
		return Trade{}, fmt.Errorf("parse trade price %q: %w", ev.Price, err)
	}
	ts := ev.Time / 1000
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return Trade{Pair: pair, Price: price, Timestamp: ts}, nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
