// Package streammanager implements the Stream Manager (C5): one shared
// upstream connection per (exchange, normalized pair), fanned out to every subscribed
// worker. Multiple users trading the same pair share a single exchange
// connection instead of each opening their own.
//
// Grounded on original_source's StreamManager/normalize_pair in
// bot/src/services/trading_signal.rs (map[StreamKey]*StreamEntry,
// refcounted subscribe/unsubscribe, one background task per entry) and the
// teacher's internal/binance/client.go for the underlying dial/reconnect
// task shape (adapted into internal/exchange).
package streammanager

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chainsignal/signalengine/internal/exchange"
)

// DefaultBufferCapacity is the per-subscriber and upstream channel size, per
// the spec's "broadcast channel capacity 1,000" default.
const DefaultBufferCapacity = 1000

// DefaultExchange is used wherever a caller leaves a strategy's Exchange
// field unset, keeping single-exchange configs working without every call
// site having to know the fallback.
const DefaultExchange = "binance"

var quoteAssets = []string{"USDT", "BUSD", "USDC", "BTC", "ETH", "BNB", "EUR", "USD"}

// NormalizePair uppercases a pair and ensures it carries no separator,
// matching the exchange's own symbol format (e.g. "btc-usdt" -> "BTCUSDT").
func NormalizePair(pair string) string {
	p := strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(pair, "-", ""), "/", ""))
	return p
}

// quoteAssetOf returns the recognized quote asset suffix of a normalized
// pair, or "" if none of the known quote assets match. Four-letter assets
// are listed first, so the longest matching suffix wins. Stream keys do not
// use it; they are built from the whole normalized pair.
func quoteAssetOf(pair string) string {
	for _, q := range quoteAssets {
		if strings.HasSuffix(pair, q) && len(pair) > len(q) {
			return q
		}
	}
	return ""
}

type entry struct {
	exchange    string
	pair        string
	subscribers map[int]chan exchange.Trade
	nextID      int
	ctx         context.Context
	cancel      context.CancelFunc
	upstream    chan exchange.Trade
}

// streamKey mirrors the spec's StreamKey = (exchange, base, quote): two
// different exchanges quoting the same pair must never share an entry.
func streamKey(exchangeName, pair string) string {
	return strings.ToLower(exchangeName) + ":" + NormalizePair(pair)
}

// Manager owns the set of live upstream connections, keyed by
// (exchange, normalized pair), and the subscriber fan-out for each.
type Manager struct {
	mu        sync.Mutex
	entries   map[string]*entry
	wsBases   map[string]string // exchange (lowercase) -> websocket base URL
	bufferCap int
}

// New creates a Manager that dials the websocket base registered for an
// exchange the first time any pair on that exchange gets a subscriber.
// wsBases keys are exchange names, matched case-insensitively.
func New(wsBases map[string]string, bufferCap int) *Manager {
	if bufferCap <= 0 {
		bufferCap = DefaultBufferCapacity
	}
	normalized := make(map[string]string, len(wsBases))
	for k, v := range wsBases {
		normalized[strings.ToLower(k)] = v
	}
	return &Manager{entries: make(map[string]*entry), wsBases: normalized, bufferCap: bufferCap}
}

// Subscribe registers interest in one exchange's trade stream for pair,
// starting the upstream connection if this is the first subscriber to that
// (exchange, pair) combination. The returned channel receives every trade
// until unsubscribe is called; the caller must drain it promptly since
// sends to a full subscriber channel are dropped. If exchangeName has no
// registered websocket base, Subscribe logs an error and returns a closed
// channel rather than panicking.
func (m *Manager) Subscribe(exchangeName, pair string) (<-chan exchange.Trade, func()) {
	exchangeName = strings.ToLower(exchangeName)
	key := streamKey(exchangeName, pair)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		wsBase, known := m.wsBases[exchangeName]
		if !known {
			log.Error().Str("exchange", exchangeName).Str("pair", pair).Msg("no websocket base registered for exchange")
			closed := make(chan exchange.Trade)
			close(closed)
			return closed, func() {}
		}

		ctx, cancel := context.WithCancel(context.Background())
		e = &entry{
			exchange:    exchangeName,
			pair:        NormalizePair(pair),
			subscribers: make(map[int]chan exchange.Trade),
			ctx:         ctx,
			cancel:      cancel,
			upstream:    make(chan exchange.Trade, m.bufferCap),
		}
		m.entries[key] = e

		client := exchange.NewClient(wsBase, e.pair)
		go func() {
			if err := client.Run(ctx, e.upstream); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("exchange", exchangeName).Str("pair", e.pair).Msg("stream upstream task exited unexpectedly")
			}
		}()
		go m.fanOut(e)

		log.Info().Str("exchange", exchangeName).Str("pair", e.pair).Msg("stream entry started")
	}

	id := e.nextID
	e.nextID++
	sub := make(chan exchange.Trade, m.bufferCap)
	e.subscribers[id] = sub

	unsubscribe := func() { m.unsubscribe(key, id) }
	return sub, unsubscribe
}

func (m *Manager) fanOut(e *entry) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case trade := <-e.upstream:
			m.mu.Lock()
			for _, sub := range e.subscribers {
				select {
				case sub <- trade:
				default:
					log.Warn().Str("exchange", e.exchange).Str("pair", e.pair).Msg("subscriber channel full, dropping trade")
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) unsubscribe(key string, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return
	}
	if sub, ok := e.subscribers[id]; ok {
		delete(e.subscribers, id)
		close(sub)
	}
	if len(e.subscribers) == 0 {
		e.cancel()
		delete(m.entries, key)
		log.Info().Str("exchange", e.exchange).Str("pair", e.pair).Msg("stream entry stopped, no subscribers remain")
	}
}

// SubscriberCount reports the number of active subscribers for one
// exchange's pair stream, for diagnostics and the P5 fan-out refcounting
// test.
func (m *Manager) SubscriberCount(exchangeName, pair string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[streamKey(exchangeName, pair)]
	if !ok {
		return 0
	}
	return len(e.subscribers)
}

// ActiveStreams lists the "exchange:PAIR" stream keys with at least one
// subscriber.
func (m *Manager) ActiveStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	streams := make([]string, 0, len(m.entries))
	for k := range m.entries {
		streams = append(streams, k)
	}
	return streams
}
