package streammanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePair(t *testing.T) {
	assert.Equal(t, "BTCUSDT", NormalizePair("btc-usdt"))
	assert.Equal(t, "ETHUSDT", NormalizePair("ETH/USDT"))
}

func TestQuoteAssetOf(t *testing.T) {
	assert.Equal(t, "USDT", quoteAssetOf("BTCUSDT"))
	assert.Equal(t, "", quoteAssetOf("BTC"))
}

// P5: two subscribers to the same exchange+pair share one stream entry; the
// entry is torn down only once the last subscriber unsubscribes.
func TestManager_P5_FanOutRefcounting(t *testing.T) {
	m := New(map[string]string{"binance": "ws://127.0.0.1:1"}, 8)

	_, unsub1 := m.Subscribe("binance", "btcusdt")
	assert.Equal(t, 1, m.SubscriberCount("binance", "btcusdt"))

	_, unsub2 := m.Subscribe("Binance", "BTC-USDT")
	assert.Equal(t, 2, m.SubscriberCount("binance", "btcusdt"), "differently-formatted exchange/pair must normalize to the same stream entry")
	assert.Len(t, m.ActiveStreams(), 1)

	unsub1()
	assert.Equal(t, 1, m.SubscriberCount("binance", "btcusdt"))

	unsub2()
	assert.Equal(t, 0, m.SubscriberCount("binance", "btcusdt"))
	assert.Len(t, m.ActiveStreams(), 0)
}

// Two exchanges quoting the same pair must never collide into one shared
// stream entry.
func TestManager_DifferentExchangesSamePairDoNotShareEntry(t *testing.T) {
	m := New(map[string]string{"binance": "ws://127.0.0.1:1", "kraken": "ws://127.0.0.1:2"}, 8)

	_, unsubBinance := m.Subscribe("binance", "btcusdt")
	_, unsubKraken := m.Subscribe("kraken", "btcusdt")
	defer unsubBinance()
	defer unsubKraken()

	assert.Equal(t, 1, m.SubscriberCount("binance", "btcusdt"))
	assert.Equal(t, 1, m.SubscriberCount("kraken", "btcusdt"))
	assert.Len(t, m.ActiveStreams(), 2)
}

// Subscribing to an exchange with no registered websocket base must not
// panic; it should hand back an already-closed channel.
func TestManager_UnknownExchangeReturnsClosedChannel(t *testing.T) {
	m := New(map[string]string{"binance": "ws://127.0.0.1:1"}, 8)

	ch, unsubscribe := m.Subscribe("coinbase", "btcusdt")
	defer unsubscribe()

	_, ok := <-ch
	assert.False(t, ok, "channel for an unregistered exchange must be closed, not block forever")
}
