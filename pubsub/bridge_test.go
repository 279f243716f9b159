package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu     sync.Mutex
	bodies []string
}

func (s *sink) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, string(body))
		s.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func newTestBridge(t *testing.T, marketURL, copyURL string) *Bridge {
	t.Helper()
	b, err := NewBridge(BridgeConfig{
		RedisURL:     "redis://localhost:6379/0",
		MarketURL:    marketURL,
		CopyTradeURL: copyURL,
	})
	require.NoError(t, err)
	return b
}

func TestBridgeForwardsCopyTradeVerbatim(t *testing.T) {
	copySink := &sink{}
	copySrv := httptest.NewServer(copySink.handler(http.StatusOK))
	defer copySrv.Close()

	b := newTestBridge(t, "http://unused.invalid", copySrv.URL)

	payload := `{"tx_id":"t1","user_address":"0xABC","market_id":"123","outcome":1,"tx_type":"BUY","amount":25,"price":0.33,"tx_hash":"0xdead","timestamp":"2026-01-01T00:00:00Z"}`
	b.handle(context.Background(), "copy_trade:0xabc", payload)

	require.Equal(t, 1, copySink.count())
	assert.JSONEq(t, payload, copySink.bodies[0], "copy_trade payload must pass through unchanged")

	st := b.Stats()
	assert.Equal(t, uint64(1), st.Messages)
	assert.Equal(t, uint64(1), st.Successes)
}

func TestBridgeWrapsMarketEvents(t *testing.T) {
	marketSink := &sink{}
	srv := httptest.NewServer(marketSink.handler(http.StatusCreated))
	defer srv.Close()

	b := newTestBridge(t, srv.URL, "http://unused.invalid")
	b.handle(context.Background(), "market.status.253591", `{"status":"RESOLVED"}`)

	require.Equal(t, 1, marketSink.count())
	var env marketEnvelope
	require.NoError(t, json.Unmarshal([]byte(marketSink.bodies[0]), &env))
	assert.Equal(t, "253591", env.MarketID)
	assert.Equal(t, "market.status", env.Event)
	assert.JSONEq(t, `{"status":"RESOLVED"}`, string(env.Payload))
	assert.NotEmpty(t, env.Timestamp)
}

func TestBridgeRouteLongestPrefixWins(t *testing.T) {
	b := newTestBridge(t, "", "")

	event, market := b.route("market.status.X1")
	assert.Equal(t, "market.status", event)
	assert.Equal(t, "X1", market)

	event, market = b.route("trade.X2")
	assert.Equal(t, "trade", event)
	assert.Equal(t, "X2", market)

	event, market = b.route("orderbook.0xc1")
	assert.Equal(t, "orderbook", event)
	assert.Equal(t, "0xc1", market)
}

func TestBridgeWrapsUnparsablePayload(t *testing.T) {
	marketSink := &sink{}
	srv := httptest.NewServer(marketSink.handler(http.StatusOK))
	defer srv.Close()

	b := newTestBridge(t, srv.URL, "")
	b.handle(context.Background(), "trade.77", "not json {{{")

	require.Equal(t, 1, marketSink.count())
	var env marketEnvelope
	require.NoError(t, json.Unmarshal([]byte(marketSink.bodies[0]), &env))
	assert.JSONEq(t, `{"raw_message":"not json {{{"}`, string(env.Payload))
}

func TestBridgeCountsErrorsWithoutRetry(t *testing.T) {
	marketSink := &sink{}
	srv := httptest.NewServer(marketSink.handler(http.StatusBadGateway))
	defer srv.Close()

	b := newTestBridge(t, srv.URL, "")
	b.handle(context.Background(), "trade.77", `{"x":1}`)

	assert.Equal(t, 1, marketSink.count(), "exactly one POST, never retried")
	st := b.Stats()
	assert.Equal(t, uint64(1), st.Errors)
	assert.Equal(t, uint64(0), st.Successes)
}

func TestBridgeDeduplicatesOverlappingDeliveries(t *testing.T) {
	marketSink := &sink{}
	srv := httptest.NewServer(marketSink.handler(http.StatusOK))
	defer srv.Close()

	b := newTestBridge(t, srv.URL, "")
	b.handle(context.Background(), "trade.77", `{"x":1}`)
	b.handle(context.Background(), "trade.77", `{"x":1}`) // same message via second pattern

	assert.Equal(t, 1, marketSink.count())
	// Received counts every delivery; dedup only suppresses the forward.
	st := b.Stats()
	assert.Equal(t, uint64(2), st.Messages)
	assert.Equal(t, uint64(1), st.Successes)
}

func TestBridgeTradePatternConfigurable(t *testing.T) {
	b, err := NewBridge(BridgeConfig{
		RedisURL:     "redis://localhost:6379/0",
		TradePattern: "clob.trade.*",
	})
	require.NoError(t, err)
	assert.Contains(t, b.patterns, "clob.trade.*")

	event, market := b.route("clob.trade.42")
	assert.Equal(t, "clob.trade", event)
	assert.Equal(t, "42", market)
}
