package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polyflow/types"
)

type fakeEngine struct {
	messages []*types.CopyTradeMessage
	err      error
}

func (f *fakeEngine) HandleMessage(ctx context.Context, msg *types.CopyTradeMessage) error {
	f.messages = append(f.messages, msg)
	return f.err
}

type fakeSmart struct {
	ids []string
	err error
}

func (f *fakeSmart) IngestByTx(ctx context.Context, txID string) error {
	f.ids = append(f.ids, txID)
	return f.err
}

type fakeFills struct {
	fills []*types.LeaderTrade
}

func (f *fakeFills) IngestFill(ctx context.Context, tr *types.LeaderTrade) error {
	f.fills = append(f.fills, tr)
	return nil
}

type fakeHinter struct{ raised int }

func (f *fakeHinter) Raise() { f.raised++ }

func newTestServer() (*Server, *fakeEngine, *fakeSmart, *fakeFills, *fakeHinter) {
	engine := &fakeEngine{}
	smart := &fakeSmart{}
	fills := &fakeFills{}
	hinter := &fakeHinter{}
	s := NewServer("127.0.0.1", "0", engine, smart, fills, hinter)
	return s, engine, smart, fills, hinter
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCopyTradeRoutesToEngine(t *testing.T) {
	s, engine, _, _, _ := newTestServer()

	w := post(t, s.Handler(), "/wh/copy_trade",
		`{"tx_id":"t1","user_address":"0xabc","market_id":"123","outcome":1,"tx_type":"BUY","amount":"25"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, engine.messages, 1)
	assert.Equal(t, "t1", engine.messages[0].TxID)
	assert.Equal(t, types.SideBuy, engine.messages[0].TxType)
	assert.Equal(t, uint64(1), s.Stats().CopyTrade)
}

func TestCopyTradeRejectsMissingFields(t *testing.T) {
	s, engine, _, _, _ := newTestServer()

	w := post(t, s.Handler(), "/wh/copy_trade", `{"market_id":"123"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, engine.messages)
}

func TestSmartTradeInstantPath(t *testing.T) {
	s, _, smart, _, _ := newTestServer()

	w := post(t, s.Handler(), "/wh/smart_trade", `{"trade_id":"tx-9_1"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"tx-9_1"}, smart.ids)
}

func TestSmartTradeUnknownIDIs404(t *testing.T) {
	s, _, smart, _, _ := newTestServer()
	smart.err = types.Kindf(types.KindNotFound, "trade missing")

	w := post(t, s.Handler(), "/wh/smart_trade", `{"trade_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFillRoutesToIngestor(t *testing.T) {
	s, _, _, fills, _ := newTestServer()

	w := post(t, s.Handler(), "/wh/fill",
		`{"tx_id":"t2","wallet_address":"0xABC","market_id":"123","side":"SELL","size":"10"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, fills.fills, 1)
	assert.Equal(t, types.SideSell, fills.fills[0].Side)
}

func TestMarketStatusEventHintsController(t *testing.T) {
	s, _, _, _, hinter := newTestServer()

	w := post(t, s.Handler(), "/wh/market",
		`{"market_id":"253591","event":"market.status","payload":{"status":"RESOLVED"},"timestamp":"2026-01-01T00:00:00Z"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, hinter.raised)

	// Trade events count but do not hint.
	post(t, s.Handler(), "/wh/market", `{"market_id":"1","event":"trade","payload":{}}`)
	assert.Equal(t, 1, hinter.raised)
	assert.Equal(t, uint64(2), s.Stats().Market)
}

func TestInvalidJSONIs400(t *testing.T) {
	s, _, _, _, _ := newTestServer()

	w := post(t, s.Handler(), "/wh/market", "{{{")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, uint64(1), s.Stats().Errors)
}

func TestHealth(t *testing.T) {
	s, _, _, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
