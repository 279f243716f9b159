package exchange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polyflow/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPlaceMarketOrderBuy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "BUY", body["side"])
		assert.Equal(t, "FOK", body["orderType"])
		assert.Equal(t, "50", body["amount"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success":      true,
			"orderID":      "ord-1",
			"takingAmount": "100",
			"makingAmount": "50",
			"price":        "0.5",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{})
	res, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		TokenID: "tok", Side: types.SideBuy, Amount: dec("50"), OrderType: types.OrderFOK,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ord-1", res.OrderID)
	assert.True(t, res.Tokens.Equal(dec("100")))
	assert.True(t, res.USDSpent.Equal(dec("50")))

	p, ok := res.ExecutionPrice()
	require.True(t, ok)
	assert.True(t, p.Equal(dec("0.5")))
}

func TestPlaceMarketOrderSellDerivesExecutionPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success":      true,
			"orderID":      "ord-2",
			"takingAmount": "6.10",
			"makingAmount": "10",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{})
	res, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		TokenID: "tok", Side: types.SideSell, Amount: dec("10"), OrderType: types.OrderFAK,
	})
	require.NoError(t, err)
	assert.True(t, res.Tokens.Equal(dec("10")))
	assert.True(t, res.USDReceived.Equal(dec("6.10")))

	// usd_received / tokens_sold, no price field needed.
	p, ok := res.ExecutionPrice()
	require.True(t, ok)
	assert.True(t, p.Equal(dec("0.61")))
}

func TestPlaceMarketOrderInsufficientFunds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success":  false,
			"errorMsg": "not enough balance / allowance",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{})
	_, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		TokenID: "tok", Side: types.SideBuy, Amount: dec("50"), OrderType: types.OrderFOK,
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInsufficientFunds))
}

func TestPlaceMarketOrderThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{})
	_, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		TokenID: "tok", Side: types.SideSell, Amount: dec("1"), OrderType: types.OrderFAK,
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindUpstreamThrottled))
}

func TestClassifyOrderErrorKinds(t *testing.T) {
	cases := []struct {
		msg  string
		side types.Side
		kind types.Kind
	}{
		{"not enough balance / allowance", types.SideBuy, types.KindInsufficientFunds},
		{"not enough balance / allowance", types.SideSell, types.KindInsufficientTokens},
		{"insufficient shares", types.SideSell, types.KindInsufficientTokens},
		{"market is resolved", types.SideBuy, types.KindMarketResolved},
		{"market closed for trading", types.SideSell, types.KindMarketClosed},
		{"weird rejection", types.SideBuy, types.KindValidation},
	}
	for _, tc := range cases {
		err := classifyOrderError(tc.msg, OrderRequest{Side: tc.side})
		assert.True(t, types.IsKind(err, tc.kind), "%s / %s → %v", tc.msg, tc.side, err)
	}
}

func TestGetOrderBookAndBestBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/books", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{{
			"asset_id": "tok",
			"bids":     []map[string]string{{"price": "0.40", "size": "10"}, {"price": "0.42", "size": "5"}},
			"asks":     []map[string]string{{"price": "0.46", "size": "7"}, {"price": "0.44", "size": "3"}},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{})
	bid, ask, err := c.BestBook(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, bid.Equal(dec("0.42")))
	assert.True(t, ask.Equal(dec("0.44")))
}

func TestGetUSDCBalanceScales(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "COLLATERAL", r.URL.Query().Get("asset_type"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"balance": "1234560000"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{})
	bal, err := c.GetUSDCBalance(context.Background(), "0xABC")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("1234.56")))
}

func TestSignedPostCoversBody(t *testing.T) {
	creds := Credentials{
		APIKey:     "k",
		APISecret:  base64.URLEncoding.EncodeToString([]byte("secret")),
		Passphrase: "p",
		Address:    "0xabc",
	}

	var (
		gotSig  string
		gotTS   string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("POLY_SIGNATURE")
		gotTS = r.Header.Get("POLY_TIMESTAMP")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"success": true, "orderID": "ord-9"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, creds)
	_, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		TokenID: "tok", Side: types.SideBuy, Amount: dec("5"), OrderType: types.OrderFOK,
	})
	require.NoError(t, err)
	require.NotEmpty(t, gotBody, "order must carry a JSON body")

	// The signature must verify over the bytes the server actually received.
	want, err := creds.sign(gotTS, "POST", "/order", string(gotBody))
	require.NoError(t, err)
	assert.Equal(t, want, gotSig)
}

func TestCredentialsSignDeterministic(t *testing.T) {
	creds := Credentials{APIKey: "k", APISecret: "c2VjcmV0LXNlY3JldC1zZWNyZXQ=", Passphrase: "p", Address: "0xabc"}
	a, err := creds.sign("100", "POST", "/order", `{"x":1}`)
	require.NoError(t, err)
	b, err := creds.sign("100", "POST", "/order", `{"x":1}`)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := creds.sign("101", "POST", "/order", `{"x":1}`)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
