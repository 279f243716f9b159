package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CLOB TRADING CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Market orders, balances and order books against the exchange CLOB REST API.
// Failures surface as typed errors; there is no mock or fallback path.
// ═══════════════════════════════════════════════════════════════════════════════

const restTimeout = 10 * time.Second

// usdcScale converts the exchange's 6-decimal integer amounts to USD.
var usdcScale = decimal.New(1, 6)

// OrderRequest describes one market order. Amount is USD for a BUY and
// tokens for a SELL.
type OrderRequest struct {
	TokenID      string
	Side         types.Side
	Amount       decimal.Decimal
	OrderType    types.OrderType
	MarketID     string
	OutcomeLabel string
}

// OrderResult is the parsed order response.
type OrderResult struct {
	Success     bool
	OrderID     string
	Tokens      decimal.Decimal // tokens filled
	Price       decimal.Decimal // average fill price in 0..1
	USDPerShare decimal.Decimal
	USDSpent    decimal.Decimal // BUY
	USDReceived decimal.Decimal // SELL
	TxHash      string
}

// ExecutionPrice derives the realized per-token price, preferring actual
// cash flow over the reported price field.
func (r *OrderResult) ExecutionPrice() (decimal.Decimal, bool) {
	if r.Tokens.IsPositive() {
		if r.USDReceived.IsPositive() {
			return r.USDReceived.Div(r.Tokens), true
		}
		if r.USDSpent.IsPositive() {
			return r.USDSpent.Div(r.Tokens), true
		}
	}
	if r.Price.IsPositive() {
		return r.Price, true
	}
	if r.USDPerShare.IsPositive() {
		return r.USDPerShare, true
	}
	return decimal.Zero, false
}

// Level is one price level of an order book side.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Book is an order book snapshot for one token.
type Book struct {
	TokenID string
	Bids    []Level
	Asks    []Level
}

// Client talks to the exchange CLOB.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, creds Credentials) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(restTimeout).
		SetHeader("Content-Type", "application/json").
		OnBeforeRequest(authMiddleware(creds))

	return &Client{http: c}
}

type orderResponse struct {
	Success      bool            `json:"success"`
	OrderID      string          `json:"orderID"`
	Status       string          `json:"status"`
	TakingAmount decimal.Decimal `json:"takingAmount"`
	MakingAmount decimal.Decimal `json:"makingAmount"`
	Price        decimal.Decimal `json:"price"`
	TxHash       string          `json:"transactionHash"`
	ErrorMsg     string          `json:"errorMsg"`
	Error        string          `json:"error"`
}

// PlaceMarketOrder submits one market order. BUY orders spend a USD amount
// (FOK); SELL orders liquidate a token amount (FAK).
func (c *Client) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if !req.Side.Valid() {
		return nil, types.Kindf(types.KindValidation, "invalid side %q", req.Side)
	}
	if !req.Amount.IsPositive() {
		return nil, types.Kindf(types.KindValidation, "order amount must be positive, got %s", req.Amount)
	}

	// clientID lets the exchange dedup a resubmitted order.
	payload := map[string]any{
		"tokenID":   req.TokenID,
		"side":      string(req.Side),
		"amount":    req.Amount.String(),
		"orderType": string(req.OrderType),
		"clientID":  uuid.NewString(),
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&orderResponse{}).
		Post("/order")
	if err != nil {
		return nil, types.E(types.KindUpstreamUnavailable, "exchange.place_order", err)
	}
	if err := classifyHTTP(resp, "exchange.place_order"); err != nil {
		return nil, err
	}

	or := resp.Result().(*orderResponse)
	if msg := firstNonEmpty(or.ErrorMsg, or.Error); msg != "" || !or.Success {
		return nil, classifyOrderError(msg, req)
	}

	res := &OrderResult{
		Success: true,
		OrderID: or.OrderID,
		Price:   or.Price,
		TxHash:  or.TxHash,
	}
	// takingAmount/makingAmount are from the taker's perspective: a BUY
	// takes tokens and makes USD, a SELL the inverse.
	if req.Side == types.SideBuy {
		res.Tokens = or.TakingAmount
		res.USDSpent = or.MakingAmount
	} else {
		res.Tokens = or.MakingAmount
		res.USDReceived = or.TakingAmount
	}
	if p, ok := res.ExecutionPrice(); ok {
		res.USDPerShare = p
	}

	log.Info().
		Str("order_id", res.OrderID).
		Str("side", string(req.Side)).
		Str("type", string(req.OrderType)).
		Str("amount", req.Amount.String()).
		Str("tokens", res.Tokens.String()).
		Msg("✅ Market order filled")
	return res, nil
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

// GetUSDCBalance reads the wallet's collateral balance in USD.
func (c *Client) GetUSDCBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"asset_type": "COLLATERAL",
			"address":    types.NormalizeWallet(address),
		}).
		SetResult(&balanceResponse{}).
		Get("/balance-allowance")
	if err != nil {
		return decimal.Zero, types.E(types.KindUpstreamUnavailable, "exchange.usdc_balance", err)
	}
	if err := classifyHTTP(resp, "exchange.usdc_balance"); err != nil {
		return decimal.Zero, err
	}
	return resp.Result().(*balanceResponse).Balance.Div(usdcScale), nil
}

// GetTokenBalance reads the wallet's on-chain balance of one outcome token.
func (c *Client) GetTokenBalance(ctx context.Context, address, tokenID string) (decimal.Decimal, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"asset_type": "CONDITIONAL",
			"token_id":   tokenID,
			"address":    types.NormalizeWallet(address),
		}).
		SetResult(&balanceResponse{}).
		Get("/balance-allowance")
	if err != nil {
		return decimal.Zero, types.E(types.KindUpstreamUnavailable, "exchange.token_balance", err)
	}
	if err := classifyHTTP(resp, "exchange.token_balance"); err != nil {
		return decimal.Zero, err
	}
	return resp.Result().(*balanceResponse).Balance.Div(usdcScale), nil
}

type bookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type bookResponse struct {
	AssetID string      `json:"asset_id"`
	Bids    []bookLevel `json:"bids"`
	Asks    []bookLevel `json:"asks"`
}

// GetOrderBook fetches the book snapshot for one token via POST /books.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*Book, error) {
	var books []bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody([]map[string]string{{"token_id": tokenID}}).
		SetResult(&books).
		Post("/books")
	if err != nil {
		return nil, types.E(types.KindUpstreamUnavailable, "exchange.order_book", err)
	}
	if err := classifyHTTP(resp, "exchange.order_book"); err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, types.Kindf(types.KindNotFound, "no book for token %s", tokenID)
	}

	b := &Book{TokenID: tokenID}
	for _, l := range books[0].Bids {
		b.Bids = append(b.Bids, Level{Price: l.Price, Size: l.Size})
	}
	for _, l := range books[0].Asks {
		b.Asks = append(b.Asks, Level{Price: l.Price, Size: l.Size})
	}
	return b, nil
}

// BestBook returns the top of book, satisfying the market store's REST
// fallback seam.
func (c *Client) BestBook(ctx context.Context, tokenID string) (decimal.Decimal, decimal.Decimal, error) {
	b, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	var bid, ask decimal.Decimal
	for _, l := range b.Bids {
		if l.Price.GreaterThan(bid) {
			bid = l.Price
		}
	}
	for _, l := range b.Asks {
		if ask.IsZero() || l.Price.LessThan(ask) {
			ask = l.Price
		}
	}
	return bid, ask, nil
}

// classifyHTTP maps transport-level status codes onto the error taxonomy.
func classifyHTTP(resp *resty.Response, op string) error {
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return types.Kindf(types.KindUpstreamThrottled, "%s: throttled", op)
	case resp.StatusCode() >= 500:
		return types.Kindf(types.KindUpstreamUnavailable, "%s: upstream %d", op, resp.StatusCode())
	case resp.StatusCode() == http.StatusNotFound:
		return types.Kindf(types.KindNotFound, "%s: not found", op)
	case resp.StatusCode() >= 400:
		// 4xx order rejections carry their reason in the body; surface it.
		var body orderResponse
		if err := json.Unmarshal(resp.Body(), &body); err == nil {
			if msg := firstNonEmpty(body.ErrorMsg, body.Error); msg != "" {
				return classifyOrderError(msg, OrderRequest{})
			}
		}
		return types.Kindf(types.KindValidation, "%s: rejected with %d", op, resp.StatusCode())
	}
	return nil
}

// classifyOrderError maps exchange rejection strings onto semantic kinds.
func classifyOrderError(msg string, req OrderRequest) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not enough balance") && strings.Contains(lower, "allowance"):
		if req.Side == types.SideSell {
			return types.Kindf(types.KindInsufficientTokens, "order rejected: %s", msg)
		}
		return types.Kindf(types.KindInsufficientFunds, "order rejected: %s", msg)
	case strings.Contains(lower, "insufficient"):
		if strings.Contains(lower, "token") || strings.Contains(lower, "share") {
			return types.Kindf(types.KindInsufficientTokens, "order rejected: %s", msg)
		}
		return types.Kindf(types.KindInsufficientFunds, "order rejected: %s", msg)
	case strings.Contains(lower, "resolved"):
		return types.Kindf(types.KindMarketResolved, "order rejected: %s", msg)
	case strings.Contains(lower, "closed") || strings.Contains(lower, "not accepting"):
		return types.Kindf(types.KindMarketClosed, "order rejected: %s", msg)
	case msg == "":
		return types.Kindf(types.KindTransient, "order rejected without reason")
	}
	return types.Kindf(types.KindValidation, "order rejected: %s", msg)
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
