package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATA API CLIENT - positions and wallet activity
// ═══════════════════════════════════════════════════════════════════════════════

const positionsPageSize = 100

// DataClient reads the exchange data API (no auth required).
type DataClient struct {
	http *resty.Client
}

func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(restTimeout).
			SetHeader("Accept", "application/json"),
	}
}

// Positions returns every open position of a wallet, paging until a short
// page.
func (d *DataClient) Positions(ctx context.Context, wallet string) ([]types.ExchangePosition, error) {
	var all []types.ExchangePosition
	for offset := 0; ; offset += positionsPageSize {
		var page []types.ExchangePosition
		resp, err := d.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"user":   types.NormalizeWallet(wallet),
				"limit":  itoa(positionsPageSize),
				"offset": itoa(offset),
			}).
			SetResult(&page).
			Get("/positions")
		if err != nil {
			return nil, types.E(types.KindUpstreamUnavailable, "data.positions", err)
		}
		if err := classifyHTTP(resp, "data.positions"); err != nil {
			return nil, err
		}

		all = append(all, page...)
		if len(page) < positionsPageSize {
			return all, nil
		}
	}
}

// Activity is one row of a wallet's on-chain trade history.
type Activity struct {
	TxHash       string          `json:"transactionHash"`
	Wallet       string          `json:"proxyWallet"`
	ConditionID  string          `json:"conditionId"`
	TokenID      string          `json:"asset"`
	Type         string          `json:"type"` // TRADE | REDEEM | ...
	Side         types.Side      `json:"side"`
	OutcomeIndex int             `json:"outcomeIndex"`
	Outcome      string          `json:"outcome"`
	Size         decimal.Decimal `json:"size"`
	USDCSize     decimal.Decimal `json:"usdcSize"`
	Price        decimal.Decimal `json:"price"`
	Timestamp    int64           `json:"timestamp"` // unix seconds
}

// Time converts the unix timestamp.
func (a *Activity) Time() time.Time { return time.Unix(a.Timestamp, 0).UTC() }

// Activities pages through a wallet's trade history, newest first.
func (d *DataClient) Activities(ctx context.Context, wallet string, limit, offset int) ([]Activity, error) {
	var rows []Activity
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":   types.NormalizeWallet(wallet),
			"type":   "TRADE",
			"limit":  itoa(limit),
			"offset": itoa(offset),
		}).
		SetResult(&rows).
		Get("/activity")
	if err != nil {
		return nil, types.E(types.KindUpstreamUnavailable, "data.activity", err)
	}
	if err := classifyHTTP(resp, "data.activity"); err != nil {
		return nil, err
	}
	return rows, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
