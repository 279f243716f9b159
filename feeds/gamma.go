package feeds

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GAMMA CLIENT - market metadata REST API
// ═══════════════════════════════════════════════════════════════════════════════

const gammaTimeout = 10 * time.Second

// MarketQuery selects a page of the ordered market listing.
type MarketQuery struct {
	Limit     int
	Offset    int
	Closed    *bool
	Order     string // "volume" | "startDate" | ...
	Ascending bool
}

// GammaClient fetches market and event metadata.
type GammaClient struct {
	http *resty.Client
}

func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(gammaTimeout).
			SetHeader("Accept", "application/json"),
	}
}

// gammaMarket is the upstream wire shape. The three parallel sequences
// arrive as JSON-encoded strings, not arrays.
type gammaMarket struct {
	ID            string `json:"id"`
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Slug          string `json:"slug"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
	Archived      bool   `json:"archived"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	ClobTokenIDs  string `json:"clobTokenIds"`
	Volume        string `json:"volume"`
	Liquidity     string `json:"liquidity"`
	EndDate       string `json:"endDate"`
	UMAStatus     string `json:"umaResolutionStatus"`
	Events        []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"events"`
}

type gammaEvent struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Markets []gammaMarket `json:"markets"`
}

// ListMarkets fetches one page of the market listing.
func (g *GammaClient) ListMarkets(ctx context.Context, q MarketQuery) ([]*types.Market, error) {
	var raw []gammaMarket
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(g.params(q)).
		SetResult(&raw).
		Get("/markets")
	if err != nil {
		return nil, types.E(types.KindUpstreamUnavailable, "gamma.list_markets", err)
	}
	if err := classifyGamma(resp.StatusCode(), "gamma.list_markets"); err != nil {
		return nil, err
	}
	return convertMarkets(raw), nil
}

// GetMarket fetches a single market by id.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (*types.Market, error) {
	var raw gammaMarket
	resp, err := g.http.R().
		SetContext(ctx).
		SetResult(&raw).
		Get("/markets/" + id)
	if err != nil {
		return nil, types.E(types.KindUpstreamUnavailable, "gamma.get_market", err)
	}
	if err := classifyGamma(resp.StatusCode(), "gamma.get_market"); err != nil {
		return nil, err
	}

	m, err := convertMarket(raw)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListEventMarkets fetches one page of events and flattens their embedded
// markets, carrying the event id and title onto each record.
func (g *GammaClient) ListEventMarkets(ctx context.Context, q MarketQuery) ([]*types.Market, error) {
	var raw []gammaEvent
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(g.params(q)).
		SetResult(&raw).
		Get("/events")
	if err != nil {
		return nil, types.E(types.KindUpstreamUnavailable, "gamma.list_events", err)
	}
	if err := classifyGamma(resp.StatusCode(), "gamma.list_events"); err != nil {
		return nil, err
	}

	var out []*types.Market
	for _, ev := range raw {
		for _, gm := range ev.Markets {
			m, err := convertMarket(gm)
			if err != nil {
				continue
			}
			m.EventID = ev.ID
			m.EventTitle = ev.Title
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *GammaClient) params(q MarketQuery) map[string]string {
	p := map[string]string{
		"limit":  strconv.Itoa(q.Limit),
		"offset": strconv.Itoa(q.Offset),
	}
	if q.Closed != nil {
		p["closed"] = strconv.FormatBool(*q.Closed)
	}
	if q.Order != "" {
		p["order"] = q.Order
		p["ascending"] = strconv.FormatBool(q.Ascending)
	}
	return p
}

func convertMarkets(raw []gammaMarket) []*types.Market {
	out := make([]*types.Market, 0, len(raw))
	for _, gm := range raw {
		m, err := convertMarket(gm)
		if err != nil {
			// ParseError: skip the record, the rest of the page survives.
			continue
		}
		out = append(out, m)
	}
	return out
}

func convertMarket(gm gammaMarket) (*types.Market, error) {
	if gm.ID == "" {
		return nil, types.Kindf(types.KindParse, "market without id")
	}

	m := &types.Market{
		ID:          gm.ID,
		ConditionID: strings.ToLower(gm.ConditionID),
		Question:    gm.Question,
		Slug:        gm.Slug,
		Status:      gammaStatus(gm),
		LastUpdated: time.Now(),
	}

	if err := decodeStringArray(gm.Outcomes, &m.Outcomes); err != nil {
		return nil, types.E(types.KindParse, "gamma.outcomes", err)
	}
	var prices []string
	if err := decodeStringArray(gm.OutcomePrices, &prices); err != nil {
		return nil, types.E(types.KindParse, "gamma.outcome_prices", err)
	}
	for _, p := range prices {
		d, err := decimal.NewFromString(p)
		if err != nil {
			return nil, types.E(types.KindParse, "gamma.outcome_prices", err)
		}
		m.OutcomePrices = append(m.OutcomePrices, d)
	}
	if err := decodeStringArray(gm.ClobTokenIDs, &m.ClobTokenIDs); err != nil {
		return nil, types.E(types.KindParse, "gamma.clob_token_ids", err)
	}
	if !m.ParallelOK() {
		return nil, types.Kindf(types.KindParse,
			"market %s: parallel sequences of unequal length", gm.ID)
	}

	if gm.Volume != "" {
		m.Volume, _ = decimal.NewFromString(gm.Volume)
	}
	if gm.Liquidity != "" {
		m.Liquidity, _ = decimal.NewFromString(gm.Liquidity)
	}
	if gm.EndDate != "" {
		if ts, err := time.Parse(time.RFC3339, gm.EndDate); err == nil {
			m.EndDate = ts
		}
	}
	if len(gm.Events) > 0 {
		m.EventID = gm.Events[0].ID
		m.EventTitle = gm.Events[0].Title
	}
	return m, nil
}

// decodeStringArray parses Gamma's stringified arrays ("[\"Yes\",\"No\"]").
// An empty string decodes to an empty slice.
func decodeStringArray(s string, dst *[]string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}

func gammaStatus(gm gammaMarket) types.MarketStatus {
	uma := strings.ToLower(gm.UMAStatus)
	switch {
	case strings.Contains(uma, "cancel"):
		return types.StatusCancelled
	case gm.Closed && strings.Contains(uma, "resolved"):
		return types.StatusResolved
	case gm.Archived:
		return types.StatusArchived
	case gm.Closed:
		return types.StatusClosed
	case gm.Active:
		return types.StatusActive
	}
	return types.StatusClosed
}

func classifyGamma(status int, op string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return types.Kindf(types.KindUpstreamThrottled, "%s: throttled", op)
	case status >= 500:
		return types.Kindf(types.KindUpstreamUnavailable, "%s: upstream %d", op, status)
	case status == http.StatusNotFound:
		return types.Kindf(types.KindNotFound, "%s: not found", op)
	case status >= 400:
		return types.Kindf(types.KindParse, "%s: rejected with %d", op, status)
	}
	return nil
}
