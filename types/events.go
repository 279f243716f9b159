package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Events carried on the in-process bus.

// MarketStatusEvent fires when the poller observes a status transition.
type MarketStatusEvent struct {
	MarketID    string       `json:"market_id"`
	ConditionID string       `json:"condition_id"`
	Prev        MarketStatus `json:"prev"`
	Status      MarketStatus `json:"status"`
	Question    string       `json:"question,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// QuoteEvent fires when the streamer updates a live quote.
type QuoteEvent struct {
	MarketID  string          `json:"market_id"`
	AssetID   string          `json:"asset_id"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	Mid       decimal.Decimal `json:"mid"`
	LastTrade decimal.Decimal `json:"last_trade"`
	Source    QuoteSource     `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}
