package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED DOMAIN TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	StatusActive    MarketStatus = "ACTIVE"
	StatusClosed    MarketStatus = "CLOSED"
	StatusResolved  MarketStatus = "RESOLVED"
	StatusArchived  MarketStatus = "ARCHIVED"
	StatusCancelled MarketStatus = "CANCELLED"
)

// Terminal reports whether the status is final. Terminal statuses are sticky:
// once a market is RESOLVED or CANCELLED, later non-terminal observations are
// ignored by the store.
func (s MarketStatus) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderType selects the market-order fill policy.
type OrderType string

const (
	OrderFOK OrderType = "FOK" // fill entirely or cancel
	OrderFAK OrderType = "FAK" // fill what's available, cancel remainder
)

// QuoteSource identifies which ingest path produced a live quote.
type QuoteSource string

const (
	SourceWS   QuoteSource = "ws"
	SourcePoll QuoteSource = "poll"
)

// AllocationMode is the follower's sizing rule for copied trades.
type AllocationMode string

const (
	ModeProportional AllocationMode = "PROPORTIONAL"
	ModeFixed        AllocationMode = "FIXED"
)

// AddressType classifies a watched address row.
type AddressType string

const (
	AddressBotUser     AddressType = "bot_user"
	AddressSmartTrader AddressType = "smart_trader"
	AddressCopyLeader  AddressType = "copy_leader"
)

// WalletClass is the address classification carried on copy-trade messages.
type WalletClass string

const (
	ClassOnchain        WalletClass = "onchain"
	ClassBotUser        WalletClass = "bot_user"
	ClassExternalLeader WalletClass = "external_leader"
)

// SkipReason explains why a copy trade was not mirrored.
type SkipReason string

const (
	SkipInsufficientBudget SkipReason = "INSUFFICIENT_BUDGET"
	SkipBelowMinimum       SkipReason = "BELOW_MINIMUM"
	SkipNoPosition         SkipReason = "NO_POSITION"
)

// TriggerType names which threshold fired on a position.
type TriggerType string

const (
	TriggerTakeProfit TriggerType = "TAKE_PROFIT"
	TriggerStopLoss   TriggerType = "STOP_LOSS"
)

// RedemptionStatus tracks a resolved position through the redemption flow.
type RedemptionStatus string

const (
	RedemptionPending    RedemptionStatus = "PENDING"
	RedemptionProcessing RedemptionStatus = "PROCESSING"
	RedemptionRedeemed   RedemptionStatus = "REDEEMED"
	RedemptionFailed     RedemptionStatus = "FAILED"
)

// Position status values.
const (
	PositionActive = "active"
	PositionClosed = "closed"
)

// DustSize is the threshold below which a position is treated as nonexistent
// for all scheduling purposes.
var DustSize = decimal.RequireFromString("0.1")

// Market is the canonical record for one prediction market. The three parallel
// sequences (outcomes, prices, token ids) share index order; when non-empty
// they must have equal length.
type Market struct {
	ID            string            `gorm:"primaryKey" json:"id"`
	ConditionID   string            `gorm:"index" json:"condition_id"`
	Question      string            `json:"question"`
	Slug          string            `json:"slug"`
	Status        MarketStatus      `gorm:"index" json:"status"`
	Outcomes      []string          `gorm:"serializer:json" json:"outcomes"`
	OutcomePrices []decimal.Decimal `gorm:"serializer:json" json:"outcome_prices"`
	ClobTokenIDs  []string          `gorm:"serializer:json" json:"clob_token_ids"`
	Volume        decimal.Decimal   `gorm:"type:decimal(20,2)" json:"volume"`
	Liquidity     decimal.Decimal   `gorm:"type:decimal(20,2)" json:"liquidity"`
	EndDate       time.Time         `json:"end_date"`
	EventID       string            `json:"event_id,omitempty"`
	EventTitle    string            `json:"event_title,omitempty"`
	LastUpdated   time.Time         `json:"last_updated"`
	CreatedAt     time.Time         `json:"-"`
	UpdatedAt     time.Time         `json:"-"`
}

// Tradable reports whether orders may be placed on the market.
func (m *Market) Tradable() bool {
	return m.Status == StatusActive && m.EndDate.After(time.Now()) && len(m.OutcomePrices) > 0
}

// ParallelOK verifies the parallel-sequence invariant.
func (m *Market) ParallelOK() bool {
	if len(m.Outcomes) == 0 && len(m.OutcomePrices) == 0 && len(m.ClobTokenIDs) == 0 {
		return true
	}
	return len(m.Outcomes) == len(m.OutcomePrices) && len(m.Outcomes) == len(m.ClobTokenIDs)
}

// OutcomeIndex returns the index of the outcome label, or -1.
func (m *Market) OutcomeIndex(label string) int {
	for i, o := range m.Outcomes {
		if strings.EqualFold(o, label) {
			return i
		}
	}
	return -1
}

// TokenID returns the clob token id for an outcome index.
func (m *Market) TokenID(idx int) (string, bool) {
	if idx < 0 || idx >= len(m.ClobTokenIDs) {
		return "", false
	}
	return m.ClobTokenIDs[idx], true
}

// OutcomePrice returns the canonical price for an outcome index.
func (m *Market) OutcomePrice(idx int) (decimal.Decimal, bool) {
	if idx < 0 || idx >= len(m.OutcomePrices) {
		return decimal.Zero, false
	}
	return m.OutcomePrices[idx], true
}

// OutcomeLabel returns the label for an outcome index, or "".
func (m *Market) OutcomeLabel(idx int) string {
	if idx < 0 || idx >= len(m.Outcomes) {
		return ""
	}
	return m.Outcomes[idx]
}

// AssetIndex maps a clob token id back to its outcome index, or -1.
func (m *Market) AssetIndex(tokenID string) int {
	for i, t := range m.ClobTokenIDs {
		if t == tokenID {
			return i
		}
	}
	return -1
}

// LiveQuote is the volatile per-market quote cell. Never persisted; the live
// layer holds one per market keyed by market id.
type LiveQuote struct {
	MarketID     string          `json:"market_id"`
	AssetID      string          `json:"asset_id"`
	OutcomeIndex int             `json:"outcome_index"`
	BestBid      decimal.Decimal `json:"best_bid"`
	BestAsk      decimal.Decimal `json:"best_ask"`
	Mid          decimal.Decimal `json:"mid"`
	LastTrade    decimal.Decimal `json:"last_trade"`
	Source       QuoteSource     `json:"source"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TwoSided reports whether both book sides are known.
func (q *LiveQuote) TwoSided() bool {
	return q.BestBid.IsPositive() && q.BestAsk.IsPositive()
}

// WatchedMarket is one row of the streamer subscription control set.
type WatchedMarket struct {
	MarketID        string    `gorm:"primaryKey" json:"market_id"`
	ConditionID     string    `gorm:"index" json:"condition_id"`
	ActivePositions int       `json:"active_positions"`
	LastPositionAt  time.Time `json:"last_position_at"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}

func (WatchedMarket) TableName() string { return "watched_markets" }

// Position is a user's holding in one outcome of one market, with optional
// TP/SL triggers.
type Position struct {
	ID              uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64            `gorm:"index" json:"user_id"`
	WalletAddress   string           `gorm:"index" json:"wallet_address"`
	MarketID        string           `gorm:"index" json:"market_id"`
	ConditionID     string           `gorm:"index" json:"condition_id"`
	TokenID         string           `gorm:"index" json:"token_id"`
	OutcomeIndex    int              `json:"outcome_index"`
	Outcome         string           `json:"outcome"`
	Size            decimal.Decimal  `gorm:"type:decimal(20,6)" json:"size"`
	AvgPrice        decimal.Decimal  `gorm:"type:decimal(10,6)" json:"avg_price"`
	EntryPrice      decimal.Decimal  `gorm:"type:decimal(10,6)" json:"entry_price"`
	CurrentPrice    decimal.Decimal  `gorm:"type:decimal(10,6)" json:"current_price"`
	Status          string           `gorm:"index;default:active" json:"status"`
	TakeProfitPrice *decimal.Decimal `gorm:"type:decimal(10,6)" json:"take_profit_price,omitempty"`
	StopLossPrice   *decimal.Decimal `gorm:"type:decimal(10,6)" json:"stop_loss_price,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (Position) TableName() string { return "user_positions" }

// Dust reports whether the position is below the displayable threshold.
func (p *Position) Dust() bool { return p.Size.LessThan(DustSize) }

// HasTrigger reports whether either TP or SL is set.
func (p *Position) HasTrigger() bool { return p.TakeProfitPrice != nil || p.StopLossPrice != nil }

// LeaderTrade is a raw on-chain fill observed by the indexer.
type LeaderTrade struct {
	TxID          string          `gorm:"primaryKey" json:"tx_id"`
	WalletAddress string          `gorm:"index" json:"wallet_address"`
	MarketID      string          `gorm:"index" json:"market_id"`
	PositionID    string          `json:"position_id"` // indexer's position reference, empty when unknown
	OutcomeIndex  int             `json:"outcome_index"`
	Side          Side            `json:"side"`
	Size          decimal.Decimal `gorm:"type:decimal(20,6)" json:"size"`
	Price         decimal.Decimal `gorm:"type:decimal(10,6)" json:"price"`
	AmountUSD     decimal.Decimal `gorm:"type:decimal(20,6)" json:"amount_usd"`
	TxHash        string          `json:"tx_hash"`
	Timestamp     time.Time       `gorm:"index" json:"timestamp"`
	IsSmartWallet bool            `gorm:"index" json:"is_smart_wallet"`
	WalletBalance decimal.Decimal `gorm:"type:decimal(20,6)" json:"wallet_balance"` // leader bankroll at fill time, zero when unknown
	CreatedAt     time.Time       `json:"-"`
}

func (LeaderTrade) TableName() string { return "tracked_leader_trades" }

// SmartWalletTrade is the normalized, UI-ready view of a smart-wallet fill.
// PriceIsDefault lives only on the in-memory DTO; it is never a column.
type SmartWalletTrade struct {
	TradeID        string          `gorm:"primaryKey" json:"trade_id"`
	WalletAddress  string          `gorm:"index" json:"wallet_address"`
	MarketID       string          `gorm:"index" json:"market_id"`
	ConditionID    string          `gorm:"index" json:"condition_id"`
	PositionID     string          `json:"position_id"`
	Side           Side            `json:"side"`
	Outcome        string          `json:"outcome"`
	OutcomeIndex   int             `json:"outcome_index"`
	Price          decimal.Decimal `gorm:"type:decimal(10,6)" json:"price"`
	Size           decimal.Decimal `gorm:"type:decimal(20,6)" json:"size"`
	Value          decimal.Decimal `gorm:"type:decimal(20,6)" json:"value"`
	MarketQuestion string          `json:"market_question"`
	IsFirstTime    bool            `gorm:"index" json:"is_first_time"`
	Timestamp      time.Time       `gorm:"index" json:"timestamp"`
	PriceIsDefault bool            `gorm:"-" json:"price_is_default,omitempty"`
	CreatedAt      time.Time       `json:"-"`
	UpdatedAt      time.Time       `json:"-"`
}

func (SmartWalletTrade) TableName() string { return "smart_wallet_trades" }

// CanonicalTradeID strips a webhook dedup suffix ("<tx>_<n>") back to the
// underlying transaction id.
func (t *SmartWalletTrade) CanonicalTradeID() string { return CanonicalTxID(t.TradeID) }

// CanonicalTxID strips the webhook dedup suffix from a trade id.
func CanonicalTxID(id string) string {
	if i := strings.LastIndex(id, "_"); i > 0 {
		suffix := id[i+1:]
		if suffix != "" && strings.IndexFunc(suffix, func(r rune) bool { return r < '0' || r > '9' }) == -1 {
			return id[:i]
		}
	}
	return id
}

// SharedTrade is one row of the filtered shareable feed.
type SharedTrade struct {
	ID             uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	TradeID        string          `gorm:"uniqueIndex" json:"trade_id"`
	WalletAddress  string          `gorm:"index" json:"wallet_address"`
	MarketQuestion string          `json:"market_question"`
	Outcome        string          `json:"outcome"`
	Value          decimal.Decimal `gorm:"type:decimal(20,6)" json:"value"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (SharedTrade) TableName() string { return "smart_wallet_trades_to_share" }

// InvalidTrade is a dead-letter row for a raw fill that failed validation.
type InvalidTrade struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TxID      string    `gorm:"index" json:"tx_id"`
	Reason    string    `json:"reason"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func (InvalidTrade) TableName() string { return "smart_wallet_trades_invalid" }

// CopyAllocation is a follower's sizing rule for one leader. At most one row
// per follower may be active.
type CopyAllocation struct {
	ID                 uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	FollowerID         int64           `gorm:"index" json:"follower_id"`
	FollowerAddress    string          `gorm:"index" json:"follower_address"`
	LeaderAddress      string          `gorm:"index" json:"leader_address"`
	Mode               AllocationMode  `json:"mode"`
	Percentage         decimal.Decimal `gorm:"type:decimal(10,4)" json:"percentage"`
	FixedAmountUSD     decimal.Decimal `gorm:"type:decimal(20,6)" json:"fixed_amount_usd"`
	SellMode           AllocationMode  `gorm:"default:PROPORTIONAL" json:"sell_mode"`
	IsActive           bool            `gorm:"index" json:"is_active"`
	TotalWalletBalance decimal.Decimal `gorm:"type:decimal(20,6)" json:"total_wallet_balance"`
	AllocatedBudget    decimal.Decimal `gorm:"type:decimal(20,6)" json:"allocated_budget"`
	BudgetRemaining    decimal.Decimal `gorm:"type:decimal(20,6)" json:"budget_remaining"`
	LastWalletSync     time.Time       `json:"last_wallet_sync"`
	TotalCopiedTrades  int             `json:"total_copied_trades"`
	TotalInvested      decimal.Decimal `gorm:"type:decimal(20,6)" json:"total_invested"`
	TotalPnL           decimal.Decimal `gorm:"column:total_pnl;type:decimal(20,6)" json:"total_pnl"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (CopyAllocation) TableName() string { return "copy_allocations" }

// BudgetStale reports whether the wallet balance backing the budget is older
// than maxAge and must be re-read before sizing.
func (a *CopyAllocation) BudgetStale(maxAge time.Duration) bool {
	return time.Since(a.LastWalletSync) > maxAge
}

// WatchedAddress is one row of the leader registry.
type WatchedAddress struct {
	Address     string      `gorm:"primaryKey" json:"address"` // lowercase hex
	Type        AddressType `gorm:"index" json:"type"`
	UserID      int64       `gorm:"index" json:"user_id,omitempty"`
	Label       string      `json:"label,omitempty"`
	IsVerySmart bool        `gorm:"index" json:"is_very_smart"`
	CreatedAt   time.Time   `json:"-"`
	UpdatedAt   time.Time   `json:"-"`
}

func (WatchedAddress) TableName() string { return "watched_addresses" }

// Class maps the registry type onto the wire classification.
func (w *WatchedAddress) Class() WalletClass {
	if w.Type == AddressBotUser {
		return ClassBotUser
	}
	return ClassExternalLeader
}

// User is a registered bot user.
type User struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	WalletAddress string    `gorm:"uniqueIndex" json:"wallet_address"`
	Username      string    `json:"username,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastActiveAt  time.Time `gorm:"index" json:"last_active_at"`
}

// ResolvedPosition tracks a winning position through redemption.
type ResolvedPosition struct {
	ID            uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64            `gorm:"index" json:"user_id"`
	WalletAddress string           `gorm:"index;uniqueIndex:uniq_resolved_position" json:"wallet_address"`
	ConditionID   string           `gorm:"index;uniqueIndex:uniq_resolved_position" json:"condition_id"`
	TokenID       string           `gorm:"uniqueIndex:uniq_resolved_position" json:"token_id"`
	Outcome       string           `json:"outcome"`
	Size          decimal.Decimal  `gorm:"type:decimal(20,6)" json:"size"`
	Status        RedemptionStatus `gorm:"index" json:"status"`
	TxHash        string           `json:"tx_hash,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (ResolvedPosition) TableName() string { return "resolved_positions" }

// ExchangePosition is a position row as returned by the exchange data API.
type ExchangePosition struct {
	ConditionID  string          `json:"conditionId"`
	TokenID      string          `json:"asset"`
	Size         decimal.Decimal `json:"size"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	CurPrice     decimal.Decimal `json:"curPrice"`
	Outcome      string          `json:"outcome"`
	OutcomeIndex int             `json:"outcomeIndex"`
	Title        string          `json:"title"`
	Redeemable   bool            `json:"redeemable"`
}

// Dust reports whether the exchange position is below the dust threshold.
func (p *ExchangePosition) Dust() bool { return p.Size.LessThan(DustSize) }

// TradeMessage is the body published to trade.{market_id}.
type TradeMessage struct {
	MarketID  string           `json:"market_id"`
	TxID      string           `json:"tx_id"`
	Outcome   int              `json:"outcome"`
	Side      Side             `json:"side"`
	Amount    decimal.Decimal  `json:"amount"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	TxHash    string           `json:"tx_hash"`
	Timestamp string           `json:"timestamp"`
}

// CopyTradeMessage is the normalized body published to copy_trade:{wallet}
// and forwarded verbatim by the bridge.
type CopyTradeMessage struct {
	TxID        string           `json:"tx_id"`
	UserAddress string           `json:"user_address"`
	PositionID  string           `json:"position_id"`
	MarketID    string           `json:"market_id"`
	Outcome     int              `json:"outcome"`
	TxType      Side             `json:"tx_type"`
	Amount      decimal.Decimal  `json:"amount"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	TxHash      string           `json:"tx_hash"`
	Timestamp   string           `json:"timestamp"`
	AddressType WalletClass      `json:"address_type"`
}
