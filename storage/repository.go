package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/types"
)

// UpsertOutcome describes what a market upsert changed.
type UpsertOutcome struct {
	MarketID      string
	ConditionID   string
	Question      string
	Created       bool
	StatusChanged bool
	Prev          types.MarketStatus
	Status        types.MarketStatus
}

// MarketFilter narrows ListActiveMarkets.
type MarketFilter struct {
	Query     string
	MinVolume decimal.Decimal
	OrderBy   string // "volume" | "end_date" | "last_updated"
	Limit     int
	Offset    int
}

// Repository is the single persistence seam. Two implementations exist:
// storage.DB talks to the database directly, gateway.Client goes through the
// HTTP API gateway (SKIP_DB=true). Callers hold this interface or a narrower
// consumer-side view of it.
type Repository interface {
	// Markets
	UpsertMarket(ctx context.Context, m *types.Market) (*UpsertOutcome, error)
	UpsertMarkets(ctx context.Context, ms []*types.Market) ([]UpsertOutcome, error)
	GetMarket(ctx context.Context, id string, allowClosed bool) (*types.Market, error)
	GetMarketByCondition(ctx context.Context, conditionID string) (*types.Market, error)
	ListActiveMarkets(ctx context.Context, f MarketFilter) ([]*types.Market, error)
	MarketsByConditionIDs(ctx context.Context, conditionIDs []string) ([]*types.Market, error)
	MissingMarketIDs(ctx context.Context, ids []string) ([]string, error)
	ExpiredActiveMarkets(ctx context.Context, limit int) ([]*types.Market, error)

	// Watched markets
	UpsertWatched(ctx context.Context, w *types.WatchedMarket) error
	ListWatched(ctx context.Context) ([]*types.WatchedMarket, error)
	DeleteWatched(ctx context.Context, marketIDs []string) (int64, error)

	// Positions
	TriggerPositions(ctx context.Context, limit int) ([]*types.Position, error)
	SavePosition(ctx context.Context, p *types.Position) error
	ActivePositionByToken(ctx context.Context, userID int64, tokenID string) (*types.Position, error)
	PositionsByUser(ctx context.Context, userID int64) ([]*types.Position, error)
	ClosePosition(ctx context.Context, id uint, exitPrice decimal.Decimal) error
	ReducePosition(ctx context.Context, id uint, soldTokens, currentPrice decimal.Decimal) error

	// Copy allocations
	ActiveAllocationsForLeader(ctx context.Context, leaderAddress string) ([]*types.CopyAllocation, error)
	ActiveAllocationForFollower(ctx context.Context, followerID int64) (*types.CopyAllocation, error)
	SaveAllocation(ctx context.Context, a *types.CopyAllocation) error
	DeactivateAllocations(ctx context.Context, followerID int64) error
	ApplyCopyResult(ctx context.Context, allocationID uint, invested, pnl, budgetDelta decimal.Decimal) error

	// Raw leader trades
	InsertLeaderTrade(ctx context.Context, tr *types.LeaderTrade) (bool, error)
	LeaderTradeByTx(ctx context.Context, txID string) (*types.LeaderTrade, error)
	LeaderPositionBefore(ctx context.Context, wallet, marketID string, outcomeIdx int, ts time.Time) (decimal.Decimal, error)
	SmartTradesSince(ctx context.Context, since time.Time) ([]*types.LeaderTrade, error)
	DistinctSmartMarketIDs(ctx context.Context, since time.Time) ([]string, error)

	// Normalized smart-wallet trades
	LatestSmartTradeTime(ctx context.Context) (time.Time, error)
	UpsertSmartTrade(ctx context.Context, t *types.SmartWalletTrade) error
	SmartTradeVariants(ctx context.Context, canonicalID string) ([]*types.SmartWalletTrade, error)
	DeleteSmartTrades(ctx context.Context, tradeIDs []string) error
	HasPriorSmartTrade(ctx context.Context, wallet, conditionID string, before time.Time) (bool, error)
	InsertInvalidTrade(ctx context.Context, iv *types.InvalidTrade) error
	AppendShareable(ctx context.Context, s *types.SharedTrade) (bool, error)

	// Users and the leader registry
	ListUserWallets(ctx context.Context) ([]types.User, error)
	RecentUsers(ctx context.Context, n int) ([]types.User, error)
	GetUserByWallet(ctx context.Context, wallet string) (*types.User, error)
	GetWatchedAddress(ctx context.Context, address string) (*types.WatchedAddress, error)
	EnsureWatchedAddress(ctx context.Context, w *types.WatchedAddress) (*types.WatchedAddress, error)

	// Redemption workflow
	EnsureResolvedPosition(ctx context.Context, rp *types.ResolvedPosition) (bool, error)
	PendingResolvedPositions(ctx context.Context, limit int) ([]*types.ResolvedPosition, error)
}
