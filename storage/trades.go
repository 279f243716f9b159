package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"

	"github.com/web3guy0/polyflow/types"
)

// InsertLeaderTrade stores one raw fill. Idempotent on tx_id; reports whether
// the row was new.
func (d *DB) InsertLeaderTrade(ctx context.Context, tr *types.LeaderTrade) (bool, error) {
	tr.WalletAddress = types.NormalizeWallet(tr.WalletAddress)
	res := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_id"}},
		DoNothing: true,
	}).Create(tr)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// LeaderTradeByTx fetches one raw fill.
func (d *DB) LeaderTradeByTx(ctx context.Context, txID string) (*types.LeaderTrade, error) {
	var tr types.LeaderTrade
	if err := d.db.WithContext(ctx).Where("tx_id = ?", txID).First(&tr).Error; err != nil {
		return nil, notFound(err, "storage.leader_trade_by_tx")
	}
	return &tr, nil
}

// LeaderPositionBefore reconstructs the leader's token position in one
// outcome from raw fills strictly before ts: buys minus sells, floored at
// zero. Used for proportional SELL mirroring.
func (d *DB) LeaderPositionBefore(ctx context.Context, wallet, marketID string, outcomeIdx int, ts time.Time) (decimal.Decimal, error) {
	var rows []struct {
		Side types.Side
		Size decimal.Decimal
	}
	err := d.db.WithContext(ctx).Model(&types.LeaderTrade{}).
		Select("side, SUM(size) AS size").
		Where("wallet_address = ? AND market_id = ? AND outcome_index = ? AND timestamp < ?",
			types.NormalizeWallet(wallet), marketID, outcomeIdx, ts).
		Group("side").
		Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	net := decimal.Zero
	for _, r := range rows {
		switch r.Side {
		case types.SideBuy:
			net = net.Add(r.Size)
		case types.SideSell:
			net = net.Sub(r.Size)
		}
	}
	if net.IsNegative() {
		return decimal.Zero, nil
	}
	return net, nil
}

// SmartTradesSince returns smart-wallet fills observed after since, oldest
// first, for the polling backup path.
func (d *DB) SmartTradesSince(ctx context.Context, since time.Time) ([]*types.LeaderTrade, error) {
	var trs []*types.LeaderTrade
	err := d.db.WithContext(ctx).
		Where("is_smart_wallet = ? AND timestamp > ?", true, since).
		Order("timestamp ASC").
		Find(&trs).Error
	if err != nil {
		return nil, err
	}
	return trs, nil
}

// DistinctSmartMarketIDs lists markets with smart-wallet activity after
// since; the watch controller uses it for the opt-in augmentation.
func (d *DB) DistinctSmartMarketIDs(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	err := d.db.WithContext(ctx).Model(&types.LeaderTrade{}).
		Where("is_smart_wallet = ? AND timestamp > ?", true, since).
		Distinct().
		Pluck("market_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// LatestSmartTradeTime returns MAX(timestamp) over the normalized view, or
// the zero time when empty.
func (d *DB) LatestSmartTradeTime(ctx context.Context) (time.Time, error) {
	var row struct{ Latest *time.Time }
	err := d.db.WithContext(ctx).Model(&types.SmartWalletTrade{}).
		Select("MAX(timestamp) AS latest").
		Scan(&row).Error
	if err != nil {
		return time.Time{}, err
	}
	if row.Latest == nil {
		return time.Time{}, nil
	}
	return *row.Latest, nil
}

// UpsertSmartTrade writes one normalized row, replacing any existing row with
// the same trade_id.
func (d *DB) UpsertSmartTrade(ctx context.Context, t *types.SmartWalletTrade) error {
	t.WalletAddress = types.NormalizeWallet(t.WalletAddress)
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trade_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"wallet_address", "market_id", "condition_id", "position_id",
			"side", "outcome", "outcome_index", "price", "size", "value",
			"market_question", "is_first_time", "timestamp", "updated_at",
		}),
	}).Create(t).Error
}

// SmartTradeVariants returns every row whose trade id is the canonical tx id
// or a suffixed webhook variant of it.
func (d *DB) SmartTradeVariants(ctx context.Context, canonicalID string) ([]*types.SmartWalletTrade, error) {
	var ts []*types.SmartWalletTrade
	err := d.db.WithContext(ctx).
		Where("trade_id = ? OR trade_id LIKE ? ESCAPE '\\'", canonicalID, canonicalID+"\\_%").
		Find(&ts).Error
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// DeleteSmartTrades removes normalized rows by trade id.
func (d *DB) DeleteSmartTrades(ctx context.Context, tradeIDs []string) error {
	if len(tradeIDs) == 0 {
		return nil
	}
	return d.db.WithContext(ctx).
		Where("trade_id IN ?", tradeIDs).
		Delete(&types.SmartWalletTrade{}).Error
}

// HasPriorSmartTrade reports whether the wallet already traded this condition
// strictly before the given time (the is_first_time check).
func (d *DB) HasPriorSmartTrade(ctx context.Context, wallet, conditionID string, before time.Time) (bool, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&types.SmartWalletTrade{}).
		Where("wallet_address = ? AND condition_id = ? AND timestamp < ?",
			types.NormalizeWallet(wallet), conditionID, before).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertInvalidTrade dead-letters a raw fill that failed validation.
func (d *DB) InsertInvalidTrade(ctx context.Context, iv *types.InvalidTrade) error {
	return d.db.WithContext(ctx).Create(iv).Error
}

// AppendShareable appends one row to the shareable feed. A trade id already
// present is a no-op; reports whether the row was new.
func (d *DB) AppendShareable(ctx context.Context, s *types.SharedTrade) (bool, error) {
	s.TradeID = types.CanonicalTxID(s.TradeID)
	res := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		DoNothing: true,
	}).Create(s)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
