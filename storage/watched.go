package storage

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/web3guy0/polyflow/types"
)

// UpsertWatched inserts or refreshes one subscription-control row. Conflict
// on the primary key updates the owner count and timestamps, so concurrent
// cycles are race-safe.
func (d *DB) UpsertWatched(ctx context.Context, w *types.WatchedMarket) error {
	if w.LastPositionAt.IsZero() {
		w.LastPositionAt = time.Now()
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"condition_id", "active_positions", "last_position_at", "updated_at",
		}),
	}).Create(w).Error
}

// ListWatched returns the full control set.
func (d *DB) ListWatched(ctx context.Context) ([]*types.WatchedMarket, error) {
	var ws []*types.WatchedMarket
	if err := d.db.WithContext(ctx).Find(&ws).Error; err != nil {
		return nil, err
	}
	return ws, nil
}

// DeleteWatched removes rows by market id and reports how many went away.
func (d *DB) DeleteWatched(ctx context.Context, marketIDs []string) (int64, error) {
	if len(marketIDs) == 0 {
		return 0, nil
	}
	res := d.db.WithContext(ctx).
		Where("market_id IN ?", marketIDs).
		Delete(&types.WatchedMarket{})
	return res.RowsAffected, res.Error
}
