package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/web3guy0/polyflow/types"
)

// TriggerPositions returns up to limit active positions that carry a TP or SL
// threshold, oldest update first so no position starves.
func (d *DB) TriggerPositions(ctx context.Context, limit int) ([]*types.Position, error) {
	var ps []*types.Position
	q := d.db.WithContext(ctx).
		Where("status = ?", types.PositionActive).
		Where("take_profit_price IS NOT NULL OR stop_loss_price IS NOT NULL").
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ps).Error; err != nil {
		return nil, err
	}
	return ps, nil
}

// SavePosition creates or updates a position row.
func (d *DB) SavePosition(ctx context.Context, p *types.Position) error {
	return d.db.WithContext(ctx).Save(p).Error
}

// ActivePositionByToken finds the user's active position in one outcome token.
func (d *DB) ActivePositionByToken(ctx context.Context, userID int64, tokenID string) (*types.Position, error) {
	var p types.Position
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND token_id = ? AND status = ?", userID, tokenID, types.PositionActive).
		First(&p).Error
	if err != nil {
		return nil, notFound(err, "storage.active_position_by_token")
	}
	return &p, nil
}

// PositionsByUser lists all of a user's positions.
func (d *DB) PositionsByUser(ctx context.Context, userID int64) ([]*types.Position, error) {
	var ps []*types.Position
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&ps).Error
	if err != nil {
		return nil, err
	}
	return ps, nil
}

// ClosePosition marks the position closed at exitPrice and clears both
// triggers in the same write.
func (d *DB) ClosePosition(ctx context.Context, id uint, exitPrice decimal.Decimal) error {
	res := d.db.WithContext(ctx).Model(&types.Position{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            types.PositionClosed,
			"current_price":     exitPrice,
			"take_profit_price": nil,
			"stop_loss_price":   nil,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.Kindf(types.KindNotFound, "position %d not found", id)
	}
	return nil
}

// ReducePosition decrements size after a partial close.
func (d *DB) ReducePosition(ctx context.Context, id uint, soldTokens, currentPrice decimal.Decimal) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p types.Position
		if err := tx.Where("id = ?", id).First(&p).Error; err != nil {
			return notFound(err, "storage.reduce_position")
		}
		p.Size = p.Size.Sub(soldTokens)
		if p.Size.IsNegative() {
			p.Size = decimal.Zero
		}
		p.CurrentPrice = currentPrice
		return tx.Save(&p).Error
	})
}
