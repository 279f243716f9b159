package storage

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/web3guy0/polyflow/types"
)

// ActiveAllocationsForLeader returns every follower mirroring the leader.
func (d *DB) ActiveAllocationsForLeader(ctx context.Context, leaderAddress string) ([]*types.CopyAllocation, error) {
	var as []*types.CopyAllocation
	err := d.db.WithContext(ctx).
		Where("leader_address = ? AND is_active = ?", types.NormalizeWallet(leaderAddress), true).
		Find(&as).Error
	if err != nil {
		return nil, err
	}
	return as, nil
}

// ActiveAllocationForFollower returns the follower's single active
// allocation.
func (d *DB) ActiveAllocationForFollower(ctx context.Context, followerID int64) (*types.CopyAllocation, error) {
	var a types.CopyAllocation
	err := d.db.WithContext(ctx).
		Where("follower_id = ? AND is_active = ?", followerID, true).
		First(&a).Error
	if err != nil {
		return nil, notFound(err, "storage.active_allocation")
	}
	return &a, nil
}

// SaveAllocation creates or updates an allocation row.
func (d *DB) SaveAllocation(ctx context.Context, a *types.CopyAllocation) error {
	a.LeaderAddress = types.NormalizeWallet(a.LeaderAddress)
	return d.db.WithContext(ctx).Save(a).Error
}

// DeactivateAllocations turns off every allocation of a follower. Called
// before activating a new one so at most one row stays active.
func (d *DB) DeactivateAllocations(ctx context.Context, followerID int64) error {
	return d.db.WithContext(ctx).Model(&types.CopyAllocation{}).
		Where("follower_id = ? AND is_active = ?", followerID, true).
		Update("is_active", false).Error
}

// ApplyCopyResult bumps the allocation counters atomically after a mirrored
// order. budgetDelta is negative for a BUY (capital out) and positive for a
// SELL (proceeds back, capped at the allocated budget by the caller).
func (d *DB) ApplyCopyResult(ctx context.Context, allocationID uint, invested, pnl, budgetDelta decimal.Decimal) error {
	res := d.db.WithContext(ctx).Model(&types.CopyAllocation{}).
		Where("id = ?", allocationID).
		Updates(map[string]any{
			"total_copied_trades": gorm.Expr("total_copied_trades + 1"),
			"total_invested":      gorm.Expr("total_invested + ?", invested),
			"total_pnl":           gorm.Expr("total_pnl + ?", pnl),
			"budget_remaining":    gorm.Expr("budget_remaining + ?", budgetDelta),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.Kindf(types.KindNotFound, "allocation %d not found", allocationID)
	}
	return nil
}
