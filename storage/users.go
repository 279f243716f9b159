package storage

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/web3guy0/polyflow/types"
)

// ListUserWallets returns every registered user.
func (d *DB) ListUserWallets(ctx context.Context) ([]types.User, error) {
	var us []types.User
	if err := d.db.WithContext(ctx).Find(&us).Error; err != nil {
		return nil, err
	}
	return us, nil
}

// RecentUsers returns the n most recently active users.
func (d *DB) RecentUsers(ctx context.Context, n int) ([]types.User, error) {
	var us []types.User
	err := d.db.WithContext(ctx).
		Order("last_active_at DESC").
		Limit(n).
		Find(&us).Error
	if err != nil {
		return nil, err
	}
	return us, nil
}

// GetUserByWallet finds a registered user by wallet address.
func (d *DB) GetUserByWallet(ctx context.Context, wallet string) (*types.User, error) {
	var u types.User
	err := d.db.WithContext(ctx).
		Where("wallet_address = ?", types.NormalizeWallet(wallet)).
		First(&u).Error
	if err != nil {
		return nil, notFound(err, "storage.user_by_wallet")
	}
	return &u, nil
}

// GetWatchedAddress reads one leader-registry row.
func (d *DB) GetWatchedAddress(ctx context.Context, address string) (*types.WatchedAddress, error) {
	var w types.WatchedAddress
	err := d.db.WithContext(ctx).
		Where("address = ?", types.NormalizeWallet(address)).
		First(&w).Error
	if err != nil {
		return nil, notFound(err, "storage.watched_address")
	}
	return &w, nil
}

// EnsureWatchedAddress returns the existing registry row or creates the given
// one. First-or-create keeps concurrent resolvers on a single row.
func (d *DB) EnsureWatchedAddress(ctx context.Context, w *types.WatchedAddress) (*types.WatchedAddress, error) {
	w.Address = types.NormalizeWallet(w.Address)
	// Struct condition so FirstOrCreate carries the address into the
	// created row.
	var row types.WatchedAddress
	err := d.db.WithContext(ctx).
		Where(types.WatchedAddress{Address: w.Address}).
		Attrs(types.WatchedAddress{
			Type:        w.Type,
			UserID:      w.UserID,
			Label:       w.Label,
			IsVerySmart: w.IsVerySmart,
		}).
		FirstOrCreate(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// EnsureResolvedPosition queues a redeemable winner once per
// (wallet, condition, token); reports whether the row was new.
func (d *DB) EnsureResolvedPosition(ctx context.Context, rp *types.ResolvedPosition) (bool, error) {
	rp.WalletAddress = types.NormalizeWallet(rp.WalletAddress)
	res := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}, {Name: "condition_id"}, {Name: "token_id"}},
		DoNothing: true,
	}).Create(rp)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// PendingResolvedPositions lists queued redemptions, oldest first.
func (d *DB) PendingResolvedPositions(ctx context.Context, limit int) ([]*types.ResolvedPosition, error) {
	var rps []*types.ResolvedPosition
	q := d.db.WithContext(ctx).
		Where("status = ?", types.RedemptionPending).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rps).Error; err != nil {
		return nil, err
	}
	return rps, nil
}
