package copytrade

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polyflow/types"
)

// LeaderRepo is the registry view the resolver needs.
type LeaderRepo interface {
	GetUserByWallet(ctx context.Context, wallet string) (*types.User, error)
	GetWatchedAddress(ctx context.Context, address string) (*types.WatchedAddress, error)
	EnsureWatchedAddress(ctx context.Context, w *types.WatchedAddress) (*types.WatchedAddress, error)
}

// Resolver classifies a leader address against the registry, creating a
// copy_leader row for addresses never seen before. Resolution order:
// registered bot user, then smart_trader, then copy_leader, then create.
// EnsureWatchedAddress is first-or-create, so concurrent resolvers converge
// on a single row.
type Resolver struct {
	repo LeaderRepo
}

func NewResolver(repo LeaderRepo) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the registry row for an address, creating one when absent.
func (r *Resolver) Resolve(ctx context.Context, address string) (*types.WatchedAddress, error) {
	addr := types.NormalizeWallet(address)

	u, err := r.repo.GetUserByWallet(ctx, addr)
	switch {
	case err == nil:
		return r.repo.EnsureWatchedAddress(ctx, &types.WatchedAddress{
			Address: addr,
			Type:    types.AddressBotUser,
			UserID:  u.ID,
		})
	case !types.IsKind(err, types.KindNotFound):
		return nil, err
	}

	w, err := r.repo.GetWatchedAddress(ctx, addr)
	switch {
	case err == nil:
		return w, nil // smart_trader or copy_leader, already registered
	case !types.IsKind(err, types.KindNotFound):
		return nil, err
	}

	log.Debug().Str("address", types.ShortWallet(addr)).Msg("New copy leader registered")
	return r.repo.EnsureWatchedAddress(ctx, &types.WatchedAddress{
		Address: addr,
		Type:    types.AddressCopyLeader,
	})
}
