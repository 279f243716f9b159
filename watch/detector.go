package watch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polyflow/types"
)

// DetectorRepo is the redemption seam the detector writes into.
type DetectorRepo interface {
	EnsureResolvedPosition(ctx context.Context, rp *types.ResolvedPosition) (bool, error)
}

// Detector splits a wallet's position snapshot into active holdings and
// redeemable winners. Winners enter the redemption workflow as PENDING; the
// external redemption flow takes it from there.
type Detector struct {
	repo DetectorRepo
}

func NewDetector(repo DetectorRepo) *Detector {
	return &Detector{repo: repo}
}

// SplitActive filters one snapshot: redeemable winners are persisted for
// redemption and excluded from the returned active set, along with dust.
func (d *Detector) SplitActive(ctx context.Context, userID int64, wallet string, ps []types.ExchangePosition) []types.ExchangePosition {
	active := make([]types.ExchangePosition, 0, len(ps))
	for _, p := range ps {
		if p.Dust() {
			continue
		}
		if !p.Redeemable {
			active = append(active, p)
			continue
		}

		created, err := d.repo.EnsureResolvedPosition(ctx, &types.ResolvedPosition{
			UserID:        userID,
			WalletAddress: types.NormalizeWallet(wallet),
			ConditionID:   p.ConditionID,
			TokenID:       p.TokenID,
			Outcome:       p.Outcome,
			Size:          p.Size,
			Status:        types.RedemptionPending,
		})
		if err != nil {
			log.Warn().Err(err).Str("wallet", types.ShortWallet(wallet)).
				Str("condition", p.ConditionID).Msg("⚠️ Could not queue redemption")
			continue
		}
		if created {
			log.Info().Str("wallet", types.ShortWallet(wallet)).
				Str("outcome", p.Outcome).Str("size", p.Size.String()).
				Msg("🏆 Redeemable position queued")
		}
	}
	return active
}
