package indexer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FILL INGESTION - seam for the external on-chain indexer
// ═══════════════════════════════════════════════════════════════════════════════

// IngestRepo is the persistence view of fill ingestion.
type IngestRepo interface {
	InsertLeaderTrade(ctx context.Context, tr *types.LeaderTrade) (bool, error)
	GetUserByWallet(ctx context.Context, wallet string) (*types.User, error)
	GetWatchedAddress(ctx context.Context, address string) (*types.WatchedAddress, error)
}

// Publisher fans fills out over redis.
type Publisher interface {
	PublishTrade(ctx context.Context, msg types.TradeMessage) error
	PublishCopyTrade(ctx context.Context, msg types.CopyTradeMessage) error
}

// Ingestor persists raw fills and fans them out. Classification is
// read-only: ingestion never mutates the leader registry.
type Ingestor struct {
	repo IngestRepo
	pub  Publisher
}

func NewIngestor(repo IngestRepo, pub Publisher) *Ingestor {
	return &Ingestor{repo: repo, pub: pub}
}

// IngestFill stores one fill and publishes it. Idempotent on tx_id: a
// duplicate changes nothing and publishes nothing.
func (i *Ingestor) IngestFill(ctx context.Context, tr *types.LeaderTrade) error {
	tr.WalletAddress = types.NormalizeWallet(tr.WalletAddress)
	if tr.Timestamp.IsZero() {
		tr.Timestamp = time.Now()
	}

	created, err := i.repo.InsertLeaderTrade(ctx, tr)
	if err != nil {
		return err
	}
	if !created {
		log.Debug().Str("tx", tr.TxID).Msg("Duplicate fill ignored")
		return nil
	}

	class := i.classify(ctx, tr.WalletAddress)
	log.Info().Str("tx", tr.TxID).Str("wallet", types.ShortWallet(tr.WalletAddress)).
		Str("class", string(class)).Str("side", string(tr.Side)).
		Str("market", tr.MarketID).Msg("📥 Fill ingested")

	ts := tr.Timestamp.UTC().Format(time.RFC3339)

	if err := i.pub.PublishTrade(ctx, types.TradeMessage{
		MarketID:  tr.MarketID,
		TxID:      tr.TxID,
		Outcome:   tr.OutcomeIndex,
		Side:      tr.Side,
		Amount:    tr.AmountUSD,
		Price:     priceRef(tr.Price),
		TxHash:    tr.TxHash,
		Timestamp: ts,
	}); err != nil {
		log.Warn().Err(err).Str("tx", tr.TxID).Msg("⚠️ Trade publish failed")
	}

	if class == types.ClassOnchain {
		return nil
	}
	if err := i.pub.PublishCopyTrade(ctx, types.CopyTradeMessage{
		TxID:        tr.TxID,
		UserAddress: tr.WalletAddress,
		PositionID:  tr.PositionID,
		MarketID:    tr.MarketID,
		Outcome:     tr.OutcomeIndex,
		TxType:      tr.Side,
		Amount:      tr.AmountUSD,
		Price:       priceRef(tr.Price),
		TxHash:      tr.TxHash,
		Timestamp:   ts,
		AddressType: class,
	}); err != nil {
		log.Warn().Err(err).Str("tx", tr.TxID).Msg("⚠️ Copy-trade publish failed")
	}
	return nil
}

func priceRef(d decimal.Decimal) *decimal.Decimal {
	if !d.IsPositive() {
		return nil
	}
	return &d
}

// classify maps a wallet onto its wire classification without touching the
// registry.
func (i *Ingestor) classify(ctx context.Context, wallet string) types.WalletClass {
	if _, err := i.repo.GetUserByWallet(ctx, wallet); err == nil {
		return types.ClassBotUser
	}
	if w, err := i.repo.GetWatchedAddress(ctx, wallet); err == nil {
		return w.Class()
	}
	return types.ClassOnchain
}
