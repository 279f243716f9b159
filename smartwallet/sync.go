package smartwallet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/metrics"
	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SMART-WALLET TRADE INGESTION - raw fills → normalized view
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two input paths feed the same normalization: the webhook-instant path
// (one trade id at a time) and a polling backup that sweeps raw rows newer
// than the newest normalized row. Both are idempotent on trade_id, so the
// paths racing each other is harmless.
// ═══════════════════════════════════════════════════════════════════════════════

// defaultPrice backstops rows whose price is neither on the fill nor in the
// market's canonical outcome prices.
var defaultPrice = decimal.RequireFromString("0.5")

// criticalInvalidRatio is the per-cycle invalid share that indicates an
// upstream schema problem rather than stray bad rows.
const criticalInvalidRatio = 0.10

// SyncRepo is the persistence view of the ingestion pipeline.
type SyncRepo interface {
	LeaderTradeByTx(ctx context.Context, txID string) (*types.LeaderTrade, error)
	SmartTradesSince(ctx context.Context, since time.Time) ([]*types.LeaderTrade, error)
	LatestSmartTradeTime(ctx context.Context) (time.Time, error)
	UpsertSmartTrade(ctx context.Context, t *types.SmartWalletTrade) error
	SmartTradeVariants(ctx context.Context, canonicalID string) ([]*types.SmartWalletTrade, error)
	DeleteSmartTrades(ctx context.Context, tradeIDs []string) error
	HasPriorSmartTrade(ctx context.Context, wallet, conditionID string, before time.Time) (bool, error)
	InsertInvalidTrade(ctx context.Context, iv *types.InvalidTrade) error
	AppendShareable(ctx context.Context, s *types.SharedTrade) (bool, error)
	GetMarket(ctx context.Context, id string, allowClosed bool) (*types.Market, error)
	GetWatchedAddress(ctx context.Context, address string) (*types.WatchedAddress, error)
}

// Sync normalizes raw smart-wallet fills into the UI-ready view and feeds
// the shareable filter.
type Sync struct {
	repo     SyncRepo
	interval time.Duration
	clock    func() time.Time
}

func NewSync(repo SyncRepo, interval time.Duration) *Sync {
	return &Sync{repo: repo, interval: interval, clock: time.Now}
}

// Run executes the polling backup until ctx is cancelled.
func (s *Sync) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.interval).Msg("🔄 Smart-wallet sync started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Cycle(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("❌ Smart-wallet sync cycle failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle processes every raw fill newer than the newest normalized row.
func (s *Sync) Cycle(ctx context.Context) error {
	since, err := s.repo.LatestSmartTradeTime(ctx)
	if err != nil {
		return err
	}
	rows, err := s.repo.SmartTradesSince(ctx, since)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	invalid := 0
	for _, tr := range rows {
		if err := s.Ingest(ctx, tr); err != nil {
			if types.IsKind(err, types.KindValidation) {
				invalid++
				continue
			}
			if ctx.Err() != nil {
				return err
			}
			log.Warn().Err(err).Str("tx", tr.TxID).Msg("⚠️ Smart trade ingestion failed")
		}
	}

	if ratio := float64(invalid) / float64(len(rows)); ratio > criticalInvalidRatio {
		log.Error().Int("invalid", invalid).Int("received", len(rows)).
			Msg("🚨 Smart-wallet sync invalid rate above threshold, upstream schema suspect")
	}
	return nil
}

// IngestByTx is the webhook-instant path: normalize one raw fill by its
// trade id, then collapse any suffixed duplicates of the same transaction.
func (s *Sync) IngestByTx(ctx context.Context, txID string) error {
	tr, err := s.repo.LeaderTradeByTx(ctx, txID)
	if types.IsKind(err, types.KindNotFound) && txID != types.CanonicalTxID(txID) {
		tr, err = s.repo.LeaderTradeByTx(ctx, types.CanonicalTxID(txID))
	}
	if err != nil {
		return err
	}
	if err := s.Ingest(ctx, tr); err != nil {
		return err
	}
	return s.reconcileVariants(ctx, types.CanonicalTxID(txID))
}

// Ingest validates, enriches, and upserts one raw fill. Validation failures
// are dead-lettered and returned as KindValidation.
func (s *Sync) Ingest(ctx context.Context, tr *types.LeaderTrade) error {
	t, err := s.normalize(ctx, tr)
	if err != nil {
		if types.IsKind(err, types.KindValidation) {
			s.deadLetter(ctx, tr, err)
			metrics.SmartSyncTrades.WithLabelValues("invalid").Inc()
		}
		return err
	}

	if err := s.repo.UpsertSmartTrade(ctx, t); err != nil {
		return err
	}
	metrics.SmartSyncTrades.WithLabelValues("valid").Inc()

	return s.maybeShare(ctx, t)
}

func (s *Sync) normalize(ctx context.Context, tr *types.LeaderTrade) (*types.SmartWalletTrade, error) {
	switch {
	case tr.TxID == "":
		return nil, types.Kindf(types.KindValidation, "missing tx_id")
	case tr.WalletAddress == "":
		return nil, types.Kindf(types.KindValidation, "missing wallet_address")
	case tr.MarketID == "":
		return nil, types.Kindf(types.KindValidation, "missing market_id")
	case !tr.Side.Valid():
		return nil, types.Kindf(types.KindValidation, "invalid side %q", tr.Side)
	case !tr.Size.IsPositive():
		return nil, types.Kindf(types.KindValidation, "non-positive size %s", tr.Size)
	case tr.Timestamp.IsZero():
		return nil, types.Kindf(types.KindValidation, "missing timestamp")
	}

	conditionID, err := types.ConditionIDFor(tr.MarketID)
	if err != nil {
		return nil, err
	}

	// The market may not be in the store yet; enrichment degrades instead of
	// failing.
	market, err := s.repo.GetMarket(ctx, tr.MarketID, true)
	if err != nil && !types.IsKind(err, types.KindNotFound) {
		return nil, err
	}

	t := &types.SmartWalletTrade{
		TradeID:       tr.TxID,
		WalletAddress: types.NormalizeWallet(tr.WalletAddress),
		MarketID:      tr.MarketID,
		ConditionID:   conditionID,
		Side:          tr.Side,
		OutcomeIndex:  tr.OutcomeIndex,
		Size:          tr.Size,
		Timestamp:     tr.Timestamp,
	}
	if market != nil {
		t.Outcome = market.OutcomeLabel(tr.OutcomeIndex)
		t.MarketQuestion = market.Question
	}

	t.Price = tr.Price
	if !t.Price.IsPositive() {
		if p, ok := canonicalPrice(market, tr.OutcomeIndex); ok {
			t.Price = p
		} else {
			t.Price = defaultPrice
			t.PriceIsDefault = true
		}
	}

	t.Value = tr.AmountUSD
	if !t.Value.IsPositive() {
		t.Value = t.Price.Mul(t.Size)
	}

	prior, err := s.repo.HasPriorSmartTrade(ctx, t.WalletAddress, conditionID, tr.Timestamp)
	if err != nil {
		return nil, err
	}
	t.IsFirstTime = !prior

	return t, nil
}

func canonicalPrice(m *types.Market, idx int) (decimal.Decimal, bool) {
	if m == nil {
		return decimal.Zero, false
	}
	p, ok := m.OutcomePrice(idx)
	if !ok || !p.IsPositive() {
		return decimal.Zero, false
	}
	return p, true
}

func (s *Sync) deadLetter(ctx context.Context, tr *types.LeaderTrade, cause error) {
	payload, _ := json.Marshal(tr)
	if err := s.repo.InsertInvalidTrade(ctx, &types.InvalidTrade{
		TxID:    tr.TxID,
		Reason:  cause.Error(),
		Payload: string(payload),
	}); err != nil {
		log.Warn().Err(err).Str("tx", tr.TxID).Msg("⚠️ Dead-letter insert failed")
	}
}

// maybeShare appends the trade to the shareable feed when it passes the
// filter. Re-publishing an already-shared transaction is a no-op.
func (s *Sync) maybeShare(ctx context.Context, t *types.SmartWalletTrade) error {
	leader, err := s.repo.GetWatchedAddress(ctx, t.WalletAddress)
	if err != nil && !types.IsKind(err, types.KindNotFound) {
		return err
	}

	ok, reason := Shareable(t, leader, s.clock())
	if !ok {
		log.Debug().Str("trade", t.TradeID).Str("reason", reason).Msg("Trade not shareable")
		return nil
	}

	created, err := s.repo.AppendShareable(ctx, &types.SharedTrade{
		TradeID:        t.CanonicalTradeID(),
		WalletAddress:  t.WalletAddress,
		MarketQuestion: t.MarketQuestion,
		Outcome:        t.Outcome,
		Value:          t.Value,
	})
	if err != nil {
		return err
	}
	if created {
		metrics.SmartShared.Inc()
		log.Info().Str("trade", t.TradeID).Str("value", t.Value.String()).
			Str("question", t.MarketQuestion).Msg("📣 Smart trade shared")
	}
	return nil
}

// reconcileVariants collapses suffixed webhook duplicates of one transaction
// down to a single row: the is_first_time row wins, then the newest.
func (s *Sync) reconcileVariants(ctx context.Context, canonicalID string) error {
	variants, err := s.repo.SmartTradeVariants(ctx, canonicalID)
	if err != nil || len(variants) <= 1 {
		return err
	}

	keep := variants[0]
	for _, v := range variants[1:] {
		switch {
		case v.IsFirstTime && !keep.IsFirstTime:
			keep = v
		case v.IsFirstTime == keep.IsFirstTime && v.Timestamp.After(keep.Timestamp):
			keep = v
		}
	}

	var drop []string
	for _, v := range variants {
		if v.TradeID != keep.TradeID {
			drop = append(drop, v.TradeID)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	log.Debug().Str("canonical", canonicalID).Int("dropped", len(drop)).
		Msg("🧹 Duplicate smart-trade variants collapsed")
	return s.repo.DeleteSmartTrades(ctx, drop)
}
