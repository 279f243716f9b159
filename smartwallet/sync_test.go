package smartwallet

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polyflow/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeSyncRepo struct {
	raw     map[string]*types.LeaderTrade
	markets map[string]*types.Market
	leaders map[string]*types.WatchedAddress

	normalized map[string]*types.SmartWalletTrade
	shared     map[string]*types.SharedTrade
	invalid    []*types.InvalidTrade
	deleted    []string
}

func newFakeSyncRepo() *fakeSyncRepo {
	return &fakeSyncRepo{
		raw:        make(map[string]*types.LeaderTrade),
		markets:    make(map[string]*types.Market),
		leaders:    make(map[string]*types.WatchedAddress),
		normalized: make(map[string]*types.SmartWalletTrade),
		shared:     make(map[string]*types.SharedTrade),
	}
}

func (f *fakeSyncRepo) LeaderTradeByTx(ctx context.Context, txID string) (*types.LeaderTrade, error) {
	tr, ok := f.raw[txID]
	if !ok {
		return nil, types.Kindf(types.KindNotFound, "trade %s", txID)
	}
	return tr, nil
}

func (f *fakeSyncRepo) SmartTradesSince(ctx context.Context, since time.Time) ([]*types.LeaderTrade, error) {
	var out []*types.LeaderTrade
	for _, tr := range f.raw {
		if tr.IsSmartWallet && tr.Timestamp.After(since) {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (f *fakeSyncRepo) LatestSmartTradeTime(ctx context.Context) (time.Time, error) {
	var latest time.Time
	for _, t := range f.normalized {
		if t.Timestamp.After(latest) {
			latest = t.Timestamp
		}
	}
	return latest, nil
}

func (f *fakeSyncRepo) UpsertSmartTrade(ctx context.Context, t *types.SmartWalletTrade) error {
	f.normalized[t.TradeID] = t
	return nil
}

func (f *fakeSyncRepo) SmartTradeVariants(ctx context.Context, canonicalID string) ([]*types.SmartWalletTrade, error) {
	var out []*types.SmartWalletTrade
	for id, t := range f.normalized {
		if types.CanonicalTxID(id) == canonicalID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeSyncRepo) DeleteSmartTrades(ctx context.Context, tradeIDs []string) error {
	for _, id := range tradeIDs {
		delete(f.normalized, id)
		f.deleted = append(f.deleted, id)
	}
	return nil
}

func (f *fakeSyncRepo) HasPriorSmartTrade(ctx context.Context, wallet, conditionID string, before time.Time) (bool, error) {
	for _, t := range f.normalized {
		if t.WalletAddress == wallet && t.ConditionID == conditionID && t.Timestamp.Before(before) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSyncRepo) InsertInvalidTrade(ctx context.Context, iv *types.InvalidTrade) error {
	f.invalid = append(f.invalid, iv)
	return nil
}

func (f *fakeSyncRepo) AppendShareable(ctx context.Context, s *types.SharedTrade) (bool, error) {
	if _, ok := f.shared[s.TradeID]; ok {
		return false, nil
	}
	f.shared[s.TradeID] = s
	return true, nil
}

func (f *fakeSyncRepo) GetMarket(ctx context.Context, id string, allowClosed bool) (*types.Market, error) {
	m, ok := f.markets[id]
	if !ok {
		return nil, types.Kindf(types.KindNotFound, "market %s", id)
	}
	return m, nil
}

func (f *fakeSyncRepo) GetWatchedAddress(ctx context.Context, address string) (*types.WatchedAddress, error) {
	w, ok := f.leaders[types.NormalizeWallet(address)]
	if !ok {
		return nil, types.Kindf(types.KindNotFound, "no watched address")
	}
	return w, nil
}

func smartMarket() *types.Market {
	return &types.Market{
		ID:            "123",
		ConditionID:   "0x000000000000000000000000000000000000000000000000000000000000007b",
		Question:      "Will the incumbent win the runoff?",
		Status:        types.StatusActive,
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: []decimal.Decimal{dec("0.62"), dec("0.38")},
		ClobTokenIDs:  []string{"tok-yes", "tok-no"},
	}
}

func rawFill(txID string, ts time.Time) *types.LeaderTrade {
	return &types.LeaderTrade{
		TxID:          txID,
		WalletAddress: "0xSMART",
		MarketID:      "123",
		OutcomeIndex:  0,
		Side:          types.SideBuy,
		Size:          dec("1000"),
		Price:         dec("0.62"),
		AmountUSD:     dec("620"),
		Timestamp:     ts,
		IsSmartWallet: true,
	}
}

func newTestSync(repo *fakeSyncRepo, now time.Time) *Sync {
	s := NewSync(repo, time.Minute)
	s.clock = func() time.Time { return now }
	return s
}

func TestIngestNormalizesAndShares(t *testing.T) {
	repo := newFakeSyncRepo()
	repo.markets["123"] = smartMarket()
	repo.leaders["0xsmart"] = &types.WatchedAddress{
		Address: "0xsmart", Type: types.AddressSmartTrader, IsVerySmart: true,
	}

	now := time.Now()
	s := newTestSync(repo, now)
	require.NoError(t, s.Ingest(context.Background(), rawFill("tx-a", now.Add(-time.Minute))))

	got := repo.normalized["tx-a"]
	require.NotNil(t, got)
	assert.Equal(t, "0xsmart", got.WalletAddress)
	assert.Equal(t, smartMarket().ConditionID, got.ConditionID)
	assert.Equal(t, "Yes", got.Outcome)
	assert.Equal(t, "Will the incumbent win the runoff?", got.MarketQuestion)
	assert.True(t, got.IsFirstTime)
	assert.False(t, got.PriceIsDefault)

	require.NotNil(t, repo.shared["tx-a"], "$620 first-time BUY by a very-smart wallet qualifies")
}

func TestIngestValidationDeadLetters(t *testing.T) {
	repo := newFakeSyncRepo()
	s := newTestSync(repo, time.Now())

	bad := rawFill("tx-bad", time.Now())
	bad.Size = decimal.Zero

	err := s.Ingest(context.Background(), bad)
	assert.True(t, types.IsKind(err, types.KindValidation))
	require.Len(t, repo.invalid, 1)
	assert.Equal(t, "tx-bad", repo.invalid[0].TxID)
	assert.Contains(t, repo.invalid[0].Reason, "size")
	assert.Empty(t, repo.normalized)
}

func TestIngestDefaultPriceExcludedFromFeed(t *testing.T) {
	repo := newFakeSyncRepo()
	repo.leaders["0xsmart"] = &types.WatchedAddress{
		Address: "0xsmart", Type: types.AddressSmartTrader, IsVerySmart: true,
	}
	// Market unknown: no canonical prices, no question.

	now := time.Now()
	fill := rawFill("tx-d", now.Add(-time.Minute))
	fill.Price = decimal.Zero
	fill.AmountUSD = dec("900")

	s := newTestSync(repo, now)
	require.NoError(t, s.Ingest(context.Background(), fill))

	got := repo.normalized["tx-d"]
	require.NotNil(t, got)
	assert.True(t, got.Price.Equal(dec("0.5")))
	assert.True(t, got.PriceIsDefault)
	assert.Empty(t, repo.shared, "defaulted price must not reach the shareable feed")
}

func TestIngestSecondTradeSameConditionNotFirstTime(t *testing.T) {
	repo := newFakeSyncRepo()
	repo.markets["123"] = smartMarket()

	now := time.Now()
	s := newTestSync(repo, now)
	require.NoError(t, s.Ingest(context.Background(), rawFill("tx-1", now.Add(-2*time.Hour))))
	require.NoError(t, s.Ingest(context.Background(), rawFill("tx-2", now.Add(-time.Minute))))

	assert.True(t, repo.normalized["tx-1"].IsFirstTime)
	assert.False(t, repo.normalized["tx-2"].IsFirstTime)
}

func TestWebhookAndPollVariantsCollapse(t *testing.T) {
	repo := newFakeSyncRepo()
	repo.markets["123"] = smartMarket()
	now := time.Now()

	// The polling path normalized the canonical row first; the webhook then
	// delivers a suffixed variant of the same transaction.
	s := newTestSync(repo, now)
	require.NoError(t, s.Ingest(context.Background(), rawFill("tx-z", now.Add(-time.Hour))))
	require.True(t, repo.normalized["tx-z"].IsFirstTime)

	repo.raw["tx-z_1"] = rawFill("tx-z_1", now.Add(-time.Minute))
	require.NoError(t, s.IngestByTx(context.Background(), "tx-z_1"))

	require.Len(t, repo.normalized, 1, "variants collapse to a single row")
	kept := repo.normalized["tx-z"]
	require.NotNil(t, kept, "the is_first_time row wins")
	assert.Contains(t, repo.deleted, "tx-z_1")
}

func TestCycleProcessesOnlyNewRows(t *testing.T) {
	repo := newFakeSyncRepo()
	repo.markets["123"] = smartMarket()
	now := time.Now()

	repo.raw["tx-old"] = rawFill("tx-old", now.Add(-3*time.Hour))
	repo.raw["tx-new"] = rawFill("tx-new", now.Add(-time.Minute))
	repo.normalized["tx-old"] = &types.SmartWalletTrade{
		TradeID:       "tx-old",
		WalletAddress: "0xsmart",
		ConditionID:   smartMarket().ConditionID,
		Timestamp:     now.Add(-3 * time.Hour),
	}

	s := newTestSync(repo, now)
	require.NoError(t, s.Cycle(context.Background()))

	require.NotNil(t, repo.normalized["tx-new"])
	assert.Len(t, repo.normalized, 2)
}

func TestShareableFilter(t *testing.T) {
	now := time.Now()
	verySmart := &types.WatchedAddress{IsVerySmart: true}
	base := func() *types.SmartWalletTrade {
		return &types.SmartWalletTrade{
			Side:           types.SideBuy,
			IsFirstTime:    true,
			Value:          dec("500"),
			MarketQuestion: "Will the incumbent win the runoff?",
			Timestamp:      now.Add(-time.Minute),
		}
	}

	ok, _ := Shareable(base(), verySmart, now)
	assert.True(t, ok)

	cases := []struct {
		name   string
		mutate func(*types.SmartWalletTrade)
		leader *types.WatchedAddress
		reason string
	}{
		{"sell", func(t *types.SmartWalletTrade) { t.Side = types.SideSell }, verySmart, "not_buy"},
		{"repeat", func(t *types.SmartWalletTrade) { t.IsFirstTime = false }, verySmart, "not_first_time"},
		{"small", func(t *types.SmartWalletTrade) { t.Value = dec("399.99") }, verySmart, "below_value"},
		{"no question", func(t *types.SmartWalletTrade) { t.MarketQuestion = "" }, verySmart, "no_question"},
		{"not very smart", func(t *types.SmartWalletTrade) {}, &types.WatchedAddress{}, "not_very_smart"},
		{"unknown leader", func(t *types.SmartWalletTrade) {}, nil, "not_very_smart"},
		{"crypto price", func(t *types.SmartWalletTrade) {
			t.MarketQuestion = "Will Bitcoin reach $150,000 in March?"
		}, verySmart, "crypto_price_market"},
		{"stale", func(t *types.SmartWalletTrade) { t.Timestamp = now.Add(-6 * time.Minute) }, verySmart, "too_old"},
		{"default price", func(t *types.SmartWalletTrade) { t.PriceIsDefault = true }, verySmart, "default_price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := base()
			tc.mutate(tr)
			ok, reason := Shareable(tr, tc.leader, now)
			assert.False(t, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestRepublishSharedTradeIsNoOp(t *testing.T) {
	repo := newFakeSyncRepo()
	repo.markets["123"] = smartMarket()
	repo.leaders["0xsmart"] = &types.WatchedAddress{Address: "0xsmart", IsVerySmart: true}

	now := time.Now()
	s := newTestSync(repo, now)
	require.NoError(t, s.Ingest(context.Background(), rawFill("tx-r", now.Add(-time.Minute))))
	require.NoError(t, s.Ingest(context.Background(), rawFill("tx-r", now.Add(-time.Minute))))

	assert.Len(t, repo.shared, 1)
}
