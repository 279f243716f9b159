package tpsl

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polyflow/exchange"
	"github.com/web3guy0/polyflow/notify"
	"github.com/web3guy0/polyflow/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type fakeMonitorRepo struct {
	positions []*types.Position
	markets   []*types.Market

	closed  map[uint]decimal.Decimal
	reduced map[uint]decimal.Decimal
}

func newFakeMonitorRepo() *fakeMonitorRepo {
	return &fakeMonitorRepo{
		closed:  make(map[uint]decimal.Decimal),
		reduced: make(map[uint]decimal.Decimal),
	}
}

func (f *fakeMonitorRepo) TriggerPositions(ctx context.Context, limit int) ([]*types.Position, error) {
	return f.positions, nil
}

func (f *fakeMonitorRepo) MarketsByConditionIDs(ctx context.Context, ids []string) ([]*types.Market, error) {
	return f.markets, nil
}

func (f *fakeMonitorRepo) ClosePosition(ctx context.Context, id uint, exitPrice decimal.Decimal) error {
	f.closed[id] = exitPrice
	return nil
}

func (f *fakeMonitorRepo) ReducePosition(ctx context.Context, id uint, sold, price decimal.Decimal) error {
	f.reduced[id] = sold
	return nil
}

type fakeQuoter struct {
	price decimal.Decimal
	err   error
}

func (f *fakeQuoter) PriceFor(ctx context.Context, m *types.Market, idx int) (decimal.Decimal, types.QuoteSource, error) {
	if f.err != nil {
		return decimal.Zero, "", f.err
	}
	return f.price, types.SourceWS, nil
}

type fakeTrader struct {
	orders  []exchange.OrderRequest
	result  *exchange.OrderResult
	err     error
	balance decimal.Decimal
}

func (f *fakeTrader) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	f.orders = append(f.orders, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeTrader) GetTokenBalance(ctx context.Context, address, tokenID string) (decimal.Decimal, error) {
	return f.balance, nil
}

type fakeData struct {
	positions []types.ExchangePosition
}

func (f *fakeData) Positions(ctx context.Context, wallet string) ([]types.ExchangePosition, error) {
	return f.positions, nil
}

type fakeNotifier struct {
	sent []notify.Notification
}

func (f *fakeNotifier) Enqueue(n notify.Notification) bool {
	f.sent = append(f.sent, n)
	return true
}

func triggerMarket() *types.Market {
	return &types.Market{
		ID:           "888",
		ConditionID:  "0xc8",
		Question:     "Will turnout exceed 60 percent?",
		Status:       types.StatusActive,
		Outcomes:     []string{"Yes", "No"},
		ClobTokenIDs: []string{"tok-yes", "tok-no"},
	}
}

func tpPosition() *types.Position {
	return &types.Position{
		ID:              1,
		UserID:          42,
		WalletAddress:   "0xuser",
		MarketID:        "888",
		ConditionID:     "0xc8",
		TokenID:         "tok-yes",
		OutcomeIndex:    0,
		Outcome:         "Yes",
		Size:            dec("10"),
		EntryPrice:      dec("0.40"),
		Status:          types.PositionActive,
		TakeProfitPrice: decPtr("0.60"),
		StopLossPrice:   decPtr("0.30"),
	}
}

func newTestMonitor(repo *fakeMonitorRepo, q *fakeQuoter, tr *fakeTrader, d *fakeData, n *fakeNotifier) *Monitor {
	return NewMonitor(repo, q, tr, d, n, 10*time.Second)
}

func TestEvaluate(t *testing.T) {
	p := tpPosition()

	_, fired := Evaluate(p, dec("0.45"))
	assert.False(t, fired, "price between the thresholds")

	trigger, fired := Evaluate(p, dec("0.60"))
	assert.True(t, fired)
	assert.Equal(t, types.TriggerTakeProfit, trigger, "TP fires at equality")

	trigger, fired = Evaluate(p, dec("0.30"))
	assert.True(t, fired)
	assert.Equal(t, types.TriggerStopLoss, trigger)

	// Degenerate thresholds where both hold: TP wins.
	both := tpPosition()
	both.TakeProfitPrice = decPtr("0.50")
	both.StopLossPrice = decPtr("0.50")
	trigger, fired = Evaluate(both, dec("0.50"))
	assert.True(t, fired)
	assert.Equal(t, types.TriggerTakeProfit, trigger)
}

func TestTakeProfitClosesPosition(t *testing.T) {
	repo := newFakeMonitorRepo()
	repo.positions = []*types.Position{tpPosition()}
	repo.markets = []*types.Market{triggerMarket()}

	quoter := &fakeQuoter{price: dec("0.61")}
	trader := &fakeTrader{
		balance: dec("10"),
		result: &exchange.OrderResult{
			Success:     true,
			Tokens:      dec("10"),
			USDReceived: dec("6.10"),
			Price:       dec("0.61"),
			TxHash:      "0xsellhash",
		},
	}
	data := &fakeData{positions: []types.ExchangePosition{{
		ConditionID: "0xc8", TokenID: "tok-yes", Size: dec("10"),
	}}}
	notifier := &fakeNotifier{}

	m := newTestMonitor(repo, quoter, trader, data, notifier)
	require.NoError(t, m.Cycle(context.Background()))

	require.Len(t, trader.orders, 1)
	order := trader.orders[0]
	assert.Equal(t, "tok-yes", order.TokenID)
	assert.Equal(t, types.SideSell, order.Side)
	assert.Equal(t, types.OrderFAK, order.OrderType)
	assert.True(t, order.Amount.Equal(dec("10")), "chain-synced size")

	exit, ok := repo.closed[1]
	require.True(t, ok, "full fill closes the position")
	assert.True(t, exit.Equal(dec("0.61")))

	require.Len(t, notifier.sent, 1)
	n := notifier.sent[0]
	assert.Equal(t, notify.KindTPSLTrigger, n.Kind)
	assert.Equal(t, notify.PriorityHigh, n.Priority)
	assert.Contains(t, n.Body, "P&L $2.10", "(0.61 − 0.40) × 10")
	assert.Contains(t, n.Body, "$6.10")
	assert.Contains(t, n.Body, "0xsellhash")
}

func TestPartialFillReducesPosition(t *testing.T) {
	repo := newFakeMonitorRepo()
	repo.positions = []*types.Position{tpPosition()}
	repo.markets = []*types.Market{triggerMarket()}

	trader := &fakeTrader{
		balance: dec("10"),
		result: &exchange.OrderResult{
			Success:     true,
			Tokens:      dec("4"), // 40% of the position
			USDReceived: dec("2.44"),
		},
	}
	m := newTestMonitor(repo, &fakeQuoter{price: dec("0.61")}, trader, &fakeData{}, &fakeNotifier{})
	require.NoError(t, m.Cycle(context.Background()))

	assert.Empty(t, repo.closed)
	sold, ok := repo.reduced[1]
	require.True(t, ok)
	assert.True(t, sold.Equal(dec("4")))
}

func TestBalanceGuardReducesSellSize(t *testing.T) {
	repo := newFakeMonitorRepo()
	repo.positions = []*types.Position{tpPosition()}
	repo.markets = []*types.Market{triggerMarket()}

	// Data API says 10 but only 7 tokens sit in the wallet.
	trader := &fakeTrader{
		balance: dec("7"),
		result: &exchange.OrderResult{
			Success:     true,
			Tokens:      dec("7"),
			USDReceived: dec("4.27"),
		},
	}
	data := &fakeData{positions: []types.ExchangePosition{{
		TokenID: "tok-yes", Size: dec("10"),
	}}}

	m := newTestMonitor(repo, &fakeQuoter{price: dec("0.61")}, trader, data, &fakeNotifier{})
	require.NoError(t, m.Cycle(context.Background()))

	require.Len(t, trader.orders, 1)
	assert.True(t, trader.orders[0].Amount.Equal(dec("7")))
	assert.Contains(t, repo.closed, uint(1), "7/7 of the reduced size closes")
}

func TestEmptyOnChainPositionClosedWithoutSell(t *testing.T) {
	repo := newFakeMonitorRepo()
	repo.positions = []*types.Position{tpPosition()}
	repo.markets = []*types.Market{triggerMarket()}

	trader := &fakeTrader{balance: decimal.Zero}
	data := &fakeData{positions: []types.ExchangePosition{{
		TokenID: "tok-yes", Size: decimal.Zero,
	}}}

	m := newTestMonitor(repo, &fakeQuoter{price: dec("0.61")}, trader, data, &fakeNotifier{})
	require.NoError(t, m.Cycle(context.Background()))

	assert.Empty(t, trader.orders, "nothing to sell")
	assert.Contains(t, repo.closed, uint(1))
}

func TestSellFailureNotifiesHighPriority(t *testing.T) {
	repo := newFakeMonitorRepo()
	repo.positions = []*types.Position{tpPosition()}
	repo.markets = []*types.Market{triggerMarket()}

	trader := &fakeTrader{
		balance: dec("10"),
		err:     types.Kindf(types.KindMarketClosed, "market closed for trading"),
	}
	notifier := &fakeNotifier{}

	m := newTestMonitor(repo, &fakeQuoter{price: dec("0.61")}, trader, &fakeData{}, notifier)
	require.NoError(t, m.Cycle(context.Background()))

	assert.Empty(t, repo.closed)
	assert.Empty(t, repo.reduced)
	require.Len(t, notifier.sent, 1)
	n := notifier.sent[0]
	assert.Equal(t, notify.KindTPSLFailed, n.Kind)
	assert.Equal(t, notify.PriorityHigh, n.Priority)
	assert.Contains(t, n.Body, "Try selling manually")
}

func TestUnpricedPositionSkipped(t *testing.T) {
	repo := newFakeMonitorRepo()
	repo.positions = []*types.Position{tpPosition()}
	repo.markets = []*types.Market{triggerMarket()}

	trader := &fakeTrader{}
	m := newTestMonitor(repo, &fakeQuoter{err: types.Kindf(types.KindNotFound, "no quote")}, trader, &fakeData{}, &fakeNotifier{})
	require.NoError(t, m.Cycle(context.Background()))

	assert.Empty(t, trader.orders)
	assert.Empty(t, repo.closed)
}
