package tpsl

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/web3guy0/polyflow/exchange"
	"github.com/web3guy0/polyflow/metrics"
	"github.com/web3guy0/polyflow/notify"
	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TP/SL MONITOR - automated take-profit and stop-loss exits
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every cycle pulls the active positions carrying a trigger, prices them
// through the live-quote cascade, and sells the ones whose threshold fired.
// A cycle that overruns its interval is simply not overlapped: the next tick
// is skipped while the previous cycle still runs, which also gives
// per-position serialization for free.
// ═══════════════════════════════════════════════════════════════════════════════

const (
	maxPositionsPerCycle = 100
	// closeThreshold: a fill covering at least this share of the position
	// closes it; anything less is a partial exit.
	closeThreshold = 0.95
	sellPacing     = 200 * time.Millisecond
)

// MonitorRepo is the persistence view of the monitor.
type MonitorRepo interface {
	TriggerPositions(ctx context.Context, limit int) ([]*types.Position, error)
	MarketsByConditionIDs(ctx context.Context, conditionIDs []string) ([]*types.Market, error)
	ClosePosition(ctx context.Context, id uint, exitPrice decimal.Decimal) error
	ReducePosition(ctx context.Context, id uint, soldTokens, currentPrice decimal.Decimal) error
}

// Quoter prices an outcome through the cascade.
type Quoter interface {
	PriceFor(ctx context.Context, m *types.Market, outcomeIdx int) (decimal.Decimal, types.QuoteSource, error)
}

// Trader places exit orders and reads token balances.
type Trader interface {
	PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error)
	GetTokenBalance(ctx context.Context, address, tokenID string) (decimal.Decimal, error)
}

// PositionsAPI re-reads a wallet's holdings from the exchange data API.
type PositionsAPI interface {
	Positions(ctx context.Context, wallet string) ([]types.ExchangePosition, error)
}

// Notifier accepts user-facing messages.
type Notifier interface {
	Enqueue(n notify.Notification) bool
}

// Monitor watches triggered positions and executes exits.
type Monitor struct {
	repo   MonitorRepo
	quotes Quoter
	trader Trader
	data   PositionsAPI
	notify Notifier

	interval time.Duration
	limiter  *rate.Limiter
	running  atomic.Bool
}

func NewMonitor(repo MonitorRepo, quotes Quoter, trader Trader, data PositionsAPI, notifier Notifier, interval time.Duration) *Monitor {
	return &Monitor{
		repo:     repo,
		quotes:   quotes,
		trader:   trader,
		data:     data,
		notify:   notifier,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(sellPacing), 1),
	}
}

// Run evaluates triggers on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().Dur("interval", m.interval).Msg("🎯 TP/SL monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if m.running.CompareAndSwap(false, true) {
			if err := m.Cycle(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("❌ TP/SL cycle failed")
			}
			m.running.Store(false)
		} else {
			log.Warn().Msg("⚠️ TP/SL cycle still running, skipping tick")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle evaluates every triggered position once.
func (m *Monitor) Cycle(ctx context.Context) error {
	positions, err := m.repo.TriggerPositions(ctx, maxPositionsPerCycle)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	conditionIDs := make([]string, 0, len(positions))
	seen := make(map[string]struct{})
	for _, p := range positions {
		if _, ok := seen[p.ConditionID]; !ok {
			seen[p.ConditionID] = struct{}{}
			conditionIDs = append(conditionIDs, p.ConditionID)
		}
	}
	ms, err := m.repo.MarketsByConditionIDs(ctx, conditionIDs)
	if err != nil {
		return err
	}
	byCondition := make(map[string]*types.Market, len(ms))
	for _, mk := range ms {
		byCondition[mk.ConditionID] = mk
	}

	for _, p := range positions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.TPSLEvaluations.Inc()

		market, ok := byCondition[p.ConditionID]
		if !ok {
			continue
		}
		price, _, err := m.quotes.PriceFor(ctx, market, p.OutcomeIndex)
		if err != nil {
			log.Debug().Err(err).Uint("position", p.ID).Msg("No price for triggered position")
			continue
		}

		trigger, fired := Evaluate(p, price)
		if !fired {
			continue
		}
		metrics.TPSLTriggers.WithLabelValues(string(trigger)).Inc()
		m.execute(ctx, p, market, trigger, price)
	}
	return nil
}

// Evaluate checks a position's thresholds against the current price. When
// both hold, take-profit wins.
func Evaluate(p *types.Position, price decimal.Decimal) (types.TriggerType, bool) {
	if p.TakeProfitPrice != nil && price.GreaterThanOrEqual(*p.TakeProfitPrice) {
		return types.TriggerTakeProfit, true
	}
	if p.StopLossPrice != nil && price.LessThanOrEqual(*p.StopLossPrice) {
		return types.TriggerStopLoss, true
	}
	return "", false
}

func (m *Monitor) execute(ctx context.Context, p *types.Position, market *types.Market, trigger types.TriggerType, triggerPrice decimal.Decimal) {
	size := m.syncSize(ctx, p)
	if !size.IsPositive() {
		log.Warn().Uint("position", p.ID).Msg("⚠️ Triggered position empty on chain, closing as already exited")
		if err := m.repo.ClosePosition(ctx, p.ID, triggerPrice); err != nil {
			log.Error().Err(err).Uint("position", p.ID).Msg("❌ Could not close empty position")
		}
		return
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return
	}

	res, err := m.trader.PlaceMarketOrder(ctx, exchange.OrderRequest{
		TokenID:      p.TokenID,
		Side:         types.SideSell,
		Amount:       size,
		OrderType:    types.OrderFAK,
		MarketID:     p.MarketID,
		OutcomeLabel: p.Outcome,
	})
	if err != nil {
		metrics.TPSLSells.WithLabelValues("error").Inc()
		m.notifyFailure(p, market, trigger, err)
		return
	}
	metrics.TPSLSells.WithLabelValues("success").Inc()

	sold := res.Tokens
	if !sold.IsPositive() {
		sold = size
	}
	execPrice, ok := res.ExecutionPrice()
	if !ok {
		execPrice = triggerPrice
	}
	received := res.USDReceived
	if !received.IsPositive() {
		received = sold.Mul(execPrice)
	}
	pnl := execPrice.Sub(p.EntryPrice).Mul(sold)

	coverage := sold.Div(size)
	if coverage.GreaterThanOrEqual(decimal.NewFromFloat(closeThreshold)) {
		err = m.repo.ClosePosition(ctx, p.ID, execPrice)
	} else {
		err = m.repo.ReducePosition(ctx, p.ID, sold, execPrice)
	}
	if err != nil {
		log.Error().Err(err).Uint("position", p.ID).Msg("❌ Post-trade position update failed")
	}

	log.Info().Uint("position", p.ID).Str("trigger", string(trigger)).
		Str("sold", sold.String()).Str("price", execPrice.String()).
		Str("pnl", pnl.String()).Msg("🎯 Trigger executed")
	m.notifyTrigger(p, market, trigger, execPrice, sold, received, pnl, res.TxHash)
}

// syncSize re-reads the authoritative position size: exchange data API
// first, then the raw token balance as a lower bound.
func (m *Monitor) syncSize(ctx context.Context, p *types.Position) decimal.Decimal {
	size := p.Size

	if ps, err := m.data.Positions(ctx, p.WalletAddress); err == nil {
		for i := range ps {
			if ps[i].TokenID == p.TokenID {
				size = ps[i].Size
				break
			}
		}
	} else {
		log.Debug().Err(err).Uint("position", p.ID).Msg("Chain sync failed, using stored size")
	}

	if bal, err := m.trader.GetTokenBalance(ctx, p.WalletAddress, p.TokenID); err == nil && bal.LessThan(size) {
		log.Warn().Uint("position", p.ID).Str("size", size.String()).Str("balance", bal.String()).
			Msg("⚠️ Token balance below position size, reducing sell")
		size = bal
	}
	return size
}

func (m *Monitor) notifyTrigger(p *types.Position, market *types.Market, trigger types.TriggerType, execPrice, sold, received, pnl decimal.Decimal, txHash string) {
	pnlPct := decimal.Zero
	if cost := p.EntryPrice.Mul(sold); cost.IsPositive() {
		pnlPct = pnl.Div(cost).Mul(decimal.NewFromInt(100))
	}

	title := "Take profit hit"
	if trigger == types.TriggerStopLoss {
		title = "Stop loss hit"
	}
	body := fmt.Sprintf(
		"%s — %s\nSold %s tokens at %s for $%s\nEntry %s, P&L $%s (%s%%)",
		market.Question, p.Outcome,
		sold.StringFixed(2), execPrice.StringFixed(4), received.StringFixed(2),
		p.EntryPrice.StringFixed(4), pnl.StringFixed(2), pnlPct.StringFixed(1),
	)
	if txHash != "" {
		body += "\nTx: " + txHash
	}
	m.notify.Enqueue(notify.Notification{
		UserID:   p.UserID,
		Priority: notify.PriorityHigh,
		Kind:     notify.KindTPSLTrigger,
		Title:    title,
		Body:     body,
	})
}

func (m *Monitor) notifyFailure(p *types.Position, market *types.Market, trigger types.TriggerType, cause error) {
	log.Error().Err(cause).Uint("position", p.ID).Str("trigger", string(trigger)).
		Msg("🚨 Trigger sell failed")
	m.notify.Enqueue(notify.Notification{
		UserID:   p.UserID,
		Priority: notify.PriorityHigh,
		Kind:     notify.KindTPSLFailed,
		Title:    "Automatic sell failed",
		Body: fmt.Sprintf("%s — %s\nTrigger %s could not execute: %s\nTry selling manually.",
			market.Question, p.Outcome, trigger, types.KindOf(cause)),
	})
}
