package copytrade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/exchange"
	"github.com/web3guy0/polyflow/metrics"
	"github.com/web3guy0/polyflow/notify"
	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COPY-TRADING ENGINE - leader fill mirroring
// ═══════════════════════════════════════════════════════════════════════════════
//
// One leader fill fans out to every active follower allocation. All work for
// a single follower runs under that follower's mutex, so budget accounting
// never interleaves. Fan-out across followers is sequential; the volume is
// human-scale.
// ═══════════════════════════════════════════════════════════════════════════════

// budgetMaxAge bounds how old the wallet balance behind an allocation may be
// before sizing re-reads it.
const budgetMaxAge = time.Hour

// EngineRepo is the persistence view of the copy engine.
type EngineRepo interface {
	ActiveAllocationsForLeader(ctx context.Context, leaderAddress string) ([]*types.CopyAllocation, error)
	ActiveAllocationForFollower(ctx context.Context, followerID int64) (*types.CopyAllocation, error)
	SaveAllocation(ctx context.Context, a *types.CopyAllocation) error
	DeactivateAllocations(ctx context.Context, followerID int64) error
	ApplyCopyResult(ctx context.Context, allocationID uint, invested, pnl, budgetDelta decimal.Decimal) error

	GetMarket(ctx context.Context, id string, allowClosed bool) (*types.Market, error)
	LeaderTradeByTx(ctx context.Context, txID string) (*types.LeaderTrade, error)
	LeaderPositionBefore(ctx context.Context, wallet, marketID string, outcomeIdx int, ts time.Time) (decimal.Decimal, error)

	SavePosition(ctx context.Context, p *types.Position) error
	ActivePositionByToken(ctx context.Context, userID int64, tokenID string) (*types.Position, error)
	ClosePosition(ctx context.Context, id uint, exitPrice decimal.Decimal) error
	ReducePosition(ctx context.Context, id uint, soldTokens, currentPrice decimal.Decimal) error
}

// Exchange is the trading surface the engine needs.
type Exchange interface {
	PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error)
	GetUSDCBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// Notifier accepts follower-facing messages.
type Notifier interface {
	Enqueue(n notify.Notification) bool
}

// Limits are the engine's sizing bounds from configuration.
type Limits struct {
	MinCopyUSD decimal.Decimal
	MinPercent decimal.Decimal
	MaxPercent decimal.Decimal
}

// Engine mirrors leader fills into follower accounts.
type Engine struct {
	repo     EngineRepo
	exch     Exchange
	resolver *Resolver
	notify   Notifier
	limits   Limits

	mu        sync.Mutex
	followers map[int64]*sync.Mutex
}

func NewEngine(repo EngineRepo, exch Exchange, resolver *Resolver, notifier Notifier, limits Limits) *Engine {
	return &Engine{
		repo:      repo,
		exch:      exch,
		resolver:  resolver,
		notify:    notifier,
		limits:    limits,
		followers: make(map[int64]*sync.Mutex),
	}
}

// followerLock returns the mutex serializing one follower's copy path.
func (e *Engine) followerLock(followerID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.followers[followerID]
	if !ok {
		m = &sync.Mutex{}
		e.followers[followerID] = m
	}
	return m
}

// SubscribeToLeader activates a follower's allocation, replacing any previous
// one so at most one stays active. The budget is staked immediately from the
// follower's live USDC balance.
func (e *Engine) SubscribeToLeader(ctx context.Context, follower *types.User, leaderAddress string, mode types.AllocationMode, percentage, fixedUSD decimal.Decimal) (*types.CopyAllocation, error) {
	if percentage.LessThan(e.limits.MinPercent) || percentage.GreaterThan(e.limits.MaxPercent) {
		return nil, types.Kindf(types.KindValidation, "allocation percentage %s outside [%s, %s]",
			percentage, e.limits.MinPercent, e.limits.MaxPercent)
	}
	if mode == types.ModeFixed && !fixedUSD.IsPositive() {
		return nil, types.Kindf(types.KindValidation, "fixed mode requires a positive amount")
	}

	leader, err := e.resolver.Resolve(ctx, leaderAddress)
	if err != nil {
		return nil, err
	}

	balance, err := e.exch.GetUSDCBalance(ctx, follower.WalletAddress)
	if err != nil {
		return nil, err
	}
	budget := balance.Mul(percentage).Div(hundred)

	lock := e.followerLock(follower.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.repo.DeactivateAllocations(ctx, follower.ID); err != nil {
		return nil, err
	}
	a := &types.CopyAllocation{
		FollowerID:         follower.ID,
		FollowerAddress:    types.NormalizeWallet(follower.WalletAddress),
		LeaderAddress:      leader.Address,
		Mode:               mode,
		Percentage:         percentage,
		FixedAmountUSD:     fixedUSD,
		SellMode:           types.ModeProportional,
		IsActive:           true,
		TotalWalletBalance: balance,
		AllocatedBudget:    budget,
		BudgetRemaining:    budget,
		LastWalletSync:     time.Now(),
	}
	if err := e.repo.SaveAllocation(ctx, a); err != nil {
		return nil, err
	}

	log.Info().Int64("follower", follower.ID).Str("leader", types.ShortWallet(leader.Address)).
		Str("mode", string(mode)).Str("budget", budget.String()).
		Msg("📋 Follower subscribed to leader")
	return a, nil
}

// HandleMessage mirrors one normalized copy-trade message. The raw fill is
// preferred when present; a webhook racing ahead of the indexer falls back
// to the fields on the message itself.
func (e *Engine) HandleMessage(ctx context.Context, msg *types.CopyTradeMessage) error {
	tr, err := e.repo.LeaderTradeByTx(ctx, msg.TxID)
	switch {
	case err == nil:
	case types.IsKind(err, types.KindNotFound):
		tr = leaderTradeFromMessage(msg)
	default:
		return err
	}
	return e.Mirror(ctx, tr)
}

func leaderTradeFromMessage(msg *types.CopyTradeMessage) *types.LeaderTrade {
	tr := &types.LeaderTrade{
		TxID:          msg.TxID,
		WalletAddress: types.NormalizeWallet(msg.UserAddress),
		MarketID:      msg.MarketID,
		OutcomeIndex:  msg.Outcome,
		Side:          msg.TxType,
		AmountUSD:     msg.Amount,
		TxHash:        msg.TxHash,
	}
	if t, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
		tr.Timestamp = t
	} else {
		tr.Timestamp = time.Now()
	}
	if msg.Price != nil && msg.Price.IsPositive() {
		tr.Price = *msg.Price
		tr.Size = msg.Amount.Div(*msg.Price)
	}
	return tr
}

// Mirror fans one leader fill out to every active follower.
func (e *Engine) Mirror(ctx context.Context, tr *types.LeaderTrade) error {
	metrics.CopyAttempts.Inc()

	allocations, err := e.repo.ActiveAllocationsForLeader(ctx, tr.WalletAddress)
	if err != nil {
		return err
	}
	if len(allocations) == 0 {
		return nil
	}

	market, err := e.repo.GetMarket(ctx, tr.MarketID, true)
	if err != nil {
		return err
	}
	tokenID, ok := market.TokenID(tr.OutcomeIndex)
	if !ok {
		return types.Kindf(types.KindValidation, "market %s has no token for outcome %d", tr.MarketID, tr.OutcomeIndex)
	}

	for _, a := range allocations {
		if err := e.mirrorOne(ctx, a, tr, market, tokenID); err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Error().Err(err).Int64("follower", a.FollowerID).Str("tx", tr.TxID).
				Msg("❌ Copy mirror failed")
		}
	}
	return nil
}

func (e *Engine) mirrorOne(ctx context.Context, a *types.CopyAllocation, tr *types.LeaderTrade, market *types.Market, tokenID string) error {
	lock := e.followerLock(a.FollowerID)
	lock.Lock()
	defer lock.Unlock()

	if a.BudgetStale(budgetMaxAge) {
		if err := e.refreshBudget(ctx, a); err != nil {
			log.Warn().Err(err).Int64("follower", a.FollowerID).
				Msg("⚠️ Budget refresh failed, sizing against stale balance")
		}
	}

	switch tr.Side {
	case types.SideBuy:
		return e.mirrorBuy(ctx, a, tr, market, tokenID)
	case types.SideSell:
		return e.mirrorSell(ctx, a, tr, market, tokenID)
	default:
		return types.Kindf(types.KindValidation, "leader trade %s has invalid side %q", tr.TxID, tr.Side)
	}
}

// refreshBudget re-reads the follower's USDC balance and restakes the
// allocation. Remaining budget keeps its spent portion: it only shrinks when
// the new stake is smaller.
func (e *Engine) refreshBudget(ctx context.Context, a *types.CopyAllocation) error {
	balance, err := e.exch.GetUSDCBalance(ctx, a.FollowerAddress)
	if err != nil {
		return err
	}
	budget := balance.Mul(a.Percentage).Div(hundred)
	a.TotalWalletBalance = balance
	a.AllocatedBudget = budget
	if a.BudgetRemaining.GreaterThan(budget) {
		a.BudgetRemaining = budget
	}
	a.LastWalletSync = time.Now()
	return e.repo.SaveAllocation(ctx, a)
}

func (e *Engine) mirrorBuy(ctx context.Context, a *types.CopyAllocation, tr *types.LeaderTrade, market *types.Market, tokenID string) error {
	amount, reason := SizeBuy(a, tr.AmountUSD, tr.WalletBalance, e.limits.MinCopyUSD)
	if reason != "" {
		e.skip(a, tr, market, reason)
		return nil
	}

	res, err := e.exch.PlaceMarketOrder(ctx, exchange.OrderRequest{
		TokenID:      tokenID,
		Side:         types.SideBuy,
		Amount:       amount,
		OrderType:    types.OrderFOK,
		MarketID:     market.ID,
		OutcomeLabel: market.OutcomeLabel(tr.OutcomeIndex),
	})
	if err != nil {
		e.executionFailed(a, tr, market, err)
		return err
	}

	invested := res.USDSpent
	if !invested.IsPositive() {
		invested = amount
	}
	execPrice, ok := res.ExecutionPrice()
	if !ok {
		execPrice = tr.Price
	}

	if err := e.repo.ApplyCopyResult(ctx, a.ID, invested, decimal.Zero, invested.Neg()); err != nil {
		return err
	}
	a.BudgetRemaining = a.BudgetRemaining.Sub(invested)

	if err := e.recordBuyPosition(ctx, a, tr, market, tokenID, res.Tokens, execPrice, invested); err != nil {
		return err
	}

	metrics.CopyExecutions.Inc()
	log.Info().Int64("follower", a.FollowerID).Str("market", market.ID).
		Str("amount", invested.String()).Str("price", execPrice.String()).
		Msg("📋 Leader BUY mirrored")
	e.notify.Enqueue(notify.Notification{
		UserID:   a.FollowerID,
		Priority: notify.PriorityNormal,
		Kind:     notify.KindCopyExecuted,
		Title:    "Copy trade executed",
		Body: fmt.Sprintf("Bought %s of %s for $%s at %s (leader %s)",
			market.OutcomeLabel(tr.OutcomeIndex), market.Question,
			invested.StringFixed(2), execPrice.StringFixed(4),
			types.ShortWallet(tr.WalletAddress)),
	})
	return nil
}

func (e *Engine) recordBuyPosition(ctx context.Context, a *types.CopyAllocation, tr *types.LeaderTrade, market *types.Market, tokenID string, tokens, price, invested decimal.Decimal) error {
	if !tokens.IsPositive() {
		if price.IsPositive() {
			tokens = invested.Div(price)
		} else {
			return nil
		}
	}

	p, err := e.repo.ActivePositionByToken(ctx, a.FollowerID, tokenID)
	switch {
	case err == nil:
		// Average in the new lot.
		total := p.Size.Add(tokens)
		p.AvgPrice = p.AvgPrice.Mul(p.Size).Add(price.Mul(tokens)).Div(total)
		p.Size = total
		p.CurrentPrice = price
		return e.repo.SavePosition(ctx, p)
	case types.IsKind(err, types.KindNotFound):
		return e.repo.SavePosition(ctx, &types.Position{
			UserID:        a.FollowerID,
			WalletAddress: a.FollowerAddress,
			MarketID:      market.ID,
			ConditionID:   market.ConditionID,
			TokenID:       tokenID,
			OutcomeIndex:  tr.OutcomeIndex,
			Outcome:       market.OutcomeLabel(tr.OutcomeIndex),
			Size:          tokens,
			AvgPrice:      price,
			EntryPrice:    price,
			CurrentPrice:  price,
			Status:        types.PositionActive,
		})
	default:
		return err
	}
}

func (e *Engine) mirrorSell(ctx context.Context, a *types.CopyAllocation, tr *types.LeaderTrade, market *types.Market, tokenID string) error {
	pos, err := e.repo.ActivePositionByToken(ctx, a.FollowerID, tokenID)
	switch {
	case types.IsKind(err, types.KindNotFound):
		e.skip(a, tr, market, types.SkipNoPosition)
		return nil
	case err != nil:
		return err
	}

	leaderBefore, err := e.repo.LeaderPositionBefore(ctx, tr.WalletAddress, tr.MarketID, tr.OutcomeIndex, tr.Timestamp)
	if err != nil {
		log.Warn().Err(err).Str("tx", tr.TxID).Msg("⚠️ Leader position lookup failed, selling full follower position")
		leaderBefore = decimal.Zero
	}

	size, reason := SizeSell(pos.Size, tr.Size, leaderBefore)
	if reason != "" {
		e.skip(a, tr, market, reason)
		return nil
	}

	res, err := e.exch.PlaceMarketOrder(ctx, exchange.OrderRequest{
		TokenID:      tokenID,
		Side:         types.SideSell,
		Amount:       size,
		OrderType:    types.OrderFAK,
		MarketID:     market.ID,
		OutcomeLabel: market.OutcomeLabel(tr.OutcomeIndex),
	})
	if err != nil {
		e.executionFailed(a, tr, market, err)
		return err
	}

	sold := res.Tokens
	if !sold.IsPositive() {
		sold = size
	}
	execPrice, ok := res.ExecutionPrice()
	if !ok {
		execPrice = tr.Price
	}
	proceeds := res.USDReceived
	if !proceeds.IsPositive() {
		proceeds = sold.Mul(execPrice)
	}
	pnl := execPrice.Sub(pos.EntryPrice).Mul(sold)

	// Proceeds flow back into the budget, capped at the original stake.
	budgetDelta := proceeds
	if headroom := a.AllocatedBudget.Sub(a.BudgetRemaining); budgetDelta.GreaterThan(headroom) {
		budgetDelta = headroom
	}
	if err := e.repo.ApplyCopyResult(ctx, a.ID, decimal.Zero, pnl, budgetDelta); err != nil {
		return err
	}
	a.BudgetRemaining = a.BudgetRemaining.Add(budgetDelta)

	remaining := pos.Size.Sub(sold)
	if remaining.LessThan(types.DustSize) {
		if err := e.repo.ClosePosition(ctx, pos.ID, execPrice); err != nil {
			return err
		}
	} else {
		if err := e.repo.ReducePosition(ctx, pos.ID, sold, execPrice); err != nil {
			return err
		}
	}

	metrics.CopyExecutions.Inc()
	log.Info().Int64("follower", a.FollowerID).Str("market", market.ID).
		Str("sold", sold.String()).Str("pnl", pnl.String()).
		Msg("📋 Leader SELL mirrored")
	e.notify.Enqueue(notify.Notification{
		UserID:   a.FollowerID,
		Priority: notify.PriorityNormal,
		Kind:     notify.KindCopyExecuted,
		Title:    "Copy trade executed",
		Body: fmt.Sprintf("Sold %s %s of %s at %s, P&L $%s (leader %s)",
			sold.StringFixed(2), market.OutcomeLabel(tr.OutcomeIndex), market.Question,
			execPrice.StringFixed(4), pnl.StringFixed(2),
			types.ShortWallet(tr.WalletAddress)),
	})
	return nil
}

func (e *Engine) skip(a *types.CopyAllocation, tr *types.LeaderTrade, market *types.Market, reason types.SkipReason) {
	metrics.CopySkips.WithLabelValues(string(reason)).Inc()
	log.Debug().Int64("follower", a.FollowerID).Str("tx", tr.TxID).
		Str("reason", string(reason)).Msg("Copy trade skipped")
	e.notify.Enqueue(notify.Notification{
		UserID:   a.FollowerID,
		Priority: notify.PriorityLow,
		Kind:     notify.KindCopySkipped,
		Title:    "Copy trade skipped",
		Body: fmt.Sprintf("%s %s on %s ignored: %s",
			tr.Side, tr.AmountUSD.StringFixed(2), market.Question, reason),
	})
}

func (e *Engine) executionFailed(a *types.CopyAllocation, tr *types.LeaderTrade, market *types.Market, err error) {
	log.Error().Err(err).Int64("follower", a.FollowerID).Str("tx", tr.TxID).
		Msg("🚨 Copy order rejected")
	e.notify.Enqueue(notify.Notification{
		UserID:   a.FollowerID,
		Priority: notify.PriorityNormal,
		Kind:     notify.KindSystemAlert,
		Title:    "Copy trade failed",
		Body: fmt.Sprintf("Could not mirror %s on %s: %s",
			tr.Side, market.Question, err),
	})
}
