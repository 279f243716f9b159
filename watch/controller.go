package watch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/polyflow/metrics"
	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WATCHED-MARKETS CONTROLLER - subscription-set reconciliation
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every cycle the controller recomputes which markets need live quotes (any
// tracked user holds a non-dust position there, market not terminal), diffs
// that against the watched table, and signals the streamer on mutation. A
// cycle that loses ≥ 20% of its per-wallet fetches skips deletions so a
// flaky data API cannot trigger mass-unsubscribe oscillation.
// ═══════════════════════════════════════════════════════════════════════════════

const (
	fetchConcurrency  = 8
	failureSkipRatio  = 0.20
	smartActivityBack = 30 * 24 * time.Hour
	sweepEvery        = time.Hour
	sweepRecentUsers  = 50
)

// PositionsAPI fetches a wallet's open positions from the exchange data API.
type PositionsAPI interface {
	Positions(ctx context.Context, wallet string) ([]types.ExchangePosition, error)
}

// ControllerRepo is the persistence view of the reconciliation loop.
type ControllerRepo interface {
	ListUserWallets(ctx context.Context) ([]types.User, error)
	RecentUsers(ctx context.Context, n int) ([]types.User, error)
	UpsertWatched(ctx context.Context, w *types.WatchedMarket) error
	ListWatched(ctx context.Context) ([]*types.WatchedMarket, error)
	DeleteWatched(ctx context.Context, marketIDs []string) (int64, error)
	MarketsByConditionIDs(ctx context.Context, conditionIDs []string) ([]*types.Market, error)
	DistinctSmartMarketIDs(ctx context.Context, since time.Time) ([]string, error)
}

// Controller reconciles the watched-markets control set.
type Controller struct {
	repo     ControllerRepo
	data     PositionsAPI
	cache    *PositionCache
	signal   *RefreshSignal
	detector *Detector // optional

	interval      time.Duration
	smartActivity bool

	lastSweep time.Time
}

func NewController(repo ControllerRepo, data PositionsAPI, cache *PositionCache, signal *RefreshSignal, detector *Detector, interval time.Duration, smartActivity bool) *Controller {
	return &Controller{
		repo:          repo,
		data:          data,
		cache:         cache,
		signal:        signal,
		detector:      detector,
		interval:      interval,
		smartActivity: smartActivity,
	}
}

// Run reconciles on the configured interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().Dur("interval", c.interval).Bool("smart_activity", c.smartActivity).
		Msg("👁️ Watched-markets controller started")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		started := time.Now()
		if err := c.Reconcile(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("❌ Reconciliation cycle failed")
		}
		metrics.WatchCycleSeconds.Observe(time.Since(started).Seconds())

		if time.Since(c.lastSweep) >= sweepEvery {
			c.lastSweep = time.Now()
			if err := c.inactiveSweep(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("⚠️ Inactive-market sweep failed")
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// required is the computed target set: condition id → owner wallets.
type required map[string]map[string]struct{}

func (r required) add(conditionID, wallet string) {
	owners, ok := r[conditionID]
	if !ok {
		owners = make(map[string]struct{})
		r[conditionID] = owners
	}
	owners[wallet] = struct{}{}
}

// Reconcile runs one full reconciliation cycle.
func (c *Controller) Reconcile(ctx context.Context) error {
	users, err := c.repo.ListUserWallets(ctx)
	if err != nil {
		return err
	}

	req, failures := c.collectPositions(ctx, users)
	if len(users) > 0 {
		ratio := float64(failures) / float64(len(users))
		if ratio >= failureSkipRatio {
			log.Warn().Int("failures", failures).Int("wallets", len(users)).
				Msg("⚠️ Too many fetch failures, skipping deletions this cycle")
			return c.apply(ctx, req, false)
		}
	}

	if c.smartActivity {
		c.augmentSmartActivity(ctx, req)
	}
	return c.apply(ctx, req, true)
}

// collectPositions batch-fetches positions for every wallet, cache-first and
// parallel across the uncached ones.
func (c *Controller) collectPositions(ctx context.Context, users []types.User) (required, int) {
	req := make(required)
	var (
		mu       sync.Mutex
		failures int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for _, u := range users {
		u := u
		wallet := types.NormalizeWallet(u.WalletAddress)

		if ps, ok := c.cache.Get(wallet); ok {
			c.fold(ctx, req, &mu, u, wallet, ps)
			continue
		}

		g.Go(func() error {
			ps, err := c.data.Positions(gctx, wallet)
			if err != nil {
				metrics.WatchFetchFailures.Inc()
				mu.Lock()
				failures++
				mu.Unlock()
				log.Debug().Err(err).Str("wallet", types.ShortWallet(wallet)).Msg("Position fetch failed")
				return nil // partial failure reduces the set, never aborts the cycle
			}
			c.cache.Put(wallet, ps)
			c.fold(gctx, req, &mu, u, wallet, ps)
			return nil
		})
	}
	g.Wait()
	return req, failures
}

// fold merges one wallet's snapshot into the required set. Redeemable
// winners are routed to the redemption workflow and do not keep a market
// watched.
func (c *Controller) fold(ctx context.Context, req required, mu *sync.Mutex, u types.User, wallet string, ps []types.ExchangePosition) {
	active := ps
	if c.detector != nil {
		active = c.detector.SplitActive(ctx, u.ID, wallet, ps)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, p := range active {
		if p.Dust() || p.ConditionID == "" {
			continue
		}
		req.add(p.ConditionID, wallet)
	}
}

// augmentSmartActivity adds markets with recent smart-wallet fills, keeping
// their quotes live for the shareable feed even without user positions.
func (c *Controller) augmentSmartActivity(ctx context.Context, req required) {
	ids, err := c.repo.DistinctSmartMarketIDs(ctx, time.Now().Add(-smartActivityBack))
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Smart-activity augmentation failed")
		return
	}
	for _, marketID := range ids {
		cid, err := types.ConditionIDFor(marketID)
		if err != nil {
			continue
		}
		if _, ok := req[cid]; !ok {
			req[cid] = make(map[string]struct{})
		}
	}
}

// apply upserts the required set, deletes stale and terminal rows, and
// raises the refresh signal on any mutation.
func (c *Controller) apply(ctx context.Context, req required, allowDeletes bool) error {
	conditionIDs := make([]string, 0, len(req))
	for cid := range req {
		conditionIDs = append(conditionIDs, cid)
	}

	markets, err := c.repo.MarketsByConditionIDs(ctx, conditionIDs)
	if err != nil {
		return err
	}
	byCondition := make(map[string]*types.Market, len(markets))
	terminal := make(map[string]bool)
	for _, m := range markets {
		byCondition[m.ConditionID] = m
		if m.Status.Terminal() {
			terminal[m.ConditionID] = true
		}
	}

	current, err := c.repo.ListWatched(ctx)
	if err != nil {
		return err
	}
	currentByCondition := make(map[string]*types.WatchedMarket, len(current))
	for _, w := range current {
		currentByCondition[w.ConditionID] = w
	}

	// A mutation is a membership or owner-count change; refreshing
	// last_position_at alone does not re-signal the streamer.
	mutated := false

	now := time.Now()
	for cid, owners := range req {
		if terminal[cid] {
			continue
		}
		marketID := cid
		if m, ok := byCondition[cid]; ok {
			marketID = m.ID
		}
		if err := c.repo.UpsertWatched(ctx, &types.WatchedMarket{
			MarketID:        marketID,
			ConditionID:     cid,
			ActivePositions: len(owners),
			LastPositionAt:  now,
		}); err != nil {
			return err
		}
		prev, had := currentByCondition[cid]
		if !had || prev.ActivePositions != len(owners) {
			mutated = true
		}
	}
	metrics.WatchedMarkets.Set(float64(len(req)))

	if allowDeletes {
		var stale []string
		for _, w := range current {
			if _, want := req[w.ConditionID]; !want {
				stale = append(stale, w.MarketID)
				continue
			}
			// Wanted but terminal: the market resolved while positions were
			// still open; evict anyway.
			if terminal[w.ConditionID] {
				stale = append(stale, w.MarketID)
			}
		}
		if len(stale) > 0 {
			n, err := c.repo.DeleteWatched(ctx, stale)
			if err != nil {
				return err
			}
			if n > 0 {
				mutated = true
				log.Info().Int64("deleted", n).Msg("🧹 Watched markets evicted")
			}
		}
	}

	// Snapshots fetched this cycle stay cached; eviction is the TTL's and
	// the webhook path's job.
	if mutated {
		c.signal.Raise()
	}
	return nil
}

// inactiveSweep re-derives the required set for the most recent users only
// and deletes watched rows none of them justify. Runs hourly inside the
// main loop.
func (c *Controller) inactiveSweep(ctx context.Context) error {
	users, err := c.repo.RecentUsers(ctx, sweepRecentUsers)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}

	req := make(required)
	var mu sync.Mutex
	failures := 0
	for _, u := range users {
		wallet := types.NormalizeWallet(u.WalletAddress)
		ps, err := c.data.Positions(ctx, wallet)
		if err != nil {
			failures++
			continue
		}
		c.cache.Put(wallet, ps)
		c.fold(ctx, req, &mu, u, wallet, ps)
	}
	if float64(failures)/float64(len(users)) >= failureSkipRatio {
		return nil
	}

	current, err := c.repo.ListWatched(ctx)
	if err != nil {
		return err
	}
	var stale []string
	for _, w := range current {
		if _, want := req[w.ConditionID]; !want {
			stale = append(stale, w.MarketID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	n, err := c.repo.DeleteWatched(ctx, stale)
	if err != nil {
		return err
	}
	if n > 0 {
		c.signal.Raise()
		log.Info().Int64("deleted", n).Msg("🧹 Inactive-market sweep evicted rows")
	}
	return nil
}
