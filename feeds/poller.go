package feeds

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/web3guy0/polyflow/metrics"
	"github.com/web3guy0/polyflow/storage"
	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET POLLER - periodic REST ingest
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two alternating cycle kinds governed by a counter:
//   fast discovery   every POLL_MS: first pages by volume and recency, the
//                    events subpoller every eventsEvery cycles, plus an
//                    opportunistic resolution check on expired actives
//   complete backfill every completeEvery fast cycles: exhaustive pagination
//                    with a hard page cap and empty-page termination
//
// Upstream failure backs off exponentially up to backoffCap and never kills
// the task.
// ═══════════════════════════════════════════════════════════════════════════════

const (
	completeEvery  = 60
	eventsEvery    = 5
	fastPages      = 5
	completePages  = 200
	emptyPagesStop = 2
	pageSize       = 100
	topNRefresh    = 100
	expiredBatch   = 50
	backoffCap     = 300 * time.Second
)

// PollerRepo is the persistence view the poller needs beyond the store.
type PollerRepo interface {
	UpsertMarkets(ctx context.Context, ms []*types.Market) ([]storage.UpsertOutcome, error)
	MissingMarketIDs(ctx context.Context, ids []string) ([]string, error)
	ExpiredActiveMarkets(ctx context.Context, limit int) ([]*types.Market, error)
	ListActiveMarkets(ctx context.Context, f storage.MarketFilter) ([]*types.Market, error)
}

// StatusPublisher receives status-transition events.
type StatusPublisher interface {
	PublishStatus(ev types.MarketStatusEvent) int
}

// QuoteEvictor drops the live cell of a market that reached a terminal
// state.
type QuoteEvictor interface {
	DropLiveQuote(conditionID string)
}

// Poller ingests market metadata on a schedule.
type Poller struct {
	gamma    *GammaClient
	repo     PollerRepo
	bus      StatusPublisher
	evictor  QuoteEvictor
	interval time.Duration
	pages    *rate.Limiter // inter-page pacing

	cycle int
}

func NewPoller(gamma *GammaClient, repo PollerRepo, bus StatusPublisher, evictor QuoteEvictor, interval time.Duration) *Poller {
	return &Poller{
		gamma:    gamma,
		repo:     repo,
		bus:      bus,
		evictor:  evictor,
		interval: interval,
		pages:    rate.NewLimiter(rate.Every(350*time.Millisecond), 1),
	}
}

// Run executes poll cycles until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Dur("interval", p.interval).Msg("📡 Market poller started")

	backoff := p.interval
	for {
		err := p.runCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}

		wait := p.interval
		switch {
		case err == nil:
			backoff = p.interval
		case types.Retryable(err):
			metrics.PollerErrors.WithLabelValues(types.KindOf(err).String()).Inc()
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
			wait = backoff
			log.Warn().Err(err).Dur("backoff", wait).Msg("⚠️ Poll cycle failed, backing off")
		default:
			// Parse and validation failures were already skipped item-wise;
			// anything else surfacing here is logged and the schedule holds.
			metrics.PollerErrors.WithLabelValues(types.KindOf(err).String()).Inc()
			log.Error().Err(err).Msg("❌ Poll cycle error")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) error {
	p.cycle++

	if p.cycle%completeEvery == 0 {
		metrics.PollerCycles.WithLabelValues("complete").Inc()
		return p.completeBackfill(ctx)
	}

	metrics.PollerCycles.WithLabelValues("fast").Inc()
	if err := p.fastDiscovery(ctx); err != nil {
		return err
	}
	if p.cycle%eventsEvery == 0 {
		metrics.PollerCycles.WithLabelValues("events").Inc()
		if err := p.eventsSubpoll(ctx); err != nil {
			return err
		}
	}
	return p.checkExpired(ctx)
}

// fastDiscovery walks the first pages of the volume- and recency-ordered
// listings, upserting markets that are new to the store and refreshing the
// top-N active ones.
func (p *Poller) fastDiscovery(ctx context.Context) error {
	open := false
	seen := make(map[string]*types.Market)

	for _, order := range []string{"volume", "startDate"} {
		for page := 0; page < fastPages; page++ {
			if err := p.pages.Wait(ctx); err != nil {
				return nil
			}
			ms, err := p.gamma.ListMarkets(ctx, MarketQuery{
				Limit: pageSize, Offset: page * pageSize,
				Closed: &open, Order: order, Ascending: false,
			})
			if err != nil {
				return err
			}
			for _, m := range ms {
				seen[m.ID] = m
			}
			if len(ms) < pageSize {
				break
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	missing, err := p.repo.MissingMarketIDs(ctx, ids)
	if err != nil {
		return err
	}

	batch := make([]*types.Market, 0, len(missing)+topNRefresh)
	for _, id := range missing {
		batch = append(batch, seen[id])
	}
	// Refresh metadata of the highest-volume markets already known.
	refreshed := 0
	for _, m := range seen {
		if refreshed >= topNRefresh {
			break
		}
		if !contains(missing, m.ID) {
			batch = append(batch, m)
			refreshed++
		}
	}

	return p.upsert(ctx, batch)
}

// eventsSubpoll flattens the events listing so markets carry their event
// grouping.
func (p *Poller) eventsSubpoll(ctx context.Context) error {
	open := false
	for page := 0; page < fastPages; page++ {
		if err := p.pages.Wait(ctx); err != nil {
			return nil
		}
		ms, err := p.gamma.ListEventMarkets(ctx, MarketQuery{
			Limit: pageSize, Offset: page * pageSize,
			Closed: &open, Order: "volume", Ascending: false,
		})
		if err != nil {
			return err
		}
		if err := p.upsert(ctx, ms); err != nil {
			return err
		}
		if len(ms) < pageSize {
			return nil
		}
	}
	return nil
}

// completeBackfill paginates the full listing, bounded by a hard page cap
// and consecutive-empty-page termination, upserting in paced batches.
func (p *Poller) completeBackfill(ctx context.Context) error {
	log.Info().Msg("🔄 Complete backfill cycle")

	empty := 0
	for page := 0; page < completePages; page++ {
		if err := p.pages.Wait(ctx); err != nil {
			return nil
		}
		ms, err := p.gamma.ListMarkets(ctx, MarketQuery{
			Limit: pageSize, Offset: page * pageSize, Order: "volume", Ascending: false,
		})
		if err != nil {
			return err
		}

		if len(ms) == 0 {
			empty++
			if empty >= emptyPagesStop {
				break
			}
			continue
		}
		empty = 0

		if err := p.upsert(ctx, ms); err != nil {
			return err
		}
	}
	return nil
}

// checkExpired re-reads ACTIVE markets whose end date passed; the exchange
// usually flips them to resolved shortly after.
func (p *Poller) checkExpired(ctx context.Context) error {
	expired, err := p.repo.ExpiredActiveMarkets(ctx, expiredBatch)
	if err != nil {
		return err
	}

	var refreshed []*types.Market
	for _, m := range expired {
		if err := p.pages.Wait(ctx); err != nil {
			return nil
		}
		fresh, err := p.gamma.GetMarket(ctx, m.ID)
		if err != nil {
			if types.Retryable(err) {
				return err
			}
			continue
		}
		refreshed = append(refreshed, fresh)
	}
	return p.upsert(ctx, refreshed)
}

// upsert writes a batch through the repository and fans out status events.
func (p *Poller) upsert(ctx context.Context, ms []*types.Market) error {
	if len(ms) == 0 {
		return nil
	}

	outcomes, err := p.repo.UpsertMarkets(ctx, ms)
	if err != nil {
		return err
	}
	metrics.PollerUpserts.Add(float64(len(outcomes)))

	for _, out := range outcomes {
		if !out.StatusChanged && !out.Created {
			continue
		}
		if p.bus != nil {
			p.bus.PublishStatus(types.MarketStatusEvent{
				MarketID:    out.MarketID,
				ConditionID: out.ConditionID,
				Prev:        out.Prev,
				Status:      out.Status,
				Question:    out.Question,
				Timestamp:   time.Now(),
			})
		}
		if out.Status.Terminal() && p.evictor != nil {
			p.evictor.DropLiveQuote(out.ConditionID)
		}
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
