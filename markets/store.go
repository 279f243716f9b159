package markets

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/storage"
	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET STORE - canonical records + volatile live-quote layer
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two independent write paths feed the store:
//   - the poller upserts canonical metadata through the repository
//   - the streamer writes per-market live quotes into the in-memory layer
// Readers go through the price cascade, the single precedent for every price
// consumer in the pipeline.
// ═══════════════════════════════════════════════════════════════════════════════

// wsFreshFor bounds how long a ws-sourced quote counts as authoritative.
const wsFreshFor = 60 * time.Second

// Repo is the persistence view the store needs.
type Repo interface {
	UpsertMarket(ctx context.Context, m *types.Market) (*storage.UpsertOutcome, error)
	UpsertMarkets(ctx context.Context, ms []*types.Market) ([]storage.UpsertOutcome, error)
	GetMarket(ctx context.Context, id string, allowClosed bool) (*types.Market, error)
	GetMarketByCondition(ctx context.Context, conditionID string) (*types.Market, error)
	ListActiveMarkets(ctx context.Context, f storage.MarketFilter) ([]*types.Market, error)
	MarketsByConditionIDs(ctx context.Context, conditionIDs []string) ([]*types.Market, error)
}

// BookFetcher is the external REST fallback, the last rung of the cascade.
type BookFetcher interface {
	BestBook(ctx context.Context, tokenID string) (bid, ask decimal.Decimal, err error)
}

// Store composes the canonical repository with the live-quote layer.
type Store struct {
	repo  Repo
	books BookFetcher // may be nil; rung 4 is then skipped

	mu    sync.RWMutex
	live  map[string]*types.LiveQuote // keyed by condition id
	clock func() time.Time
}

func NewStore(repo Repo, books BookFetcher) *Store {
	return &Store{
		repo:  repo,
		books: books,
		live:  make(map[string]*types.LiveQuote),
		clock: time.Now,
	}
}

// UpsertMarket writes one canonical record through to the repository.
func (s *Store) UpsertMarket(ctx context.Context, m *types.Market) (*storage.UpsertOutcome, error) {
	return s.repo.UpsertMarket(ctx, m)
}

// UpsertMarkets writes a batch through to the repository.
func (s *Store) UpsertMarkets(ctx context.Context, ms []*types.Market) ([]storage.UpsertOutcome, error) {
	return s.repo.UpsertMarkets(ctx, ms)
}

// GetMarket fetches one canonical record.
func (s *Store) GetMarket(ctx context.Context, id string, allowClosed bool) (*types.Market, error) {
	return s.repo.GetMarket(ctx, id, allowClosed)
}

// GetMarketByCondition fetches one canonical record by condition id.
func (s *Store) GetMarketByCondition(ctx context.Context, conditionID string) (*types.Market, error) {
	return s.repo.GetMarketByCondition(ctx, conditionID)
}

// ListActive pages through ACTIVE markets.
func (s *Store) ListActive(ctx context.Context, f storage.MarketFilter) ([]*types.Market, error) {
	return s.repo.ListActiveMarkets(ctx, f)
}

// MarketsByConditionIDs batch-fetches canonical records.
func (s *Store) MarketsByConditionIDs(ctx context.Context, ids []string) ([]*types.Market, error) {
	return s.repo.MarketsByConditionIDs(ctx, ids)
}

// SetLiveQuote replaces the volatile quote cell for a market. Mid is
// recomputed whenever both sides are present.
func (s *Store) SetLiveQuote(q types.LiveQuote) {
	if q.TwoSided() {
		q.Mid = q.BestBid.Add(q.BestAsk).Div(decimal.NewFromInt(2))
	}
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = s.clock()
	}

	s.mu.Lock()
	s.live[q.MarketID] = &q
	s.mu.Unlock()
}

// MergeLiveDelta updates only the sides present in the delta, keeping the
// rest of the cell. Used for incremental ws frames.
func (s *Store) MergeLiveDelta(conditionID, assetID string, bid, ask, lastTrade decimal.Decimal, source types.QuoteSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.live[conditionID]
	if !ok {
		q = &types.LiveQuote{MarketID: conditionID, AssetID: assetID}
		s.live[conditionID] = q
	}
	if assetID != "" {
		q.AssetID = assetID
	}
	if bid.IsPositive() {
		q.BestBid = bid
	}
	if ask.IsPositive() {
		q.BestAsk = ask
	}
	if lastTrade.IsPositive() {
		q.LastTrade = lastTrade
	}
	if q.TwoSided() {
		q.Mid = q.BestBid.Add(q.BestAsk).Div(decimal.NewFromInt(2))
	}
	q.Source = source
	q.UpdatedAt = s.clock()
}

// LiveQuote returns a copy of the volatile cell for a condition id.
func (s *Store) LiveQuote(conditionID string) (types.LiveQuote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.live[conditionID]
	if !ok {
		return types.LiveQuote{}, false
	}
	return *q, true
}

// DropLiveQuote evicts the volatile cell, e.g. when a market resolves.
func (s *Store) DropLiveQuote(conditionID string) {
	s.mu.Lock()
	delete(s.live, conditionID)
	s.mu.Unlock()
}

// LiveCount reports the number of populated cells, for health output.
func (s *Store) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}

// GetLivePrice resolves the current price of one outcome through the
// cascade:
//  1. ws quote fresh within 60 s, matched to the outcome's token;
//  2. poll-sourced quote;
//  3. canonical outcome_prices;
//  4. external REST order book, only when ws is not known-authoritative.
//
// A quote that belongs to the sibling token of a binary market prices the
// requested outcome as 1 − quoted.
func (s *Store) GetLivePrice(ctx context.Context, marketID string, outcomeIdx int) (decimal.Decimal, types.QuoteSource, error) {
	m, err := s.repo.GetMarket(ctx, marketID, true)
	if err != nil {
		return decimal.Zero, "", err
	}
	return s.PriceFor(ctx, m, outcomeIdx)
}

// PriceFor runs the cascade against an already-loaded market record.
func (s *Store) PriceFor(ctx context.Context, m *types.Market, outcomeIdx int) (decimal.Decimal, types.QuoteSource, error) {
	if _, ok := m.TokenID(outcomeIdx); !ok && len(m.ClobTokenIDs) > 0 {
		return decimal.Zero, "", types.Kindf(types.KindValidation,
			"market %s has no outcome index %d", m.ID, outcomeIdx)
	}

	q, haveQuote := s.LiveQuote(m.ConditionID)
	wsAuthoritative := false

	if haveQuote {
		price, ok := s.quotePrice(&q, m, outcomeIdx)
		switch {
		case ok && q.Source == types.SourceWS && s.clock().Sub(q.UpdatedAt) <= wsFreshFor:
			return price, types.SourceWS, nil
		case q.Source == types.SourceWS && s.clock().Sub(q.UpdatedAt) <= wsFreshFor:
			// Fresh ws session but the quote doesn't map onto this outcome;
			// ws stays authoritative so the REST fallback is skipped.
			wsAuthoritative = true
		case ok && q.Source == types.SourcePoll:
			return price, types.SourcePoll, nil
		}
	}

	if p, ok := m.OutcomePrice(outcomeIdx); ok && p.IsPositive() {
		return p, types.SourcePoll, nil
	}

	if s.books == nil || wsAuthoritative {
		return decimal.Zero, "", types.Kindf(types.KindNotFound,
			"no price for market %s outcome %d", m.ID, outcomeIdx)
	}

	tokenID, ok := m.TokenID(outcomeIdx)
	if !ok {
		return decimal.Zero, "", types.Kindf(types.KindNotFound,
			"market %s has no token for outcome %d", m.ID, outcomeIdx)
	}
	bid, ask, err := s.books.BestBook(ctx, tokenID)
	if err != nil {
		return decimal.Zero, "", err
	}
	if bid.IsPositive() && ask.IsPositive() {
		return bid.Add(ask).Div(decimal.NewFromInt(2)), types.SourcePoll, nil
	}
	if bid.IsPositive() {
		return bid, types.SourcePoll, nil
	}
	if ask.IsPositive() {
		return ask, types.SourcePoll, nil
	}

	log.Debug().Str("market", m.ID).Int("outcome", outcomeIdx).Msg("Empty book from REST fallback")
	return decimal.Zero, "", types.Kindf(types.KindNotFound,
		"empty book for market %s outcome %d", m.ID, outcomeIdx)
}

// quotePrice maps a live quote onto the requested outcome index. The quote
// quotes one token; the sibling outcome of a binary market prices as the
// complement.
func (s *Store) quotePrice(q *types.LiveQuote, m *types.Market, outcomeIdx int) (decimal.Decimal, bool) {
	price := q.Mid
	if !price.IsPositive() {
		price = q.LastTrade
	}
	if !price.IsPositive() {
		price = q.BestBid
	}
	if !price.IsPositive() {
		return decimal.Zero, false
	}

	quotedIdx := m.AssetIndex(q.AssetID)
	switch {
	case quotedIdx == outcomeIdx:
		return price, true
	case quotedIdx >= 0 && len(m.Outcomes) == 2:
		return decimal.NewFromInt(1).Sub(price), true
	case quotedIdx < 0 && q.AssetID == "":
		// Quote not attributed to a token; trust it for the market as-is.
		return price, true
	}
	return decimal.Zero, false
}

// BestBid returns the live best bid for an outcome, the standardized SELL
// quote source.
func (s *Store) BestBid(m *types.Market, outcomeIdx int) (decimal.Decimal, bool) {
	q, ok := s.LiveQuote(m.ConditionID)
	if !ok || !q.BestBid.IsPositive() {
		return decimal.Zero, false
	}
	quotedIdx := m.AssetIndex(q.AssetID)
	if quotedIdx == outcomeIdx || (quotedIdx < 0 && q.AssetID == "") {
		return q.BestBid, true
	}
	if quotedIdx >= 0 && len(m.Outcomes) == 2 && q.BestAsk.IsPositive() {
		// Sibling token: selling this outcome crosses the other book's ask.
		return decimal.NewFromInt(1).Sub(q.BestAsk), true
	}
	return decimal.Zero, false
}
