package feeds

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/core"
	"github.com/web3guy0/polyflow/metrics"
	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WEBSOCKET STREAMER
// ═══════════════════════════════════════════════════════════════════════════════
//
// One live session to the exchange CLOB feed:
//   Disconnected → Connecting → Subscribing → Streaming → Disconnected
//
// The watched-markets controller drives the subscription set through the
// refresh signal; the streamer diffs desired vs subscribed and issues
// subscribe frames for additions. Removals lapse at the next reconnect.
// ═══════════════════════════════════════════════════════════════════════════════

const (
	pingEvery       = 30 * time.Second
	pongWait        = 10 * time.Second
	subscribePacing = 25 * time.Millisecond
	refreshPoll     = 2 * time.Second
	maxConnectFails = 5
)

// WatchSource supplies the desired subscription set and the refresh signal.
type WatchSource interface {
	Desired(ctx context.Context) ([]string, error) // condition ids
	Consume() bool                                 // true once per raised signal
}

// QuoteSink receives parsed quote updates (the market store's live layer).
type QuoteSink interface {
	SetLiveQuote(q types.LiveQuote)
	MergeLiveDelta(conditionID, assetID string, bid, ask, lastTrade decimal.Decimal, source types.QuoteSource)
}

// QuotePublisher fans quote events onto the in-process bus.
type QuotePublisher interface {
	PublishQuote(ev types.QuoteEvent) int
}

// StreamerConfig bounds the session.
type StreamerConfig struct {
	URL              string
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	MaxSubscriptions int
}

// Streamer maintains the exchange WebSocket session.
type Streamer struct {
	cfg     StreamerConfig
	source  WatchSource
	sink    QuoteSink
	bus     QuotePublisher
	breaker *core.Breaker

	// subscribed is written by the side goroutine's refresh path and reset
	// by Run between sessions; the mutex covers that overlap.
	mu         sync.Mutex
	subscribed map[string]struct{}
}

func NewStreamer(cfg StreamerConfig, source WatchSource, sink QuoteSink, bus QuotePublisher) *Streamer {
	return &Streamer{
		cfg:        cfg,
		source:     source,
		sink:       sink,
		bus:        bus,
		breaker:    core.NewBreaker("ws_connect", maxConnectFails, 0),
		subscribed: make(map[string]struct{}),
	}
}

// Run drives the session state machine until ctx is cancelled. Repeated
// connect failures surface as Fatal for a supervisor restart.
func (s *Streamer) Run(ctx context.Context) error {
	backoff := s.cfg.BackoffMin
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := s.connect(ctx)
		if err != nil {
			metrics.WSReconnects.Inc()
			if s.breaker.Failure() {
				return types.E(types.KindFatal, "ws.connect", err)
			}

			wait := withJitter(backoff)
			log.Warn().Err(err).Dur("backoff", wait).Msg("⚠️ WS connect failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			backoff *= 2
			if backoff > s.cfg.BackoffMax {
				backoff = s.cfg.BackoffMax
			}
			continue
		}

		s.breaker.Success()
		backoff = s.cfg.BackoffMin

		if err := s.subscribeAll(ctx, conn); err != nil {
			conn.Close()
			continue
		}

		s.stream(ctx, conn)
		conn.Close()
		// Session gone; the exchange forgot our subscriptions with it.
		s.resetSubscribed()
	}
}

func (s *Streamer) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	log.Info().Str("url", s.cfg.URL).Msg("🔌 WS connected")
	return conn, nil
}

// subscribeAll sends one subscribe frame per desired market with small
// pacing between sends.
func (s *Streamer) subscribeAll(ctx context.Context, conn *websocket.Conn) error {
	desired, err := s.source.Desired(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Could not read watched set, subscribing to nothing")
		desired = nil
	}
	s.source.Consume() // the full set was just applied

	for _, market := range desired {
		if s.subCount() >= s.cfg.MaxSubscriptions {
			log.Warn().Int("cap", s.cfg.MaxSubscriptions).Msg("⚠️ Subscription cap reached")
			break
		}
		if err := s.subscribe(conn, market); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(subscribePacing):
		}
	}

	log.Info().Int("markets", s.subCount()).Msg("✅ WS subscriptions established")
	return nil
}

func (s *Streamer) subscribe(conn *websocket.Conn, market string) error {
	if s.isSubscribed(market) {
		return nil
	}
	frame := map[string]any{
		"type":       "subscribe",
		"market":     market,
		"assets_ids": []string{},
		"channel":    "market",
	}
	if err := conn.WriteJSON(frame); err != nil {
		return err
	}
	s.mu.Lock()
	s.subscribed[market] = struct{}{}
	n := len(s.subscribed)
	s.mu.Unlock()
	metrics.WSSubscriptions.Set(float64(n))
	return nil
}

func (s *Streamer) isSubscribed(market string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscribed[market]
	return ok
}

func (s *Streamer) subCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribed)
}

func (s *Streamer) resetSubscribed() {
	s.mu.Lock()
	s.subscribed = make(map[string]struct{})
	s.mu.Unlock()
	metrics.WSSubscriptions.Set(0)
}

// stream reads frames until the connection breaks or ctx cancels.
func (s *Streamer) stream(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pingEvery + pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingEvery + pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	// Ping keepalive and refresh polling share one side goroutine; writes
	// happen only here while the read loop owns the socket reads.
	go func() {
		pings := time.NewTicker(pingEvery)
		refresh := time.NewTicker(refreshPoll)
		defer pings.Stop()
		defer refresh.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-pings.C:
				conn.SetWriteDeadline(time.Now().Add(pongWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			case <-refresh.C:
				if !s.source.Consume() {
					continue
				}
				if err := s.applyRefresh(ctx, conn); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("⚠️ WS read error, reconnecting")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pingEvery + pongWait))
		s.handleMessage(data)
	}
}

// applyRefresh diffs the desired set against current subscriptions and
// subscribes the additions. Stale subscriptions are left to lapse on the
// next reconnect.
func (s *Streamer) applyRefresh(ctx context.Context, conn *websocket.Conn) error {
	desired, err := s.source.Desired(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Refresh: could not read watched set")
		return nil
	}

	added := 0
	for _, market := range desired {
		if s.isSubscribed(market) {
			continue
		}
		if s.subCount() >= s.cfg.MaxSubscriptions {
			break
		}
		if err := s.subscribe(conn, market); err != nil {
			return err
		}
		added++
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(subscribePacing):
		}
	}
	if added > 0 {
		log.Info().Int("added", added).Int("total", s.subCount()).Msg("📡 Subscription set refreshed")
	}
	return nil
}

// wsFrame is one inbound message. The exchange tags frames either with
// event_type or with a generic type field.
type wsFrame struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Market    string          `json:"market"`
	AssetID   string          `json:"asset_id"`
	Price     decimal.Decimal `json:"price"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	Bids      []wsLevel       `json:"bids"`
	Asks      []wsLevel       `json:"asks"`
}

func (f *wsFrame) kind() string {
	if f.EventType != "" {
		return f.EventType
	}
	return f.Type
}

// handleMessage parses one socket payload, which may carry a single frame
// or an array of frames.
func (s *Streamer) handleMessage(data []byte) {
	var frames []wsFrame
	if err := json.Unmarshal(data, &frames); err != nil {
		var single wsFrame
		if err := json.Unmarshal(data, &single); err != nil {
			metrics.WSFrames.WithLabelValues("unparsed").Inc()
			return
		}
		frames = []wsFrame{single}
	}
	for i := range frames {
		s.handleFrame(&frames[i])
	}
}

func (s *Streamer) handleFrame(f *wsFrame) {
	switch f.kind() {
	case "snapshot", "book", "orderbook":
		s.handleSnapshot(f)
	case "delta", "price_change":
		s.handleDelta(f)
	case "trade", "last_trade_price":
		s.handleTrade(f)
	default:
		metrics.WSFrames.WithLabelValues("other").Inc()
		return
	}
}

func (s *Streamer) handleSnapshot(f *wsFrame) {
	metrics.WSFrames.WithLabelValues("snapshot").Inc()

	q := types.LiveQuote{
		MarketID: f.Market,
		AssetID:  f.AssetID,
		BestBid:  bestBid(f.Bids),
		BestAsk:  bestAsk(f.Asks),
		Source:   types.SourceWS,
	}
	s.sink.SetLiveQuote(q)
	s.publish(f.Market, f.AssetID)
}

func (s *Streamer) handleDelta(f *wsFrame) {
	metrics.WSFrames.WithLabelValues("delta").Inc()

	bid, ask := f.BestBid, f.BestAsk
	if len(f.Bids) > 0 {
		bid = bestBid(f.Bids)
	}
	if len(f.Asks) > 0 {
		ask = bestAsk(f.Asks)
	}
	if !bid.IsPositive() && !ask.IsPositive() && f.Price.IsPositive() {
		// Bare price_change without sides: treat as a mid move by nudging
		// both sides onto the printed price.
		bid, ask = f.Price, f.Price
	}
	s.sink.MergeLiveDelta(f.Market, f.AssetID, bid, ask, decimal.Zero, types.SourceWS)
	s.publish(f.Market, f.AssetID)
}

func (s *Streamer) handleTrade(f *wsFrame) {
	metrics.WSFrames.WithLabelValues("trade").Inc()

	if !f.Price.IsPositive() {
		return
	}
	s.sink.MergeLiveDelta(f.Market, f.AssetID, decimal.Zero, decimal.Zero, f.Price, types.SourceWS)
	s.publish(f.Market, f.AssetID)
}

func (s *Streamer) publish(market, asset string) {
	if s.bus == nil {
		return
	}
	type quoteReader interface {
		LiveQuote(conditionID string) (types.LiveQuote, bool)
	}
	r, ok := s.sink.(quoteReader)
	if !ok {
		return
	}
	q, ok := r.LiveQuote(market)
	if !ok {
		return
	}
	s.bus.PublishQuote(types.QuoteEvent{
		MarketID:  market,
		AssetID:   asset,
		BestBid:   q.BestBid,
		BestAsk:   q.BestAsk,
		Mid:       q.Mid,
		LastTrade: q.LastTrade,
		Source:    types.SourceWS,
		Timestamp: time.Now(),
	})
}

// withJitter spreads reconnects by up to 10%.
func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/10+1))
}
