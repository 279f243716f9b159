package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WEBHOOK INGRESS - downstream HTTP surface
// ═══════════════════════════════════════════════════════════════════════════════
//
// The bridge and the external indexer POST here. Routing is a compile-time
// handler table; payloads deserialize into the shared wire types. Handlers
// answer 200 quickly and do the real work inline — every downstream path is
// idempotent, so the sender retrying a slow POST is safe.
// ═══════════════════════════════════════════════════════════════════════════════

const maxBodyBytes = 1 << 20

// CopyEngine mirrors leader fills.
type CopyEngine interface {
	HandleMessage(ctx context.Context, msg *types.CopyTradeMessage) error
}

// SmartIngestor runs the webhook-instant smart-trade path.
type SmartIngestor interface {
	IngestByTx(ctx context.Context, txID string) error
}

// FillIngestor accepts raw fills from the external on-chain indexer.
type FillIngestor interface {
	IngestFill(ctx context.Context, tr *types.LeaderTrade) error
}

// StatusHinter is poked when a market-status event arrives, so the watched
// set reconciles before its next scheduled cycle.
type StatusHinter interface {
	Raise()
}

// Stats is a running tally for the health surface.
type Stats struct {
	Market    uint64
	CopyTrade uint64
	Smart     uint64
	Fills     uint64
	Errors    uint64
}

// Server is the webhook ingress.
type Server struct {
	addr   string
	engine CopyEngine
	smart  SmartIngestor
	fills  FillIngestor
	hinter StatusHinter

	market    atomic.Uint64
	copyTrade atomic.Uint64
	smartN    atomic.Uint64
	fillN     atomic.Uint64
	errors    atomic.Uint64
}

func NewServer(host, port string, engine CopyEngine, smart SmartIngestor, fills FillIngestor, hinter StatusHinter) *Server {
	return &Server{
		addr:   net.JoinHostPort(host, port),
		engine: engine,
		smart:  smart,
		fills:  fills,
		hinter: hinter,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("🔌 Webhook listener up")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /wh/market", s.handleMarket)
	mux.HandleFunc("POST /wh/copy_trade", s.handleCopyTrade)
	mux.HandleFunc("POST /wh/smart_trade", s.handleSmartTrade)
	mux.HandleFunc("POST /wh/fill", s.handleFill)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Stats returns the running tally.
func (s *Server) Stats() Stats {
	return Stats{
		Market:    s.market.Load(),
		CopyTrade: s.copyTrade.Load(),
		Smart:     s.smartN.Load(),
		Fills:     s.fillN.Load(),
		Errors:    s.errors.Load(),
	}
}

// marketEvent is the bridge's wrapped envelope.
type marketEvent struct {
	MarketID  string          `json:"market_id"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	var ev marketEvent
	if !s.decode(w, r, &ev) {
		return
	}
	s.market.Add(1)

	switch ev.Event {
	case "market.status":
		if s.hinter != nil {
			s.hinter.Raise()
		}
		log.Debug().Str("market", ev.MarketID).Msg("Status event, refresh hinted")
	case "trade", "orderbook", "clob.trade":
		// Counted above; live state already flowed through the streamer.
	default:
		log.Debug().Str("event", ev.Event).Str("market", ev.MarketID).Msg("Unrouted market event")
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCopyTrade(w http.ResponseWriter, r *http.Request) {
	var msg types.CopyTradeMessage
	if !s.decode(w, r, &msg) {
		return
	}
	if msg.TxID == "" || msg.UserAddress == "" {
		s.fail(w, http.StatusBadRequest, "tx_id and user_address are required")
		return
	}
	s.copyTrade.Add(1)

	if err := s.engine.HandleMessage(r.Context(), &msg); err != nil {
		s.errors.Add(1)
		log.Error().Err(err).Str("tx", msg.TxID).Msg("❌ Copy-trade handling failed")
		s.fail(w, http.StatusInternalServerError, "copy trade failed")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSmartTrade(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TradeID string `json:"trade_id"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.TradeID == "" {
		s.fail(w, http.StatusBadRequest, "trade_id is required")
		return
	}
	s.smartN.Add(1)

	if err := s.smart.IngestByTx(r.Context(), body.TradeID); err != nil {
		if types.IsKind(err, types.KindNotFound) {
			s.fail(w, http.StatusNotFound, "unknown trade_id")
			return
		}
		s.errors.Add(1)
		log.Error().Err(err).Str("trade", body.TradeID).Msg("❌ Instant smart-trade ingestion failed")
		s.fail(w, http.StatusInternalServerError, "ingestion failed")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var tr types.LeaderTrade
	if !s.decode(w, r, &tr) {
		return
	}
	if tr.TxID == "" || tr.WalletAddress == "" || tr.MarketID == "" {
		s.fail(w, http.StatusBadRequest, "tx_id, wallet_address and market_id are required")
		return
	}
	s.fillN.Add(1)

	if err := s.fills.IngestFill(r.Context(), &tr); err != nil {
		s.errors.Add(1)
		log.Error().Err(err).Str("tx", tr.TxID).Msg("❌ Fill ingestion failed")
		s.fail(w, http.StatusInternalServerError, "fill ingestion failed")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.errors.Add(1)
		s.fail(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
