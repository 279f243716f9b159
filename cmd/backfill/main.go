package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polyflow/config"
	"github.com/web3guy0/polyflow/exchange"
	"github.com/web3guy0/polyflow/gateway"
	"github.com/web3guy0/polyflow/indexer"
	"github.com/web3guy0/polyflow/pubsub"
	"github.com/web3guy0/polyflow/storage"
	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BACKFILL - replay a wallet's exchange activity through fill ingestion
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pages the data API's activity history for one wallet and feeds every TRADE
// row through the same ingestion path the live indexer uses. Ingestion is
// idempotent on tx id, so re-running over an already-covered range is safe.
// Redis fan-out stays off unless -publish is set: replayed history must not
// trigger copy mirroring.
// ═══════════════════════════════════════════════════════════════════════════════

const (
	activityPageSize = 100
	pagePacing       = 250 * time.Millisecond
)

// silentPublisher swallows fan-out during replay.
type silentPublisher struct{}

func (silentPublisher) PublishTrade(context.Context, types.TradeMessage) error     { return nil }
func (silentPublisher) PublishCopyTrade(context.Context, types.CopyTradeMessage) error { return nil }

func main() {
	wallet := flag.String("wallet", "", "wallet address to backfill (required)")
	maxPages := flag.Int("pages", 10, "maximum activity pages to replay")
	publish := flag.Bool("publish", false, "fan replayed fills out over redis")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if *wallet == "" {
		log.Fatal().Msg("❌ -wallet is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Configuration invalid")
	}

	var repo storage.Repository
	if cfg.SkipDB {
		repo = gateway.NewClient(cfg.GatewayAPIURL)
	} else {
		db, err := storage.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Database connection failed")
		}
		repo = db
	}

	var pub indexer.Publisher = silentPublisher{}
	if *publish {
		p, err := pubsub.NewPublisher(cfg.RedisURL, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Redis publisher init failed")
		}
		pub = p
	}

	data := exchange.NewDataClient(cfg.DataAPIURL)
	ing := indexer.NewIngestor(repo, pub)
	ctx := context.Background()

	addr := types.NormalizeWallet(*wallet)
	smart := isSmartWallet(ctx, repo, addr)

	log.Info().Str("wallet", types.ShortWallet(addr)).Int("pages", *maxPages).
		Bool("publish", *publish).Msg("🔄 Backfill started")

	var ingested, skipped int
	for page := 0; page < *maxPages; page++ {
		rows, err := data.Activities(ctx, addr, activityPageSize, page*activityPageSize)
		if err != nil {
			log.Fatal().Err(err).Int("page", page).Msg("❌ Activity fetch failed")
		}
		if len(rows) == 0 {
			break
		}

		for _, a := range rows {
			tr, ok := activityToFill(ctx, repo, addr, a, smart)
			if !ok {
				skipped++
				continue
			}
			if err := ing.IngestFill(ctx, tr); err != nil {
				log.Warn().Err(err).Str("tx", tr.TxID).Msg("⚠️ Fill ingestion failed")
				skipped++
				continue
			}
			ingested++
		}

		if len(rows) < activityPageSize {
			break
		}
		time.Sleep(pagePacing)
	}

	log.Info().Int("ingested", ingested).Int("skipped", skipped).Msg("✅ Backfill complete")
}

// activityToFill maps one history row onto the raw-fill shape. Rows that are
// not trades or that cannot be attributed to a market are skipped.
func activityToFill(ctx context.Context, repo storage.Repository, wallet string, a exchange.Activity, smart bool) (*types.LeaderTrade, bool) {
	if a.Type != "TRADE" || a.TxHash == "" {
		return nil, false
	}
	if a.Side != types.SideBuy && a.Side != types.SideSell {
		return nil, false
	}

	marketID := a.ConditionID
	if m, err := repo.GetMarketByCondition(ctx, a.ConditionID); err == nil {
		marketID = m.ID
	}

	return &types.LeaderTrade{
		TxID:          a.TxHash,
		WalletAddress: wallet,
		MarketID:      marketID,
		OutcomeIndex:  a.OutcomeIndex,
		Side:          a.Side,
		Size:          a.Size,
		Price:         a.Price,
		AmountUSD:     a.USDCSize,
		TxHash:        a.TxHash,
		Timestamp:     a.Time(),
		IsSmartWallet: smart,
	}, true
}

func isSmartWallet(ctx context.Context, repo storage.Repository, wallet string) bool {
	w, err := repo.GetWatchedAddress(ctx, wallet)
	return err == nil && w.Type == types.AddressSmartTrader
}
