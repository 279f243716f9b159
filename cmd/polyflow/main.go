package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polyflow/config"
	"github.com/web3guy0/polyflow/copytrade"
	"github.com/web3guy0/polyflow/core"
	"github.com/web3guy0/polyflow/exchange"
	"github.com/web3guy0/polyflow/feeds"
	"github.com/web3guy0/polyflow/gateway"
	"github.com/web3guy0/polyflow/indexer"
	"github.com/web3guy0/polyflow/markets"
	"github.com/web3guy0/polyflow/metrics"
	"github.com/web3guy0/polyflow/notify"
	"github.com/web3guy0/polyflow/pubsub"
	"github.com/web3guy0/polyflow/smartwallet"
	"github.com/web3guy0/polyflow/storage"
	"github.com/web3guy0/polyflow/tpsl"
	"github.com/web3guy0/polyflow/watch"
	"github.com/web3guy0/polyflow/webhook"
)

const stopGrace = 15 * time.Second

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Configuration invalid")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("              POLYFLOW - MARKET INTELLIGENCE PIPELINE")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	// ═══════════════════════════════════════════════════════════════════════════════
	// PERSISTENCE
	// ═══════════════════════════════════════════════════════════════════════════════

	var repo storage.Repository
	if cfg.SkipDB {
		repo = gateway.NewClient(cfg.GatewayAPIURL)
		log.Info().Str("gateway", cfg.GatewayAPIURL).Msg("✅ Repository via API gateway (SKIP_DB)")
	} else {
		db, err := storage.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Database connection failed")
		}
		repo = db
		log.Info().Msg("✅ Storage layer initialized")
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// EXCHANGE CLIENTS + MARKET STORE
	// ═══════════════════════════════════════════════════════════════════════════════

	clob := exchange.NewClient(cfg.CLOBAPIURL, exchange.Credentials{
		APIKey:     cfg.CLOBApiKey,
		APISecret:  cfg.CLOBApiSecret,
		Passphrase: cfg.CLOBPassphrase,
		Address:    cfg.FunderAddress,
	})
	data := exchange.NewDataClient(cfg.DataAPIURL)
	gamma := feeds.NewGammaClient(cfg.GammaAPIURL)
	store := markets.NewStore(repo, clob)
	log.Info().Msg("✅ Exchange clients initialized")

	// ═══════════════════════════════════════════════════════════════════════════════
	// EVENT FAN-OUT
	// ═══════════════════════════════════════════════════════════════════════════════

	bus := core.NewBus()

	publisher, err := pubsub.NewPublisher(cfg.RedisURL, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Redis publisher init failed")
	}
	bridge, err := pubsub.NewBridge(pubsub.BridgeConfig{
		RedisURL:     cfg.RedisURL,
		MarketURL:    cfg.BridgeWebhookURL,
		CopyTradeURL: cfg.BridgeCopyTradeWebhookURL,
		TradePattern: cfg.BridgeTradePattern,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Redis bridge init failed")
	}
	log.Info().Msg("✅ Pub/sub layer initialized")

	// ═══════════════════════════════════════════════════════════════════════════════
	// FEEDS + WATCH RECONCILIATION
	// ═══════════════════════════════════════════════════════════════════════════════

	refreshSignal := watch.NewRefreshSignal()
	positionCache := watch.NewPositionCache()
	detector := watch.NewDetector(repo)
	controller := watch.NewController(repo, data, positionCache, refreshSignal, detector,
		cfg.WatchInterval, cfg.WatchSmartActivity)

	poller := feeds.NewPoller(gamma, repo, bus, store, cfg.PollInterval)
	streamer := feeds.NewStreamer(feeds.StreamerConfig{
		URL:              cfg.CLOBWSSURL,
		BackoffMin:       cfg.WSReconnectBackoffMin,
		BackoffMax:       cfg.WSReconnectBackoffMax,
		MaxSubscriptions: cfg.WSMaxSubscriptions,
	}, watch.NewSetSource(repo, refreshSignal), store, bus)
	log.Info().Msg("✅ Feeds initialized")

	// ═══════════════════════════════════════════════════════════════════════════════
	// NOTIFICATIONS
	// ═══════════════════════════════════════════════════════════════════════════════

	var sender notify.Sender
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram sender unavailable, notifications log-only")
		} else {
			sender = tg
		}
	}
	notifier := notify.NewService(sender)

	// ═══════════════════════════════════════════════════════════════════════════════
	// TRADING COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	engine := copytrade.NewEngine(repo, clob, copytrade.NewResolver(repo), notifier, copytrade.Limits{
		MinCopyUSD: cfg.MinCopyAmountUSD,
		MinPercent: cfg.MinAllocationPercentage,
		MaxPercent: cfg.MaxAllocationPercentage,
	})
	smartSync := smartwallet.NewSync(repo, cfg.SmartSyncInterval)
	monitor := tpsl.NewMonitor(repo, store, clob, data, notifier, cfg.TPSLCheckInterval)
	ingestor := indexer.NewIngestor(repo, publisher)
	log.Info().Msg("✅ Trading components initialized")

	// ═══════════════════════════════════════════════════════════════════════════════
	// INGRESS + OBSERVABILITY
	// ═══════════════════════════════════════════════════════════════════════════════

	whServer := webhook.NewServer(cfg.WebhookListenHost, strconv.Itoa(cfg.WebhookListenPort),
		engine, smartSync, ingestor, refreshSignal)
	metricsServer := metrics.NewServer(cfg.MetricsAddr)

	// ═══════════════════════════════════════════════════════════════════════════════
	// SUPERVISED START
	// ═══════════════════════════════════════════════════════════════════════════════

	sup := core.NewSupervisor()
	sup.Add("market_poller", poller.Run)
	sup.Add("ws_streamer", streamer.Run)
	sup.Add("redis_publisher", publisher.Run)
	sup.Add("redis_bridge", bridge.Run)
	sup.Add("watch_controller", controller.Run)
	sup.Add("smart_sync", smartSync.Run)
	sup.Add("tpsl_monitor", monitor.Run)
	sup.Add("notify_service", notifier.Run)
	sup.Add("webhook_server", whServer.Run)
	sup.Add("metrics_server", metricsServer.Run)

	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)
	log.Info().Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")
	cancel()
	sup.Stop(stopGrace)
	log.Info().Msg("👋 Goodbye!")
}
