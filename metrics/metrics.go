package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PROMETHEUS COLLECTORS - one block per pipeline component
// ═══════════════════════════════════════════════════════════════════════════════

// Poller
var (
	PollerCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyflow_poller_cycles_total",
		Help: "Poll cycles run, by kind (fast|complete|events).",
	}, []string{"kind"})

	PollerUpserts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyflow_poller_upserts_total",
		Help: "Market records upserted by the poller.",
	})

	PollerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyflow_poller_errors_total",
		Help: "Poller upstream failures, by error kind.",
	}, []string{"kind"})
)

// WebSocket streamer
var (
	WSFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyflow_ws_frames_total",
		Help: "WebSocket frames processed, by frame type.",
	}, []string{"type"})

	WSReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyflow_ws_reconnects_total",
		Help: "WebSocket reconnect attempts.",
	})

	WSSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polyflow_ws_subscriptions",
		Help: "Markets currently subscribed on the WebSocket session.",
	})
)

// Bridge
var (
	BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyflow_bridge_messages_total",
		Help: "Pub/sub messages handled by the bridge, by event type.",
	}, []string{"event"})

	BridgePosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyflow_bridge_posts_total",
		Help: "Webhook POSTs issued by the bridge, by result (success|error).",
	}, []string{"result"})
)

// Publisher
var (
	PublisherPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyflow_publisher_publishes_total",
		Help: "Redis publishes, by channel class and result.",
	}, []string{"class", "result"})
)

// Watched-markets controller
var (
	WatchCycleSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "polyflow_watch_cycle_seconds",
		Help:    "Reconciliation cycle duration.",
		Buckets: prometheus.DefBuckets,
	})

	WatchedMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polyflow_watched_markets",
		Help: "Rows currently in the watched-markets control set.",
	})

	WatchFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyflow_watch_fetch_failures_total",
		Help: "Per-wallet position fetches that failed during reconciliation.",
	})
)

// Copy trading
var (
	CopyAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyflow_copy_attempts_total",
		Help: "Leader fills considered for mirroring.",
	})

	CopyExecutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyflow_copy_executions_total",
		Help: "Mirrored orders successfully submitted.",
	})

	CopySkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyflow_copy_skips_total",
		Help: "Mirrors skipped, by reason.",
	}, []string{"reason"})
)

// Smart-wallet sync
var (
	SmartSyncTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyflow_smart_sync_trades_total",
		Help: "Raw smart-wallet fills processed, by outcome (valid|invalid).",
	}, []string{"outcome"})

	SmartShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyflow_smart_shared_total",
		Help: "Trades appended to the shareable feed.",
	})
)

// TP/SL monitor
var (
	TPSLEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyflow_tpsl_evaluations_total",
		Help: "Positions evaluated against their triggers.",
	})

	TPSLTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyflow_tpsl_triggers_total",
		Help: "Triggers fired, by type (TAKE_PROFIT|STOP_LOSS).",
	}, []string{"type"})

	TPSLSells = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyflow_tpsl_sells_total",
		Help: "Trigger sells, by result (success|error).",
	}, []string{"result"})
)

// Notifications
var (
	NotifyDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyflow_notify_drops_total",
		Help: "Notifications dropped because the queue was full.",
	})

	NotifySent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyflow_notify_sent_total",
		Help: "Notifications dispatched, by kind.",
	}, []string{"kind"})
)
