package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polyflow/metrics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PUB/SUB BRIDGE - redis pattern subscriber → webhook POSTs
// ═══════════════════════════════════════════════════════════════════════════════
//
// Forwards every channel message to the webhook dispatcher. copy_trade
// payloads pass through verbatim; everything else is wrapped as
// {market_id, event, payload, timestamp}. The bridge never retries a POST;
// the dispatcher is the retry boundary.
// ═══════════════════════════════════════════════════════════════════════════════

const (
	postTimeout = 5 * time.Second
	dedupWindow = 2 * time.Second
)

const copyTradePrefix = "copy_trade:"

// BridgeConfig names the subscription patterns and the two webhook sinks.
type BridgeConfig struct {
	RedisURL     string
	MarketURL    string
	CopyTradeURL string
	TradePattern string // default "trade.*"; deployments behind a prefix use e.g. "clob.trade.*"
}

// BridgeStats is the running tally exposed for health.
type BridgeStats struct {
	Messages  uint64 `json:"messages"`
	Successes uint64 `json:"successes"`
	Errors    uint64 `json:"errors"`
}

// marketEnvelope is the wrapped body POSTed for non-copy-trade events.
type marketEnvelope struct {
	MarketID  string          `json:"market_id"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// Bridge subscribes to the fan-out channels and forwards to webhooks.
type Bridge struct {
	cfg      BridgeConfig
	rdb      *redis.Client
	http     *resty.Client
	patterns []string
	prefixes []string // event-name prefixes, longest first

	messages  atomic.Uint64
	successes atomic.Uint64
	errors    atomic.Uint64

	mu     sync.Mutex
	recent map[string]time.Time // message fingerprint → seen at
}

func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if cfg.TradePattern == "" {
		cfg.TradePattern = "trade.*"
	}
	patterns := dedupStrings([]string{
		"market.status.*",
		cfg.TradePattern,
		"orderbook.*",
		copyTradePrefix + "*",
	})

	prefixes := make([]string, 0, len(patterns))
	for _, p := range patterns {
		prefixes = append(prefixes, strings.TrimSuffix(p, "*"))
	}
	// Longest prefix first so market.status.* wins over a hypothetical
	// market.* pattern.
	for i := 0; i < len(prefixes); i++ {
		for j := i + 1; j < len(prefixes); j++ {
			if len(prefixes[j]) > len(prefixes[i]) {
				prefixes[i], prefixes[j] = prefixes[j], prefixes[i]
				patterns[i], patterns[j] = patterns[j], patterns[i]
			}
		}
	}

	return &Bridge{
		cfg:      cfg,
		rdb:      redis.NewClient(opts),
		http:     resty.New().SetTimeout(postTimeout).SetHeader("Content-Type", "application/json"),
		patterns: patterns,
		prefixes: prefixes,
		recent:   make(map[string]time.Time),
	}, nil
}

// Run subscribes and forwards until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	psub := b.rdb.PSubscribe(ctx, b.patterns...)
	defer psub.Close()

	if _, err := psub.Receive(ctx); err != nil {
		return err
	}
	log.Info().Strs("patterns", b.patterns).Msg("🌉 Bridge subscribed")

	ch := psub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("bridge subscription channel closed")
			}
			b.handle(ctx, msg.Channel, msg.Payload)
		}
	}
}

// handle routes one channel message. Exported through tests only.
func (b *Bridge) handle(ctx context.Context, channel, payload string) {
	// Received counts every delivery, duplicates included.
	b.messages.Add(1)
	if b.duplicate(channel, payload) {
		return
	}

	// Malformed payloads are forwarded wrapped rather than dropped.
	raw := json.RawMessage(payload)
	if !json.Valid(raw) {
		wrapped, _ := json.Marshal(map[string]string{"raw_message": payload})
		raw = wrapped
	}

	if strings.HasPrefix(channel, copyTradePrefix) {
		metrics.BridgeMessages.WithLabelValues("copy_trade").Inc()
		b.post(ctx, b.cfg.CopyTradeURL, raw)
		return
	}

	event, marketID := b.route(channel)
	metrics.BridgeMessages.WithLabelValues(event).Inc()

	body, _ := json.Marshal(marketEnvelope{
		MarketID:  marketID,
		Event:     event,
		Payload:   raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	b.post(ctx, b.cfg.MarketURL, json.RawMessage(body))
}

// route derives the event name and market id from the channel via the
// longest matching prefix.
func (b *Bridge) route(channel string) (event, marketID string) {
	for _, prefix := range b.prefixes {
		if strings.HasPrefix(channel, prefix) {
			return strings.TrimSuffix(prefix, "."), strings.TrimPrefix(channel, prefix)
		}
	}
	// Unknown channel: fall back to everything after the last separator.
	if i := strings.LastIndexAny(channel, ".:"); i >= 0 {
		return channel[:i], channel[i+1:]
	}
	return channel, ""
}

// duplicate drops re-deliveries of the same message through overlapping
// patterns within a short window.
func (b *Bridge) duplicate(channel, payload string) bool {
	key := channel + "\x00" + payload
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if seen, ok := b.recent[key]; ok && now.Sub(seen) < dedupWindow {
		return true
	}
	for k, at := range b.recent {
		if now.Sub(at) >= dedupWindow {
			delete(b.recent, k)
		}
	}
	b.recent[key] = now
	return false
}

// post issues one POST; 200/201 counts as success, anything else as error.
// No retry, no buffering.
func (b *Bridge) post(ctx context.Context, url string, body json.RawMessage) {
	resp, err := b.http.R().
		SetContext(ctx).
		SetBody([]byte(body)).
		Post(url)

	if err != nil || (resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated) {
		b.errors.Add(1)
		metrics.BridgePosts.WithLabelValues("error").Inc()
		log.Debug().Err(err).Str("url", url).Msg("Bridge POST failed")
		return
	}
	b.successes.Add(1)
	metrics.BridgePosts.WithLabelValues("success").Inc()
}

// Stats snapshots the running tally.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Messages:  b.messages.Load(),
		Successes: b.successes.Load(),
		Errors:    b.errors.Load(),
	}
}

func dedupStrings(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := ss[:0]
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
