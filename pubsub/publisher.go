package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polyflow/core"
	"github.com/web3guy0/polyflow/metrics"
	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REDIS PUBLISHER - non-blocking fan-out of fills and market events
// ═══════════════════════════════════════════════════════════════════════════════
//
// At-most-once: a publish that cannot reach redis within the socket timeout
// is dropped and reported as a failure; callers tolerate loss. The breaker
// caps reconnect pressure when redis stays down.
// ═══════════════════════════════════════════════════════════════════════════════

const publishTimeout = 3 * time.Second

// Channel name builders, fixed by the wire contract.
func TradeChannel(marketID string) string { return "trade." + marketID }
func CopyTradeChannel(wallet string) string {
	return "copy_trade:" + types.NormalizeWallet(wallet)
}
func StatusChannel(marketID string) string    { return "market.status." + marketID }
func OrderbookChannel(marketID string) string { return "orderbook." + marketID }

// Publisher fans events out over redis pub/sub.
type Publisher struct {
	rdb     *redis.Client
	bus     *core.Bus
	breaker *core.Breaker
}

// NewPublisher parses the redis URL and prepares a lazily-connecting client.
func NewPublisher(redisURL string, bus *core.Bus) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = publishTimeout
	opts.WriteTimeout = publishTimeout
	opts.ReadTimeout = publishTimeout

	return &Publisher{
		rdb:     redis.NewClient(opts),
		bus:     bus,
		breaker: core.NewBreaker("redis_publish", 10, 30*time.Second),
	}, nil
}

// publish serializes and sends one message, bounded by the socket timeout.
func (p *Publisher) publish(ctx context.Context, class, channel string, payload any) error {
	if p.breaker.Tripped() {
		metrics.PublisherPublishes.WithLabelValues(class, "dropped").Inc()
		return types.Kindf(types.KindUpstreamUnavailable, "redis breaker open, dropped %s", channel)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.E(types.KindParse, "publisher.marshal", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.rdb.Publish(ctx, channel, body).Err(); err != nil {
		p.breaker.Failure()
		metrics.PublisherPublishes.WithLabelValues(class, "error").Inc()
		return types.E(types.KindUpstreamUnavailable, "publisher.publish "+channel, err)
	}

	p.breaker.Success()
	metrics.PublisherPublishes.WithLabelValues(class, "success").Inc()
	return nil
}

// PublishTrade fans one fill out to the market-level channel.
func (p *Publisher) PublishTrade(ctx context.Context, msg types.TradeMessage) error {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return p.publish(ctx, "trade", TradeChannel(msg.MarketID), msg)
}

// PublishCopyTrade fans one normalized fill out to the wallet-level channel.
func (p *Publisher) PublishCopyTrade(ctx context.Context, msg types.CopyTradeMessage) error {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return p.publish(ctx, "copy_trade", CopyTradeChannel(msg.UserAddress), msg)
}

// Run drains the in-process bus onto redis: status transitions onto
// market.status.{id}, live quotes onto orderbook.{id}. Loss is acceptable;
// failures are logged and the loop continues.
func (p *Publisher) Run(ctx context.Context) error {
	statusCh := make(chan types.MarketStatusEvent, 256)
	quoteCh := make(chan types.QuoteEvent, 1024)
	statusSub := p.bus.SubscribeStatus(statusCh)
	quoteSub := p.bus.SubscribeQuote(quoteCh)
	defer statusSub.Unsubscribe()
	defer quoteSub.Unsubscribe()

	log.Info().Msg("📣 Redis publisher draining bus")
	for {
		select {
		case <-ctx.Done():
			return p.rdb.Close()
		case ev := <-statusCh:
			if err := p.publish(ctx, "status", StatusChannel(ev.MarketID), ev); err != nil {
				log.Debug().Err(err).Str("market", ev.MarketID).Msg("Status publish dropped")
			}
		case ev := <-quoteCh:
			if err := p.publish(ctx, "orderbook", OrderbookChannel(ev.MarketID), ev); err != nil {
				log.Debug().Err(err).Str("market", ev.MarketID).Msg("Quote publish dropped")
			}
		case err := <-statusSub.Err():
			return err
		case err := <-quoteSub.Err():
			return err
		}
	}
}
