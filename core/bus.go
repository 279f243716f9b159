package core

import (
	"github.com/ethereum/go-ethereum/event"

	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EVENT BUS - typed in-process fan-out
// ═══════════════════════════════════════════════════════════════════════════════

// Bus fans typed events out to in-process subscribers. Publishing never
// blocks the producer beyond the subscriber channel sends; subscribers that
// fall behind drop on their own channel policy.
type Bus struct {
	statusFeed event.Feed
	quoteFeed  event.Feed
}

func NewBus() *Bus {
	return &Bus{}
}

// PublishStatus broadcasts a market status transition. Returns the number of
// subscribers that received it.
func (b *Bus) PublishStatus(ev types.MarketStatusEvent) int {
	return b.statusFeed.Send(ev)
}

// SubscribeStatus registers a channel for status transitions.
func (b *Bus) SubscribeStatus(ch chan<- types.MarketStatusEvent) event.Subscription {
	return b.statusFeed.Subscribe(ch)
}

// PublishQuote broadcasts a live-quote update.
func (b *Bus) PublishQuote(ev types.QuoteEvent) int {
	return b.quoteFeed.Send(ev)
}

// SubscribeQuote registers a channel for live-quote updates.
func (b *Bus) SubscribeQuote(ch chan<- types.QuoteEvent) event.Subscription {
	return b.quoteFeed.Subscribe(ch)
}
