package watch

import (
	"sync"
	"time"

	"github.com/web3guy0/polyflow/types"
)

// positionCacheTTL bounds how long a wallet's position snapshot is reused
// between reconciliation cycles.
const positionCacheTTL = 180 * time.Second

type cacheEntry struct {
	positions []types.ExchangePosition
	at        time.Time
}

// PositionCache is a per-wallet TTL cache of exchange position snapshots.
// Invalidation is idempotent.
type PositionCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	clock   func() time.Time
}

func NewPositionCache() *PositionCache {
	return &PositionCache{
		entries: make(map[string]cacheEntry),
		ttl:     positionCacheTTL,
		clock:   time.Now,
	}
}

// Get returns the cached snapshot when fresh.
func (c *PositionCache) Get(wallet string) ([]types.ExchangePosition, bool) {
	key := types.NormalizeWallet(wallet)

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.clock().Sub(e.at) > c.ttl {
		return nil, false
	}
	return e.positions, true
}

// Put stores a snapshot.
func (c *PositionCache) Put(wallet string, ps []types.ExchangePosition) {
	key := types.NormalizeWallet(wallet)
	c.mu.Lock()
	c.entries[key] = cacheEntry{positions: ps, at: c.clock()}
	c.mu.Unlock()
}

// Invalidate evicts one wallet.
func (c *PositionCache) Invalidate(wallet string) {
	key := types.NormalizeWallet(wallet)
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *PositionCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
