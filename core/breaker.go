package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FAILURE BREAKER - Protection against hammering a dead upstream
// ═══════════════════════════════════════════════════════════════════════════════

// Breaker counts consecutive failures and trips once a threshold is reached.
// A tripped breaker stays closed until the cooldown elapses or Success resets
// it. The streamer uses it to escalate repeated connect failures to the
// supervisor; the publisher uses it to cap reconnect attempts per window.
type Breaker struct {
	mu sync.Mutex

	name      string
	threshold int
	cooldown  time.Duration

	consecutive int
	tripped     bool
	trippedAt   time.Time
}

// NewBreaker creates a breaker that trips after threshold consecutive
// failures and re-arms after cooldown.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Failure records one failure and reports whether this one tripped the
// breaker.
func (b *Breaker) Failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	if b.tripped || b.consecutive < b.threshold {
		return false
	}

	b.tripped = true
	b.trippedAt = time.Now()
	log.Warn().
		Str("breaker", b.name).
		Int("consecutive_failures", b.consecutive).
		Dur("cooldown", b.cooldown).
		Msg("🚨 BREAKER TRIPPED")
	return true
}

// Success resets the failure run.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripped {
		log.Info().Str("breaker", b.name).Msg("✅ Breaker reset")
	}
	b.consecutive = 0
	b.tripped = false
}

// Tripped reports whether the breaker is currently closed. A breaker whose
// cooldown has elapsed re-arms and reports false.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripped && b.cooldown > 0 && time.Since(b.trippedAt) > b.cooldown {
		b.tripped = false
		b.consecutive = 0
		log.Info().Str("breaker", b.name).Msg("✅ Breaker re-armed after cooldown")
	}
	return b.tripped
}

// Consecutive returns the current failure run length.
func (b *Breaker) Consecutive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}
