package logd

import (
	"sync"
	"time"
)

// tokenBucket is the per-sender rate limiter shared in shape with policyd's
// own limiter: a fixed capacity refilled at a constant rate, consumed one
// token per admitted record.
type tokenBucket struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	rate     float64 // tokens per second
	last     time.Time
}

func newTokenBucket(capacity, ratePerSecond float64, now time.Time) *tokenBucket {
	return &tokenBucket{capacity: capacity, tokens: capacity, rate: ratePerSecond, last: now}
}

// Allow reports whether one token is available at now, consuming it if so.
func (b *tokenBucket) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
