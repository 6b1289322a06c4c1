package debrid

import (
	"math/rand"
	"sync"
	"time"

	"debridhub/pkg/config"
)

// rateLimiter implements a token bucket with retry/backoff helpers
type rateLimiter struct {
	mu               sync.Mutex
	capacity         int
	tokens           float64
	refillRatePerSec float64
	last             time.Time
	maxRetries       int
	baseBackoff      time.Duration
	maxBackoff       time.Duration
}

func newRateLimiter(rl config.RateLimit) *rateLimiter {
	if rl.RequestsPerMinute <= 0 {
		rl.RequestsPerMinute = 220
	}
	if rl.Burst < 0 {
		rl.Burst = 0
	}
	if rl.MaxRetries < 0 {
		rl.MaxRetries = 0
	}
	if rl.BaseBackoffMs <= 0 {
		rl.BaseBackoffMs = 500
	}
	if rl.MaxBackoffMs <= 0 {
		rl.MaxBackoffMs = 8000
	}
	return &rateLimiter{
		capacity:         rl.Burst + 1,
		tokens:           float64(rl.Burst + 1),
		refillRatePerSec: float64(rl.RequestsPerMinute) / 60.0,
		last:             time.Now(),
		maxRetries:       rl.MaxRetries,
		baseBackoff:      time.Duration(rl.BaseBackoffMs) * time.Millisecond,
		maxBackoff:       time.Duration(rl.MaxBackoffMs) * time.Millisecond,
	}
}

// waitToken blocks until a token is available or ctxDone fires.
func (r *rateLimiter) waitToken(ctxDone <-chan struct{}) bool {
	if r == nil {
		return true
	}
	for {
		r.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(r.last).Seconds()
		r.last = now
		r.tokens += elapsed * r.refillRatePerSec
		if r.tokens > float64(r.capacity) {
			r.tokens = float64(r.capacity)
		}
		if r.tokens >= 1.0 {
			r.tokens -= 1.0
			r.mu.Unlock()
			return true
		}
		r.mu.Unlock()
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctxDone:
			return false
		}
	}
}

// backoffFor returns the sleep duration before retry attempt n (0-based),
// exponential with jitter, capped at maxBackoff.
func (r *rateLimiter) backoffFor(attempt int) time.Duration {
	backoff := r.baseBackoff << uint(attempt)
	if backoff > r.maxBackoff {
		backoff = r.maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/4 + 1))
	return backoff + jitter
}
