package webhook

import (
	"sync"

	"golang.org/x/time/rate"
)

// bucket pairs a token-bucket limiter with the per-minute figure it was
// built from, so Sync can skip rebuilding the limiter when the
// configured rate hasn't actually changed.
type bucket struct {
	limiter   *rate.Limiter
	perMinute int
}

// RateLimiter is an optional per-webhook outbound token bucket (§4.7),
// keyed off each Webhook's own RateLimitPerMinute field. A webhook
// that has never been synced, or whose RateLimitPerMinute is 0, is
// always allowed — this keeps the component entirely inert for
// subscribers that never opt in.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[uint]bucket
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[uint]bucket),
	}
}

// Sync brings the limiter for wh.ID in line with wh.RateLimitPerMinute.
// Callers invoke this once per delivery attempt (Dispatcher.ProcessJob
// does, right after loading the webhook) so a rate change made through
// the registry takes effect on the very next attempt without any
// separate invalidation step.
func (rl *RateLimiter) Sync(wh Webhook) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	existing, tracked := rl.buckets[wh.ID]
	if wh.RateLimitPerMinute <= 0 {
		if tracked {
			delete(rl.buckets, wh.ID)
		}
		return
	}
	if tracked && existing.perMinute == wh.RateLimitPerMinute {
		return
	}

	requestsPerSecond := float64(wh.RateLimitPerMinute) / 60.0
	burst := wh.RateLimitPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	rl.buckets[wh.ID] = bucket{
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		perMinute: wh.RateLimitPerMinute,
	}
}

// Allow reports whether a delivery attempt to webhookID may proceed
// right now. Call Sync first so this reflects the webhook's current
// RateLimitPerMinute rather than a stale or absent configuration.
func (rl *RateLimiter) Allow(webhookID uint) bool {
	rl.mu.RLock()
	b, tracked := rl.buckets[webhookID]
	rl.mu.RUnlock()
	if !tracked {
		return true
	}
	return b.limiter.Allow()
}

// GetLimit returns the requests-per-minute figure currently in effect
// for webhookID, or 0 if no limit is tracked.
func (rl *RateLimiter) GetLimit(webhookID uint) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.buckets[webhookID].perMinute
}
