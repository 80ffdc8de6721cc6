package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterUnconfiguredWebhookAlwaysAllowed(t *testing.T) {
	rl := NewRateLimiter()
	assert.True(t, rl.Allow(1))
	assert.Equal(t, 0, rl.GetLimit(1))
}

func TestRateLimiterSyncAppliesWebhookLimit(t *testing.T) {
	rl := NewRateLimiter()
	wh := Webhook{ID: 1, RateLimitPerMinute: 60}

	rl.Sync(wh)
	assert.Equal(t, 60, rl.GetLimit(1))

	// Burst is 10% of the per-minute limit, so the first few calls
	// succeed and then the bucket is exhausted.
	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow(1) {
			allowed++
		}
	}
	assert.Greater(t, allowed, 0)
	assert.Less(t, allowed, 10)
}

func TestRateLimiterSyncZeroRemovesLimit(t *testing.T) {
	rl := NewRateLimiter()
	wh := Webhook{ID: 5, RateLimitPerMinute: 30}
	rl.Sync(wh)
	assert.Equal(t, 30, rl.GetLimit(5))

	wh.RateLimitPerMinute = 0
	rl.Sync(wh)
	assert.Equal(t, 0, rl.GetLimit(5))
	assert.True(t, rl.Allow(5))
}

func TestRateLimiterSyncUnchangedLimitKeepsBucket(t *testing.T) {
	rl := NewRateLimiter()
	wh := Webhook{ID: 2, RateLimitPerMinute: 120}
	rl.Sync(wh)
	rl.Allow(2) // consume one token
	before := rl.buckets[2].limiter

	rl.Sync(wh) // same limit again, must not reset the bucket
	assert.Equal(t, 120, rl.GetLimit(2))
	assert.Same(t, before, rl.buckets[2].limiter)
}
