package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// eventLookup is the subset of Registry.FindActiveForEvent the cache
// wraps, kept as an interface so cache.go and registry.go don't need
// to know about each other's internals.
type eventLookup interface {
	FindActiveForEvent(event string) ([]Webhook, error)
}

// SubscriptionCache is the optional read-through cache in front of
// findActiveForEvent (§4.6). It never originates data: a cache miss
// or a disabled cache simply falls through to the wrapped registry.
type SubscriptionCache struct {
	registry eventLookup
	ttl      time.Duration

	// in-process store, used only when no Redis client is set
	mu    sync.Mutex
	local map[string]cacheEntry

	redisClient *redis.Client
}

type cacheEntry struct {
	webhooks  []Webhook
	expiresAt time.Time
}

// NewSubscriptionCache wraps registry with an in-process TTL cache.
func NewSubscriptionCache(registry eventLookup, ttl time.Duration) *SubscriptionCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &SubscriptionCache{
		registry: registry,
		ttl:      ttl,
		local:    make(map[string]cacheEntry),
	}
}

// WithRedis switches the cache to a Redis-backed store, used when
// cache.backend=redis is configured. From then on the in-process map is
// neither read nor written; when Redis is unreachable, every lookup
// falls through to the registry.
func (c *SubscriptionCache) WithRedis(client *redis.Client) *SubscriptionCache {
	c.redisClient = client
	return c
}

func cacheKey(event string) string { return "webhook:active:" + event }

// FindActiveForEvent returns the cached active-webhook list for event,
// refreshing from the registry when the entry is missing or stale.
func (c *SubscriptionCache) FindActiveForEvent(ctx context.Context, event string) ([]Webhook, error) {
	if c.redisClient != nil {
		if webhooks, ok := c.getRedis(ctx, event); ok {
			return webhooks, nil
		}
	} else if webhooks, ok := c.getLocal(event); ok {
		return webhooks, nil
	}

	webhooks, err := c.registry.FindActiveForEvent(event)
	if err != nil {
		return nil, err
	}
	c.put(ctx, event, webhooks)
	return webhooks, nil
}

func (c *SubscriptionCache) getLocal(event string) ([]Webhook, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.local[cacheKey(event)]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.webhooks, true
}

func (c *SubscriptionCache) getRedis(ctx context.Context, event string) ([]Webhook, bool) {
	raw, err := c.redisClient.Get(ctx, cacheKey(event)).Result()
	if err != nil {
		return nil, false
	}
	var webhooks []Webhook
	if err := json.Unmarshal([]byte(raw), &webhooks); err != nil {
		return nil, false
	}
	return webhooks, true
}

func (c *SubscriptionCache) put(ctx context.Context, event string, webhooks []Webhook) {
	if c.redisClient != nil {
		if encoded, err := json.Marshal(webhooks); err == nil {
			c.redisClient.Set(ctx, cacheKey(event), encoded, c.ttl)
		}
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[cacheKey(event)] = cacheEntry{webhooks: webhooks, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate drops every cached event list; called after create,
// update, or delete touches a webhook, since any event's subscriber
// set may have changed.
func (c *SubscriptionCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.local = make(map[string]cacheEntry)
	c.mu.Unlock()

	if c.redisClient != nil {
		keys, err := c.redisClient.Keys(ctx, "webhook:active:*").Result()
		if err == nil && len(keys) > 0 {
			c.redisClient.Del(ctx, keys...)
		}
	}
}
