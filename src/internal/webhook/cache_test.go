package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	calls int
	rows  []Webhook
}

func (f *fakeLookup) FindActiveForEvent(event string) ([]Webhook, error) {
	f.calls++
	return f.rows, nil
}

func TestSubscriptionCacheServesFromCacheWithinTTL(t *testing.T) {
	lookup := &fakeLookup{rows: []Webhook{{ID: 1}}}
	cache := NewSubscriptionCache(lookup, 100*time.Millisecond)

	ctx := context.Background()
	rows, err := cache.FindActiveForEvent(ctx, "content.created")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, lookup.calls)

	_, err = cache.FindActiveForEvent(ctx, "content.created")
	require.NoError(t, err)
	assert.Equal(t, 1, lookup.calls, "second call within TTL should not hit the registry")
}

func TestSubscriptionCacheRefreshesAfterTTL(t *testing.T) {
	lookup := &fakeLookup{rows: []Webhook{{ID: 1}}}
	cache := NewSubscriptionCache(lookup, 10*time.Millisecond)

	ctx := context.Background()
	_, err := cache.FindActiveForEvent(ctx, "content.created")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = cache.FindActiveForEvent(ctx, "content.created")
	require.NoError(t, err)
	assert.Equal(t, 2, lookup.calls)
}

func TestSubscriptionCacheInvalidate(t *testing.T) {
	lookup := &fakeLookup{rows: []Webhook{{ID: 1}}}
	cache := NewSubscriptionCache(lookup, time.Minute)

	ctx := context.Background()
	_, err := cache.FindActiveForEvent(ctx, "content.created")
	require.NoError(t, err)

	cache.Invalidate(ctx)

	_, err = cache.FindActiveForEvent(ctx, "content.created")
	require.NoError(t, err)
	assert.Equal(t, 2, lookup.calls)
}
