package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryStoreRecordAndList(t *testing.T) {
	db := setupRegistryTestDB(t)
	h := NewHistoryStore(db)

	now := time.Now()
	require.NoError(t, h.Record(DeliveryRecord{ID: "d1", WebhookID: 7, Event: "content.created", Success: true, Attempt: 1, CreatedAt: now}))
	require.NoError(t, h.Record(DeliveryRecord{ID: "d2", WebhookID: 7, Event: "content.created", Success: false, Attempt: 2, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, h.Record(DeliveryRecord{ID: "d3", WebhookID: 9, Event: "content.updated", Success: true, Attempt: 1, CreatedAt: now}))

	rows, total, err := h.ListForWebhook(7, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, rows, 2)
	assert.Equal(t, "d2", rows[0].ID, "most recent first")
}

func TestHistoryStoreGetByDeliveryIDNotFound(t *testing.T) {
	db := setupRegistryTestDB(t)
	h := NewHistoryStore(db)
	_, err := h.GetByDeliveryID("missing")
	assert.True(t, IsNotFound(err))
}

func TestHistoryStoreUniqueDeliveryIDPerAttempt(t *testing.T) {
	db := setupRegistryTestDB(t)
	h := NewHistoryStore(db)

	ids := map[string]bool{}
	for attempt := 1; attempt <= 3; attempt++ {
		id := "retry-" + string(rune('0'+attempt))
		require.NoError(t, h.Record(DeliveryRecord{ID: id, WebhookID: 1, Event: "content.created", Attempt: attempt, CreatedAt: time.Now()}))
		assert.False(t, ids[id])
		ids[id] = true
	}
	assert.Len(t, ids, 3)
}
