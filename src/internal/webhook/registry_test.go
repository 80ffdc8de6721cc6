package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupRegistryTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Webhook{}, &DeliveryRecord{}))
	return db
}

func newTestRegistry(t *testing.T) *Registry {
	db := setupRegistryTestDB(t)
	return NewRegistry(db, nil)
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := newTestRegistry(t)

	wh, err := r.Create(CreateWebhookInput{
		Name:   "w1",
		URL:    "https://example.com/hook",
		Events: []string{"content.created"},
		Secret: "s3cret",
	})
	require.NoError(t, err)
	assert.NotZero(t, wh.ID)
	assert.False(t, wh.CreatedAt.IsZero())

	fetched, err := r.GetByID(wh.ID)
	require.NoError(t, err)
	assert.Equal(t, wh.URL, fetched.URL)
}

func TestRegistryCreateValidation(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Create(CreateWebhookInput{URL: "not-a-url", Events: []string{"content.created"}})
	assert.Error(t, err)

	_, err = r.Create(CreateWebhookInput{URL: "https://example.com", Events: nil})
	assert.Error(t, err)
}

func TestRegistryGetByIDNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetByID(999)
	assert.True(t, IsNotFound(err))
}

func TestRegistryUpdatePartial(t *testing.T) {
	r := newTestRegistry(t)
	wh, err := r.Create(CreateWebhookInput{Name: "orig", URL: "https://example.com", Events: []string{"content.created"}})
	require.NoError(t, err)

	unchanged, err := r.Update(wh.ID, UpdateWebhookInput{})
	require.NoError(t, err)
	assert.Equal(t, wh.Name, unchanged.Name)

	newName := "renamed"
	updated, err := r.Update(wh.ID, UpdateWebhookInput{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, wh.URL, updated.URL)
}

func TestRegistryUpdateNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Update(999, UpdateWebhookInput{})
	assert.True(t, IsNotFound(err))
}

func TestRegistryDeleteIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	wh, err := r.Create(CreateWebhookInput{Name: "w", URL: "https://example.com", Events: []string{"content.created"}})
	require.NoError(t, err)

	require.NoError(t, r.Delete(wh.ID))
	require.NoError(t, r.Delete(wh.ID))

	_, err = r.GetByID(wh.ID)
	assert.True(t, IsNotFound(err))
}

func TestRegistryFindActiveForEvent(t *testing.T) {
	r := newTestRegistry(t)

	w1, err := r.Create(CreateWebhookInput{Name: "w1", URL: "https://example.com/1", Events: []string{"content.created"}})
	require.NoError(t, err)
	_, err = r.Create(CreateWebhookInput{Name: "w2", URL: "https://example.com/2", Events: []string{"content.updated"}})
	require.NoError(t, err)

	inactive := false
	_, err = r.Create(CreateWebhookInput{Name: "w3", URL: "https://example.com/3", Events: []string{"content.created"}, IsActive: &inactive})
	require.NoError(t, err)

	matches, err := r.FindActiveForEvent("content.created")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, w1.ID, matches[0].ID)
}

func TestRegistryFindActiveForEventCorruptJSONSkipped(t *testing.T) {
	r := newTestRegistry(t)

	good, err := r.Create(CreateWebhookInput{Name: "good", URL: "https://example.com/good", Events: []string{"content.created"}})
	require.NoError(t, err)

	corrupt, err := r.Create(CreateWebhookInput{Name: "corrupt", URL: "https://example.com/corrupt", Events: []string{"content.created"}})
	require.NoError(t, err)
	require.NoError(t, r.db.Model(&Webhook{}).Where("id = ?", corrupt.ID).Update("events", "{not valid json").Error)

	matches, err := r.FindActiveForEvent("content.created")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, good.ID, matches[0].ID)
}

func TestRegistryQueryPagination(t *testing.T) {
	r := newTestRegistry(t)
	for i := 0; i < 3; i++ {
		_, err := r.Create(CreateWebhookInput{Name: "w", URL: "https://example.com", Events: []string{"content.created"}})
		require.NoError(t, err)
	}

	rows, total, err := r.Query(QueryFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.EqualValues(t, 3, total)
}

func TestRegistryQueryEventFilterAppliesBeforePagination(t *testing.T) {
	r := newTestRegistry(t)
	for i := 0; i < 3; i++ {
		_, err := r.Create(CreateWebhookInput{Name: "created", URL: "https://example.com", Events: []string{"content.created"}})
		require.NoError(t, err)
	}
	_, err := r.Create(CreateWebhookInput{Name: "updated", URL: "https://example.com", Events: []string{"content.updated"}})
	require.NoError(t, err)

	rows, total, err := r.Query(QueryFilter{Page: 1, Limit: 2, Event: "content.created"})
	require.NoError(t, err)
	assert.Len(t, rows, 2, "page is full even though a non-matching row exists in the table")
	assert.EqualValues(t, 3, total, "total reflects all matching rows, not just this page")

	rows2, total2, err := r.Query(QueryFilter{Page: 2, Limit: 2, Event: "content.created"})
	require.NoError(t, err)
	assert.Len(t, rows2, 1, "third matching row surfaces on page 2")
	assert.EqualValues(t, 3, total2)
}
