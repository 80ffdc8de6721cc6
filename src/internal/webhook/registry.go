package webhook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"gorm.io/gorm"
)

// Registry is the Subscription Registry: CRUD over Webhook rows plus
// the event-filtered lookup the Dispatcher calls on every dispatch.
type Registry struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRegistry(db *gorm.DB, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, logger: logger}
}

// Migrate creates/updates the webhooks and webhook_deliveries tables.
func (r *Registry) Migrate() error {
	return r.db.AutoMigrate(&Webhook{}, &DeliveryRecord{})
}

func encodeEvents(events []string) (string, error) {
	if events == nil {
		events = []string{}
	}
	b, err := json.Marshal(events)
	return string(b), err
}

func encodeHeaders(headers map[string]string) (string, error) {
	if headers == nil {
		return "", nil
	}
	b, err := json.Marshal(headers)
	return string(b), err
}

// decodeEvents parses the stored events JSON. Corrupt JSON (including
// JSON that is syntactically valid but not an array, e.g. an object)
// is logged and treated as an empty set — one broken row must not
// block dispatch for any other webhook.
func (r *Registry) decodeEvents(webhookID uint, raw string) []string {
	if raw == "" {
		return nil
	}
	var events []string
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		corruptErr := CorruptSubscriptionError(fmt.Sprintf("webhook %d events column", webhookID), err)
		r.logger.Warn(corruptErr.Error(),
			slog.Uint64("webhookId", uint64(webhookID)), slog.String("kind", string(corruptErr.Kind)))
		return nil
	}
	return events
}

func (r *Registry) decodeHeaders(webhookID uint, raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		corruptErr := CorruptSubscriptionError(fmt.Sprintf("webhook %d headers column", webhookID), err)
		r.logger.Warn(corruptErr.Error(),
			slog.Uint64("webhookId", uint64(webhookID)), slog.String("kind", string(corruptErr.Kind)))
		return nil
	}
	return headers
}

func validateEvents(events []string) error {
	if len(events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url must be an absolute HTTP/HTTPS URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	return nil
}

// Create validates and persists a new Webhook, then re-reads it from
// storage so the returned row's timestamps reflect storage, not the
// caller's clock.
func (r *Registry) Create(input CreateWebhookInput) (*Webhook, error) {
	if err := validateURL(input.URL); err != nil {
		return nil, ValidationError(err.Error())
	}
	if err := validateEvents(input.Events); err != nil {
		return nil, ValidationError(err.Error())
	}

	eventsJSON, err := encodeEvents(input.Events)
	if err != nil {
		return nil, ValidationError("events could not be encoded: " + err.Error())
	}
	headersJSON, err := encodeHeaders(input.Headers)
	if err != nil {
		return nil, ValidationError("headers could not be encoded: " + err.Error())
	}

	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}

	row := Webhook{
		Name:     input.Name,
		URL:      input.URL,
		Events:   eventsJSON,
		Headers:  headersJSON,
		Secret:   input.Secret,
		IsActive: isActive,
	}
	if err := r.db.Create(&row).Error; err != nil {
		return nil, StorageError("failed to create webhook", err)
	}
	return r.GetByID(row.ID)
}

// GetByID fetches a Webhook by id, or a NotFound error.
func (r *Registry) GetByID(id uint) (*Webhook, error) {
	var row Webhook
	if err := r.db.First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NotFoundError("webhook", id)
		}
		return nil, StorageError("failed to read webhook", err)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Unix(0, 0).UTC()
	}
	return &row, nil
}

// Update applies only the provided fields of patch. A patch with every
// field nil returns the current row unchanged.
func (r *Registry) Update(id uint, patch UpdateWebhookInput) (*Webhook, error) {
	current, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.URL != nil {
		if err := validateURL(*patch.URL); err != nil {
			return nil, ValidationError(err.Error())
		}
		updates["url"] = *patch.URL
	}
	if patch.Events != nil {
		if err := validateEvents(patch.Events); err != nil {
			return nil, ValidationError(err.Error())
		}
		eventsJSON, err := encodeEvents(patch.Events)
		if err != nil {
			return nil, ValidationError("events could not be encoded: " + err.Error())
		}
		updates["events"] = eventsJSON
	}
	if patch.Headers != nil {
		headersJSON, err := encodeHeaders(patch.Headers)
		if err != nil {
			return nil, ValidationError("headers could not be encoded: " + err.Error())
		}
		updates["headers"] = headersJSON
	}
	if patch.Secret != nil {
		updates["secret"] = *patch.Secret
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}

	if len(updates) == 0 {
		return current, nil
	}

	if err := r.db.Model(&Webhook{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, StorageError("failed to update webhook", err)
	}
	return r.GetByID(id)
}

// Delete removes a webhook. Idempotent: deleting an absent id is not
// an error.
func (r *Registry) Delete(id uint) error {
	if err := r.db.Delete(&Webhook{}, "id = ?", id).Error; err != nil {
		return StorageError("failed to delete webhook", err)
	}
	return nil
}

// Query lists webhooks ordered by createdAt descending, optionally
// restricted to an exact event subscription and/or active flag.
func (r *Registry) Query(filter QueryFilter) ([]Webhook, int64, error) {
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	q := r.db.Model(&Webhook{})
	if filter.IsActive != nil {
		q = q.Where("is_active = ?", *filter.IsActive)
	}
	if filter.Event != "" {
		// Same coarse-then-exact strategy as FindActiveForEvent: the
		// LIKE predicate runs before Count/Offset/Limit so pagination
		// and total both reflect the filtered set, not the whole table.
		q = q.Where("events LIKE ?", fmt.Sprintf("%%%q%%", filter.Event))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, StorageError("failed to count webhooks", err)
	}

	var rows []Webhook
	if err := q.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, 0, StorageError("failed to list webhooks", err)
	}

	if filter.Event == "" {
		return rows, total, nil
	}

	// Confirm each row on this page against an exact decode so a LIKE
	// false-positive never leaks into the result; total stays the SQL
	// count (a LIKE over-count is the same tradeoff FindActiveForEvent
	// makes, and recomputing it from one page would be wrong the other
	// way — it would undercount whatever sits on later pages).
	filtered := rows[:0]
	for _, row := range rows {
		if r.subscribesTo(row, filter.Event) {
			filtered = append(filtered, row)
		}
	}
	return filtered, total, nil
}

// FindActiveForEvent returns active webhooks whose subscription set
// contains event, exact string match. Filters coarsely at the storage
// layer with a LIKE over the raw JSON text (cheap, index-friendly
// enough for the common case) and confirms with an exact decode in Go
// so a LIKE false-positive (e.g. a substring match inside another
// event's name) never leaks through.
func (r *Registry) FindActiveForEvent(event string) ([]Webhook, error) {
	var candidates []Webhook
	pattern := fmt.Sprintf("%%%q%%", event)
	if err := r.db.Where("is_active = ? AND events LIKE ?", true, pattern).
		Find(&candidates).Error; err != nil {
		return nil, StorageError("failed to query active webhooks", err)
	}

	matches := make([]Webhook, 0, len(candidates))
	for _, c := range candidates {
		if r.subscribesTo(c, event) {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

func (r *Registry) subscribesTo(w Webhook, event string) bool {
	for _, e := range r.decodeEvents(w.ID, w.Events) {
		if e == event {
			return true
		}
	}
	return false
}
