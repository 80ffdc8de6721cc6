package webhook

import (
	"time"
)

// Webhook is a subscriber endpoint: a URL plus the set of events it
// wants delivered to it.
type Webhook struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	URL       string    `gorm:"not null" json:"url"`
	Events    string    `gorm:"column:events;type:text" json:"-"`
	Headers   string    `gorm:"column:headers;type:text" json:"-"`
	Secret    string    `json:"-"`
	IsActive  bool      `gorm:"default:true" json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`

	// RateLimitPerMinute gates the optional per-webhook limiter (0 = disabled).
	RateLimitPerMinute int `gorm:"default:0" json:"rateLimitPerMinute,omitempty"`
}

func (Webhook) TableName() string { return "webhooks" }

// Events and Headers hold the raw stored JSON text. Webhook has no
// decoding method of its own; decoding, including the handling of
// corrupt JSON, lives in registry.go.

// DeliveryJob is a unit of work the Queue schedules and a worker
// processes. Each physical HTTP attempt carries its own DeliveryID —
// a retry never reuses the one that preceded it.
type DeliveryJob struct {
	DeliveryID        string
	WebhookID         uint
	Event             string
	Data              interface{}
	Attempt           int
	MaxAttempts       int
	InitialDelayMs    int64
	BackoffMultiplier float64
	TimeoutMs         int64
	Priority          int
	ScheduledFor      time.Time
}

// Clone returns a copy of the job suitable for use as a retry: callers
// still need to bump Attempt, reset Priority, set ScheduledFor, and
// assign a fresh DeliveryID — Queue.ScheduleRetry (queue.go) does all four.
func (j DeliveryJob) Clone() DeliveryJob {
	return j
}

// WebhookPayload is the exact object serialized to JSON and sent as
// the request body; the same bytes are signed.
type WebhookPayload struct {
	Event      string      `json:"event"`
	Timestamp  int64       `json:"timestamp"`
	DeliveryID string      `json:"deliveryId"`
	Data       interface{} `json:"data"`
}

// AttemptResult is what the HTTP Deliverer returns for one request.
type AttemptResult struct {
	Success      bool
	StatusCode   int // 0 if no response was received
	ErrorKind    string
	ErrorMessage string
	DurationMs   int64
	Attempt      int
	Response     string // truncated to 1024 bytes
	CompletedAt  time.Time
}

// DeliveryRecord is the persisted, append-only audit row for one
// attempt. Records are never mutated after insert.
type DeliveryRecord struct {
	ID          string     `gorm:"column:id;primaryKey" json:"deliveryId"`
	WebhookID   uint       `gorm:"column:webhook_id;index" json:"webhookId"`
	Event       string     `gorm:"column:event" json:"event"`
	StatusCode  *int       `gorm:"column:status_code" json:"statusCode,omitempty"`
	Success     bool       `gorm:"column:success" json:"success"`
	Attempt     int        `gorm:"column:attempt" json:"attempt"`
	Response    *string    `gorm:"column:response" json:"response,omitempty"`
	DurationMs  int64      `gorm:"column:duration" json:"durationMs"`
	Error       *string    `gorm:"column:error" json:"error,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"createdAt"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completedAt,omitempty"`
}

func (DeliveryRecord) TableName() string { return "webhook_deliveries" }

// CreateWebhookInput is the payload accepted by Registry.Create.
type CreateWebhookInput struct {
	Name     string
	URL      string
	Events   []string
	Headers  map[string]string
	Secret   string
	IsActive *bool
}

// UpdateWebhookInput is a partial patch: nil fields are left
// untouched. An entirely-nil patch is a no-op update.
type UpdateWebhookInput struct {
	Name     *string
	URL      *string
	Events   []string
	Headers  map[string]string
	Secret   *string
	IsActive *bool
}

// PageRequest is the common pagination input for list operations.
type PageRequest struct {
	Page  int
	Limit int
}

// QueryFilter narrows Registry.Query results.
type QueryFilter struct {
	Page     int
	Limit    int
	Event    string
	IsActive *bool
}

// QueueStats reports the Queue's current load.
type QueueStats struct {
	Pending    int
	Processing int
}

// TestResult is returned by Dispatcher.Test.
type TestResult struct {
	DeliveryID string
	Success    bool
	StatusCode int
	Error      string
	DurationMs int64
}

// DispatchOptions tunes a single dispatch call; zero values fall back
// to the package defaults (DefaultMaxAttempts, DefaultTimeoutMs, ...).
type DispatchOptions struct {
	MaxAttempts       int
	InitialDelayMs    int64
	BackoffMultiplier float64
	TimeoutMs         int64
}

const (
	DefaultMaxAttempts       = 5
	DefaultInitialDelayMs    = 1000
	DefaultBackoffMultiplier = 2.0
	DefaultTimeoutMs         = 30_000
	DefaultMaxConcurrent     = 10
	DefaultTickInterval      = time.Second
	MaxResponseBodyBytes     = 1024
	DefaultPriority          = 1
	RetryPriority            = 0
	UserAgent                = "Ferriqa-Webhook/1.0"
)

// Closed set of event names existing subscribers expect.
var KnownEvents = []string{
	"content.created",
	"content.updated",
	"content.deleted",
	"content.published",
	"content.unpublished",
	"blueprint.created",
	"blueprint.updated",
	"blueprint.deleted",
	"media.uploaded",
	"media.deleted",
}
