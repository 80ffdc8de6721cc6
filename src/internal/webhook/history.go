package webhook

import (
	"gorm.io/gorm"
)

// HistoryStore is the append-only Delivery History Store: one row per
// HTTP attempt, keyed by deliveryId, never mutated after insert.
type HistoryStore struct {
	db *gorm.DB
}

func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record inserts a DeliveryRecord. Storage failures here are
// deliberately non-fatal to the caller's delivery flow (§7): the HTTP
// attempt already happened, so a missing audit row is an acceptable
// trade-off against losing the attempt's outcome entirely.
func (s *HistoryStore) Record(record DeliveryRecord) error {
	if err := s.db.Create(&record).Error; err != nil {
		return StorageError("failed to persist delivery record", err)
	}
	return nil
}

// ListForWebhook returns a page of DeliveryRecords for webhookID,
// most recent first.
func (s *HistoryStore) ListForWebhook(webhookID uint, page, limit int) ([]DeliveryRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	q := s.db.Model(&DeliveryRecord{}).Where("webhook_id = ?", webhookID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, StorageError("failed to count delivery records", err)
	}

	var rows []DeliveryRecord
	if err := q.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, 0, StorageError("failed to list delivery records", err)
	}
	return rows, total, nil
}

// GetByDeliveryID fetches a single record, or NotFound.
func (s *HistoryStore) GetByDeliveryID(deliveryID string) (*DeliveryRecord, error) {
	var row DeliveryRecord
	if err := s.db.First(&row, "id = ?", deliveryID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NotFoundError("deliveryRecord", deliveryID)
		}
		return nil, StorageError("failed to read delivery record", err)
	}
	return &row, nil
}
