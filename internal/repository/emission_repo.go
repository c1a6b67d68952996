package repository

import (
	"context"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EmissionRepository is the durable arbiter of which events have been
// offered and delivered. Every worker defers to it before sending.
type EmissionRepository struct {
	db *gorm.DB
}

func NewEmissionRepository(db *gorm.DB) *EmissionRepository {
	return &EmissionRepository{db: db}
}

// RecordOffered inserts the record if its natural key is new and does
// nothing otherwise, so re-offering the same logical event is idempotent.
func (r *EmissionRepository) RecordOffered(ctx context.Context, tx *gorm.DB, rec *model.EmissionRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "resource_type"},
				{Name: "resource_external_id"},
				{Name: "event_type"},
				{Name: "event_date"},
			},
			DoNothing: true,
		}).
		Create(rec).Error
}

// RecordEmitted confirms delivery. The emitted_at IS NULL guard keeps the
// first confirmation authoritative under concurrent workers.
func (r *EmissionRepository) RecordEmitted(ctx context.Context, key model.EmissionKey, emittedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.EmissionRecord{}).
		Where("resource_type = ? AND resource_external_id = ? AND event_type = ? AND event_date = ? AND emitted_at IS NULL",
			key.ResourceType, key.ResourceExternalID, key.EventType, key.EventDate).
		Update("emitted_at", emittedAt).Error
}

func (r *EmissionRepository) HasBeenEmitted(ctx context.Context, key model.EmissionKey) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.EmissionRecord{}).
		Where("resource_type = ? AND resource_external_id = ? AND event_type = ? AND event_date = ? AND emitted_at IS NOT NULL",
			key.ResourceType, key.ResourceExternalID, key.EventType, key.EventDate).
		Count(&count).Error
	return count > 0, err
}

// FindUnconfirmedOlderThan returns records offered before cutoff that were
// never confirmed delivered, skipping rows whose backoff deadline has not
// elapsed yet.
func (r *EmissionRepository) FindUnconfirmedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.EmissionRecord, error) {
	var records []*model.EmissionRecord
	err := r.db.WithContext(ctx).
		Where("emitted_at IS NULL AND offered_at < ?", cutoff).
		Where("do_not_retry_before IS NULL OR do_not_retry_before <= ?", time.Now()).
		Order("offered_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *EmissionRepository) SetRetryDeadline(ctx context.Context, id int64, deadline time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.EmissionRecord{}).
		Where("id = ?", id).
		Update("do_not_retry_before", deadline).Error
}
