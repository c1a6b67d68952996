package model

import (
	"time"
)

// EmissionKey is the natural key of an emission record. Re-offering the
// same logical event is idempotent at the storage layer because the four
// fields carry a composite unique index.
type EmissionKey struct {
	ResourceType       string
	ResourceExternalID string
	EventType          string
	EventDate          time.Time
}

// EmissionRecord tracks whether and when a domain event was offered and
// whether it was confirmed delivered to the external ledger. A row with a
// non-null EmittedAt is final and must never be re-sent. DoNotRetryBefore
// is the sweep backoff deadline for rows that keep failing delivery.
type EmissionRecord struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ResourceType       string     `gorm:"type:varchar(16);not null;uniqueIndex:idx_emission_natural_key" json:"resource_type"`
	ResourceExternalID string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_emission_natural_key" json:"resource_external_id"`
	EventType          string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_emission_natural_key" json:"event_type"`
	EventDate          time.Time  `gorm:"not null;uniqueIndex:idx_emission_natural_key" json:"event_date"`
	OfferedAt          time.Time  `gorm:"not null;index" json:"offered_at"`
	EmittedAt          *time.Time `json:"emitted_at"`
	DoNotRetryBefore   *time.Time `json:"do_not_retry_before"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (EmissionRecord) TableName() string {
	return "emission_record"
}

func (r *EmissionRecord) Key() EmissionKey {
	return EmissionKey{
		ResourceType:       r.ResourceType,
		ResourceExternalID: r.ResourceExternalID,
		EventType:          r.EventType,
		EventDate:          r.EventDate,
	}
}
