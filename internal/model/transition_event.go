package model

import (
	"time"
)

// Resource types carried on transition events and emission records.
const (
	ResourcePayment   = "payment"
	ResourceRefund    = "refund"
	ResourceAgreement = "agreement"
	ResourcePayout    = "payout"
)

// TransitionEvent is the append-only status history of charges and refunds.
// Rows are never updated or deleted; the event factory re-reads them so an
// emitted event reflects the change as it was committed, not whatever a
// stale in-memory copy says.
type TransitionEvent struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ResourceType       string    `gorm:"type:varchar(16);not null" json:"resource_type"`
	ResourceExternalID string    `gorm:"type:varchar(32);index;not null" json:"resource_external_id"`
	FromStatus         string    `gorm:"type:varchar(32)" json:"from_status"`
	ToStatus           string    `gorm:"type:varchar(32);not null" json:"to_status"`
	OccurredAt         time.Time `gorm:"not null;index" json:"occurred_at"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (TransitionEvent) TableName() string {
	return "transition_event"
}
