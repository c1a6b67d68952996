package service

import (
	"context"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/event"
	"github.com/alphagov/pay-connector-sub018/internal/ledger"
	"github.com/alphagov/pay-connector-sub018/internal/model"

	"gorm.io/gorm"
)

// Consumer-side interfaces over the repository layer. The concrete gorm
// repositories satisfy them; tests substitute in-memory fakes or mocks.

type ChargeStore interface {
	GetByExternalID(ctx context.Context, externalID string) (*model.Charge, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, externalID string, from, to model.ChargeStatus) error
	UpdateParity(ctx context.Context, externalID, parityStatus string, checkedAt time.Time) error
	ClearSensitiveFields(ctx context.Context, externalID string) error
	FindExpungeCandidates(ctx context.Context, olderThan, checkedBefore time.Time, limit int) ([]*model.Charge, error)
	FindByIDRange(ctx context.Context, startID, endID int64, parityStatus string) ([]*model.Charge, error)
}

type RefundStore interface {
	GetByExternalID(ctx context.Context, externalID string) (*model.Refund, error)
	SumRefunded(ctx context.Context, chargeExternalID string) (int64, error)
	UpdateParity(ctx context.Context, externalID, parityStatus string, checkedAt time.Time) error
	ClearSensitiveFields(ctx context.Context, externalID string) error
	FindExpungeCandidates(ctx context.Context, olderThan, checkedBefore time.Time, limit int) ([]*model.Refund, error)
	FindByIDRange(ctx context.Context, startID, endID int64, parityStatus string) ([]*model.Refund, error)
}

type TransitionEventStore interface {
	Append(ctx context.Context, tx *gorm.DB, rec *model.TransitionEvent) error
	GetByID(ctx context.Context, id int64) (*model.TransitionEvent, error)
}

type EmissionStore interface {
	RecordOffered(ctx context.Context, tx *gorm.DB, rec *model.EmissionRecord) error
	RecordEmitted(ctx context.Context, key model.EmissionKey, emittedAt time.Time) error
	HasBeenEmitted(ctx context.Context, key model.EmissionKey) (bool, error)
	FindUnconfirmedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.EmissionRecord, error)
	SetRetryDeadline(ctx context.Context, id int64, deadline time.Time) error
}

// LedgerClient is the outbound surface to the external ledger.
type LedgerClient interface {
	PostEvents(ctx context.Context, events []event.Event) error
	GetTransaction(ctx context.Context, resourceType, externalID string) (*ledger.TransactionSnapshot, error)
}
