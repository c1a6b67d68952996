package repository

import (
	"context"
	"errors"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/model"

	"gorm.io/gorm"
)

var (
	ErrChargeNotFound = errors.New("charge not found")
	// ErrStatusConflict means a concurrent writer changed the row between
	// read and write. The caller decides whether to retry the business
	// operation; it must never be swallowed.
	ErrStatusConflict = errors.New("charge status changed concurrently")
)

type ChargeRepository struct {
	db *gorm.DB
}

func NewChargeRepository(db *gorm.DB) *ChargeRepository {
	return &ChargeRepository{db: db}
}

func (r *ChargeRepository) Create(ctx context.Context, tx *gorm.DB, charge *model.Charge) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(charge).Error
}

func (r *ChargeRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Charge, error) {
	var charge model.Charge
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&charge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChargeNotFound
		}
		return nil, err
	}
	return &charge, nil
}

// UpdateStatus applies a transition with a compare-and-swap on the current
// status plus version bump. An edge missing from the transition graph
// fails before touching the database; zero rows affected distinguishes a
// vanished charge from a concurrent writer.
func (r *ChargeRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, externalID string, from, to model.ChargeStatus) error {
	if !model.CanTransitionCharge(from, to) {
		return model.NewInvalidTransitionError(string(from), string(to))
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Charge{}).
		Where("external_id = ? AND status = ?", externalID, from).
		Updates(map[string]interface{}{
			"status":  to,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&model.Charge{}).
			Where("external_id = ?", externalID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrChargeNotFound
		}
		return ErrStatusConflict
	}

	return nil
}

func (r *ChargeRepository) UpdateParity(ctx context.Context, externalID, parityStatus string, checkedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Charge{}).
		Where("external_id = ?", externalID).
		Updates(map[string]interface{}{
			"parity_check_status": parityStatus,
			"parity_checked_at":   checkedAt,
		}).Error
}

// ClearSensitiveFields expunges cardholder data while keeping the
// identifiers, amount and status for audit.
func (r *ChargeRepository) ClearSensitiveFields(ctx context.Context, externalID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Charge{}).
		Where("external_id = ?", externalID).
		Updates(map[string]interface{}{
			"description":             "",
			"reference":               "",
			"email":                   "",
			"cardholder_name":         "",
			"provider_transaction_id": "",
		}).Error
}

// FindExpungeCandidates returns expungeable-status charges created before
// olderThan whose last parity check, if any, predates checkedBefore.
func (r *ChargeRepository) FindExpungeCandidates(ctx context.Context, olderThan, checkedBefore time.Time, limit int) ([]*model.Charge, error) {
	statuses := expungeableChargeStatuses()
	var charges []*model.Charge
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", statuses, olderThan).
		Where("parity_checked_at IS NULL OR parity_checked_at < ?", checkedBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&charges).Error
	return charges, err
}

func (r *ChargeRepository) FindByIDRange(ctx context.Context, startID, endID int64, parityStatus string) ([]*model.Charge, error) {
	query := r.db.WithContext(ctx).Where("id BETWEEN ? AND ?", startID, endID)
	if parityStatus != "" {
		query = query.Where("parity_check_status = ?", parityStatus)
	}
	var charges []*model.Charge
	err := query.Order("id ASC").Find(&charges).Error
	return charges, err
}

// FindStuckBefore returns charges still in a pre-authorisation state past
// their time-to-live, due to be expired.
func (r *ChargeRepository) FindStuckBefore(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Charge, error) {
	var charges []*model.Charge
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]model.ChargeStatus{model.ChargeCreated, model.ChargeEnteringCardDetails, model.ChargeAuthorisationOK},
			createdBefore).
		Limit(limit).
		Find(&charges).Error
	return charges, err
}

func expungeableChargeStatuses() []model.ChargeStatus {
	statuses := make([]model.ChargeStatus, 0, len(model.ValidChargeTransitions))
	for _, status := range []model.ChargeStatus{
		model.ChargeCaptured,
		model.ChargeCaptureError,
		model.ChargeAuthorisationDenied,
		model.ChargeAuthorisationError,
		model.ChargeExpired,
		model.ChargeUserCancelled,
		model.ChargeSystemCancelled,
	} {
		if status.IsExpungeable() {
			statuses = append(statuses, status)
		}
	}
	return statuses
}
