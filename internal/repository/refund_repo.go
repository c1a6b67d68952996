package repository

import (
	"context"
	"errors"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/model"

	"gorm.io/gorm"
)

var ErrRefundNotFound = errors.New("refund not found")

type RefundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

func (r *RefundRepository) Create(ctx context.Context, tx *gorm.DB, refund *model.Refund) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(refund).Error
}

func (r *RefundRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Refund, error) {
	var refund model.Refund
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &refund, nil
}

func (r *RefundRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, externalID string, from, to model.RefundStatus) error {
	if !model.CanTransitionRefund(from, to) {
		return model.NewInvalidTransitionError(string(from), string(to))
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Refund{}).
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
		if err := r.db.WithContext(ctx).Model(&model.Refund{}).
			Where("external_id = ?", externalID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRefundNotFound
		}
		return ErrStatusConflict
	}

	return nil
}

// SumRefunded totals the refund amounts counted against a charge. Errored
// refunds release their amount back to availability.
func (r *RefundRepository) SumRefunded(ctx context.Context, chargeExternalID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Refund{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("charge_external_id = ? AND status <> ?", chargeExternalID, model.RefundError).
		Scan(&total).Error
	return total, err
}

func (r *RefundRepository) UpdateParity(ctx context.Context, externalID, parityStatus string, checkedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Refund{}).
		Where("external_id = ?", externalID).
		Updates(map[string]interface{}{
			"parity_check_status": parityStatus,
			"parity_checked_at":   checkedAt,
		}).Error
}

func (r *RefundRepository) ClearSensitiveFields(ctx context.Context, externalID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Refund{}).
		Where("external_id = ?", externalID).
		Updates(map[string]interface{}{
			"user_external_id":        "",
			"provider_transaction_id": "",
		}).Error
}

func (r *RefundRepository) FindExpungeCandidates(ctx context.Context, olderThan, checkedBefore time.Time, limit int) ([]*model.Refund, error) {
	var refunds []*model.Refund
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]model.RefundStatus{model.Refunded, model.RefundError},
			olderThan).
		Where("parity_checked_at IS NULL OR parity_checked_at < ?", checkedBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&refunds).Error
	return refunds, err
}

func (r *RefundRepository) FindByIDRange(ctx context.Context, startID, endID int64, parityStatus string) ([]*model.Refund, error) {
	query := r.db.WithContext(ctx).Where("id BETWEEN ? AND ?", startID, endID)
	if parityStatus != "" {
		query = query.Where("parity_check_status = ?", parityStatus)
	}
	var refunds []*model.Refund
	err := query.Order("id ASC").Find(&refunds).Error
	return refunds, err
}
