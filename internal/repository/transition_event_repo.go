package repository

import (
	"context"
	"errors"

	"github.com/alphagov/pay-connector-sub018/internal/model"

	"gorm.io/gorm"
)

var ErrTransitionEventNotFound = errors.New("transition event not found")

// TransitionEventRepository is append-only: rows are written once and only
// ever read back, so the event factory always sees the change as committed.
type TransitionEventRepository struct {
	db *gorm.DB
}

func NewTransitionEventRepository(db *gorm.DB) *TransitionEventRepository {
	return &TransitionEventRepository{db: db}
}

func (r *TransitionEventRepository) Append(ctx context.Context, tx *gorm.DB, rec *model.TransitionEvent) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(rec).Error
}

func (r *TransitionEventRepository) GetByID(ctx context.Context, id int64) (*model.TransitionEvent, error) {
	var rec model.TransitionEvent
	err := r.db.WithContext(ctx).First(&rec, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransitionEventNotFound
		}
		return nil, err
	}
	return &rec, nil
}
