package job

import (
	"context"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/model"
	"github.com/alphagov/pay-connector-sub018/internal/repository"
	"github.com/alphagov/pay-connector-sub018/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChargeExpiryJob expires charges stuck in a pre-authorisation state past
// their time-to-live. Expiry goes through the normal transition path so it
// emits events like any other status change.
type ChargeExpiryJob struct {
	db          *gorm.DB
	charges     *repository.ChargeRepository
	transitions *service.TransitionService
	log         *zap.Logger
	interval    time.Duration
	ttl         time.Duration
	batchSize   int
	stopCh      chan struct{}
}

func NewChargeExpiryJob(db *gorm.DB, charges *repository.ChargeRepository, transitions *service.TransitionService, log *zap.Logger, interval, ttl time.Duration, batchSize int) *ChargeExpiryJob {
	return &ChargeExpiryJob{
		db:          db,
		charges:     charges,
		transitions: transitions,
		log:         log.Named("charge-expiry"),
		interval:    interval,
		ttl:         ttl,
		batchSize:   batchSize,
		stopCh:      make(chan struct{}),
	}
}

func (j *ChargeExpiryJob) Start(ctx context.Context) {
	j.log.Info("charge expiry job started", zap.Duration("ttl", j.ttl))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("charge expiry job stopping")
			return
		case <-j.stopCh:
			j.log.Info("charge expiry job stopped")
			return
		case <-ticker.C:
			j.expireStuckCharges(ctx)
		}
	}
}

func (j *ChargeExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *ChargeExpiryJob) expireStuckCharges(ctx context.Context) {
	charges, err := j.charges.FindStuckBefore(ctx, time.Now().Add(-j.ttl), j.batchSize)
	if err != nil {
		j.log.Error("stuck charge query failed", zap.Error(err))
		return
	}
	if len(charges) == 0 {
		return
	}

	expired := 0
	for _, charge := range charges {
		err := j.db.Transaction(func(tx *gorm.DB) error {
			if err := j.charges.UpdateStatus(ctx, tx, charge.ExternalID, charge.Status, model.ChargeExpired); err != nil {
				return err
			}
			return j.transitions.OfferPaymentTransition(ctx, tx, charge.ExternalID, charge.Status, model.ChargeExpired, time.Now())
		})
		if err != nil {
			// A concurrent writer moving the charge on is fine; anything
			// else needs eyes.
			j.log.Warn("charge expiry failed",
				zap.String("external_id", charge.ExternalID),
				zap.Error(err),
			)
			continue
		}
		expired++
	}

	j.log.Info("expired stuck charges", zap.Int("count", expired))
}
