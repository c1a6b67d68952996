package job

import (
	"context"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/service"

	"go.uber.org/zap"
)

// ExpungerJob runs the expunge batch on a schedule, serialised across
// instances by the job lock. The same batch is also reachable through the
// admin endpoint for out-of-band runs.
type ExpungerJob struct {
	expunge   *service.ExpungeService
	locker    JobLocker
	log       *zap.Logger
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
}

func NewExpungerJob(expunge *service.ExpungeService, locker JobLocker, log *zap.Logger, interval time.Duration, batchSize int) *ExpungerJob {
	return &ExpungerJob{
		expunge:   expunge,
		locker:    locker,
		log:       log.Named("expunger"),
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

func (j *ExpungerJob) Start(ctx context.Context) {
	j.log.Info("expunger started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("expunger stopping")
			return
		case <-j.stopCh:
			j.log.Info("expunger stopped")
			return
		case <-ticker.C:
			j.run(ctx)
		}
	}
}

func (j *ExpungerJob) Stop() {
	close(j.stopCh)
}

func (j *ExpungerJob) run(ctx context.Context) {
	if j.locker != nil {
		release, ok := j.locker.TryLock(ctx, "expunge", j.interval)
		if !ok {
			return
		}
		defer release()
	}

	summary, err := j.expunge.Expunge(ctx, j.batchSize)
	if err != nil {
		j.log.Error("expunge batch failed", zap.Error(err))
		return
	}
	if summary.Candidates > 0 {
		j.log.Info("expunge batch finished",
			zap.Int("candidates", summary.Candidates),
			zap.Int("expunged", summary.Expunged),
			zap.Int("mismatched", summary.Mismatched),
		)
	}
}
