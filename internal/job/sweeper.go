package job

import (
	"context"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/event"
	"github.com/alphagov/pay-connector-sub018/internal/ledger"
	"github.com/alphagov/pay-connector-sub018/internal/service"

	"go.uber.org/zap"
)

// JobLocker serialises a named batch job across connector instances.
// A nil locker disables locking (single-instance deployments and tests).
type JobLocker interface {
	TryLock(ctx context.Context, job string, ttl time.Duration) (func(), bool)
}

const (
	sweepBackoffMin = 30 * time.Second
	sweepBackoffMax = time.Hour
)

// Sweeper is the correctness backstop for the lossy in-memory queue: on an
// interval it finds emission records that were offered but never confirmed
// delivered, rebuilds each event from durable state and retries delivery.
// Failures push the record's retry deadline out proportionally to how long
// it has been outstanding, capped, so a down ledger is not hammered.
type Sweeper struct {
	emissions service.EmissionStore
	factory   *service.EventFactory
	ledger    service.LedgerClient
	locker    JobLocker
	log       *zap.Logger
	interval  time.Duration
	grace     time.Duration
	batchSize int
	stopCh    chan struct{}
}

func NewSweeper(emissions service.EmissionStore, factory *service.EventFactory, ledgerClient service.LedgerClient, locker JobLocker, log *zap.Logger, interval, grace time.Duration, batchSize int) *Sweeper {
	return &Sweeper{
		emissions: emissions,
		factory:   factory,
		ledger:    ledgerClient,
		locker:    locker,
		log:       log.Named("sweeper"),
		interval:  interval,
		grace:     grace,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info("sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return
		case <-s.stopCh:
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.runLocked(ctx)
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) runLocked(ctx context.Context) {
	if s.locker != nil {
		release, ok := s.locker.TryLock(ctx, "emission-sweep", s.interval)
		if !ok {
			return
		}
		defer release()
	}
	s.Sweep(ctx)
}

// Sweep runs one pass. Exported so tests and the admin surface can drive
// it directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	records, err := s.emissions.FindUnconfirmedOlderThan(ctx, time.Now().Add(-s.grace), s.batchSize)
	if err != nil {
		s.log.Error("sweep query failed", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}

	s.log.Info("sweeping unconfirmed emissions", zap.Int("count", len(records)))

	for _, rec := range records {
		// An earlier record in this pass may have delivered this one as a
		// derived event and confirmed it already.
		emitted, err := s.emissions.HasBeenEmitted(ctx, rec.Key())
		if err != nil {
			s.log.Error("emission lookup failed", zap.Error(err))
			continue
		}
		if emitted {
			continue
		}

		events, err := s.factory.RebuildFromRecord(ctx, rec)
		if err != nil {
			s.log.Error("rebuild from emission record failed",
				zap.String("external_id", rec.ResourceExternalID),
				zap.String("event_type", rec.EventType),
				zap.Error(err),
			)
			continue
		}

		toSend, err := s.filterUnsent(ctx, events)
		if err != nil {
			s.log.Error("emission lookup failed", zap.Error(err))
			continue
		}
		if len(toSend) == 0 {
			continue
		}

		if err := s.postAndConfirm(ctx, rec.ID, rec.OfferedAt, toSend); err != nil {
			continue
		}
	}
}

// filterUnsent gives every rebuilt event a durable row (derived events may
// not have one yet on this path) and drops any already confirmed delivered.
func (s *Sweeper) filterUnsent(ctx context.Context, events []event.Event) ([]event.Event, error) {
	toSend := make([]event.Event, 0, len(events))
	for i := range events {
		if err := s.emissions.RecordOffered(ctx, nil, recordFor(&events[i])); err != nil {
			return nil, err
		}
		emitted, err := s.emissions.HasBeenEmitted(ctx, keyFor(&events[i]))
		if err != nil {
			return nil, err
		}
		if !emitted {
			toSend = append(toSend, events[i])
		}
	}
	return toSend, nil
}

func (s *Sweeper) postAndConfirm(ctx context.Context, recordID int64, offeredAt time.Time, events []event.Event) error {
	if err := s.ledger.PostEvents(ctx, events); err != nil {
		deadline := time.Now().Add(backoffFor(time.Since(offeredAt)))
		if setErr := s.emissions.SetRetryDeadline(ctx, recordID, deadline); setErr != nil {
			s.log.Error("set retry deadline failed", zap.Error(setErr))
		}

		if ledger.IsRejected(err) {
			s.log.Error("ledger rejected swept event",
				zap.Int64("emission_record_id", recordID),
				zap.Error(err),
			)
		} else {
			s.log.Warn("swept delivery failed",
				zap.Int64("emission_record_id", recordID),
				zap.Time("do_not_retry_before", deadline),
				zap.Error(err),
			)
		}
		return err
	}

	now := time.Now()
	for i := range events {
		if err := s.emissions.RecordEmitted(ctx, keyFor(&events[i]), now); err != nil {
			s.log.Error("record emitted failed",
				zap.String("event_type", events[i].EventType),
				zap.Error(err),
			)
		}
	}
	return nil
}

// backoffFor grows the retry deadline with how long the record has been
// outstanding: the longer delivery has failed, the less often it is tried.
func backoffFor(outstanding time.Duration) time.Duration {
	d := outstanding / 4
	if d < sweepBackoffMin {
		return sweepBackoffMin
	}
	if d > sweepBackoffMax {
		return sweepBackoffMax
	}
	return d
}
