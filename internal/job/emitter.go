package job

import (
	"context"
	"errors"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/event"
	"github.com/alphagov/pay-connector-sub018/internal/ledger"
	"github.com/alphagov/pay-connector-sub018/internal/model"
	"github.com/alphagov/pay-connector-sub018/internal/queue"
	"github.com/alphagov/pay-connector-sub018/internal/service"

	"go.uber.org/zap"
)

// Notifier publishes user-facing event notifications for the external
// notification service to consume.
type Notifier interface {
	Publish(ctx context.Context, ev event.Event) error
}

// Emitter is the fresh-drain loop: it blocks on the in-memory queue,
// builds events for each eligible marker, delivers them to the ledger and
// confirms delivery in the emission ledger. Transport failures re-offer
// the marker with a doubling delay up to the attempt cap; the durable
// emission record stays unconfirmed for the sweep either way.
type Emitter struct {
	q           *queue.DelayQueue
	factory     *service.EventFactory
	emissions   service.EmissionStore
	ledger      service.LedgerClient
	notifier    Notifier
	log         *zap.Logger
	pollTimeout time.Duration
	retryBase   time.Duration
	stopCh      chan struct{}
}

func NewEmitter(q *queue.DelayQueue, factory *service.EventFactory, emissions service.EmissionStore, ledgerClient service.LedgerClient, notifier Notifier, log *zap.Logger) *Emitter {
	return &Emitter{
		q:           q,
		factory:     factory,
		emissions:   emissions,
		ledger:      ledgerClient,
		notifier:    notifier,
		log:         log.Named("emitter"),
		pollTimeout: 500 * time.Millisecond,
		retryBase:   time.Second,
		stopCh:      make(chan struct{}),
	}
}

func (w *Emitter) Start(ctx context.Context) {
	w.log.Info("emitter started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("emitter stopping")
			return
		case <-w.stopCh:
			w.log.Info("emitter stopped")
			return
		default:
		}

		marker, ok := w.q.Poll(ctx, w.pollTimeout)
		if !ok {
			continue
		}
		w.Process(ctx, marker)
	}
}

func (w *Emitter) Stop() {
	close(w.stopCh)
}

// Process handles one drained marker. Exported so tests can drive the
// loop deterministically.
func (w *Emitter) Process(ctx context.Context, marker queue.Marker) {
	events, err := w.factory.BuildEvents(ctx, marker)
	if err != nil {
		if errors.Is(err, service.ErrSourceRecordMissing) {
			w.log.Error("source record gone, dropping marker",
				zap.Int64("transition_event_id", marker.TransitionEventID),
				zap.Error(err),
			)
			return
		}
		w.log.Error("event build failed",
			zap.Int64("transition_event_id", marker.TransitionEventID),
			zap.Error(err),
		)
		return
	}

	// Derived events were never offered by the transition service, so the
	// ledger row is created here before delivery. Idempotent for the rest.
	for i := range events {
		rec := recordFor(&events[i])
		if err := w.emissions.RecordOffered(ctx, nil, rec); err != nil {
			w.log.Error("record offered failed", zap.Error(err))
			return
		}
	}

	toSend := make([]event.Event, 0, len(events))
	for i := range events {
		emitted, err := w.emissions.HasBeenEmitted(ctx, keyFor(&events[i]))
		if err != nil {
			w.log.Error("emission lookup failed", zap.Error(err))
			return
		}
		if !emitted {
			toSend = append(toSend, events[i])
		}
	}
	if len(toSend) == 0 {
		return
	}

	if err := w.ledger.PostEvents(ctx, toSend); err != nil {
		w.handleDeliveryFailure(marker, err)
		return
	}

	now := time.Now()
	for i := range toSend {
		if err := w.emissions.RecordEmitted(ctx, keyFor(&toSend[i]), now); err != nil {
			w.log.Error("record emitted failed",
				zap.String("event_type", toSend[i].EventType),
				zap.Error(err),
			)
			continue
		}
		w.notify(ctx, toSend[i])
	}

	w.log.Debug("events delivered",
		zap.String("external_id", marker.ResourceExternalID),
		zap.Int("count", len(toSend)),
	)
}

func (w *Emitter) handleDeliveryFailure(marker queue.Marker, err error) {
	if ledger.IsRejected(err) {
		w.log.Error("ledger rejected event, not retrying",
			zap.String("external_id", marker.ResourceExternalID),
			zap.String("event_type", marker.EventType),
			zap.Error(err),
		)
		return
	}

	attempts := marker.Attempts + 1
	if attempts >= queue.MaxAttempts {
		w.log.Error("delivery attempts exhausted, leaving for sweep",
			zap.String("external_id", marker.ResourceExternalID),
			zap.String("event_type", marker.EventType),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return
	}

	delay := w.retryBase << uint(marker.Attempts)
	marker.Attempts = attempts
	marker.ReadyAt = time.Now().Add(delay)
	w.q.Offer(marker)

	w.log.Warn("delivery failed, re-offered",
		zap.String("external_id", marker.ResourceExternalID),
		zap.String("event_type", marker.EventType),
		zap.Int("attempts", attempts),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
}

func (w *Emitter) notify(ctx context.Context, ev event.Event) {
	if w.notifier == nil || !event.NotifiesUser(ev.EventType) {
		return
	}
	if err := w.notifier.Publish(ctx, ev); err != nil {
		// Notifications are best effort and never fail the emission.
		w.log.Warn("notification publish failed",
			zap.String("external_id", ev.ResourceExternalID),
			zap.String("event_type", ev.EventType),
			zap.Error(err),
		)
	}
}

func keyFor(ev *event.Event) model.EmissionKey {
	return model.EmissionKey{
		ResourceType:       ev.ResourceType,
		ResourceExternalID: ev.ResourceExternalID,
		EventType:          ev.EventType,
		EventDate:          ev.Timestamp,
	}
}

func recordFor(ev *event.Event) *model.EmissionRecord {
	return &model.EmissionRecord{
		ResourceType:       ev.ResourceType,
		ResourceExternalID: ev.ResourceExternalID,
		EventType:          ev.EventType,
		EventDate:          ev.Timestamp,
		OfferedAt:          time.Now(),
	}
}
