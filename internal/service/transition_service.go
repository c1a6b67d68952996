package service

import (
	"context"
	"fmt"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/event"
	"github.com/alphagov/pay-connector-sub018/internal/model"
	"github.com/alphagov/pay-connector-sub018/internal/queue"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultInitialDelay gives the enclosing database transaction time to
// commit before any consumer can drain the marker. Nothing reads the queue
// sooner, which is what keeps rolled-back transitions from being emitted.
const DefaultInitialDelay = 200 * time.Millisecond

// TransitionService is called by payment-processing code once a status
// write is durably part of a transaction. For transitions that map to an
// event it appends the durable change record, queues an in-memory marker,
// and writes an offered-only emission record — the marker is lossy, the
// record is the sweep's backstop.
type TransitionService struct {
	q            *queue.DelayQueue
	transitions  TransitionEventStore
	emissions    EmissionStore
	metrics      MetricsSink
	log          *zap.Logger
	initialDelay time.Duration
}

func NewTransitionService(q *queue.DelayQueue, transitions TransitionEventStore, emissions EmissionStore, metrics MetricsSink, log *zap.Logger) *TransitionService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &TransitionService{
		q:            q,
		transitions:  transitions,
		emissions:    emissions,
		metrics:      metrics,
		log:          log.Named("transition"),
		initialDelay: DefaultInitialDelay,
	}
}

// WithInitialDelay overrides the drain delay. Used by tests.
func (s *TransitionService) WithInitialDelay(d time.Duration) *TransitionService {
	s.initialDelay = d
	return s
}

// OfferPaymentTransition records that a charge moved from one status to
// another at occurredAt, inside the caller's transaction. Charge creation
// is offered with an empty from status. A (from, to) pair with no mapped
// event type is a deliberate no-op.
func (s *TransitionService) OfferPaymentTransition(ctx context.Context, tx *gorm.DB, chargeExternalID string, from, to model.ChargeStatus, occurredAt time.Time) error {
	eventType, ok := event.PaymentEventFor(from, to)
	if !ok {
		s.metrics.Inc(MetricTransitionsUnmapped)
		return nil
	}
	return s.offer(ctx, tx, model.ResourcePayment, chargeExternalID, string(from), string(to), eventType, occurredAt)
}

// OfferRefundTransition is the refund counterpart; refundedBy picks the
// creation event variant for the initiating actor.
func (s *TransitionService) OfferRefundTransition(ctx context.Context, tx *gorm.DB, refundExternalID string, from, to model.RefundStatus, refundedBy string, occurredAt time.Time) error {
	eventType, ok := event.RefundEventFor(from, to, refundedBy)
	if !ok {
		s.metrics.Inc(MetricTransitionsUnmapped)
		return nil
	}
	return s.offer(ctx, tx, model.ResourceRefund, refundExternalID, string(from), string(to), eventType, occurredAt)
}

func (s *TransitionService) offer(ctx context.Context, tx *gorm.DB, resourceType, externalID, from, to, eventType string, occurredAt time.Time) error {
	rec := &model.TransitionEvent{
		ResourceType:       resourceType,
		ResourceExternalID: externalID,
		FromStatus:         from,
		ToStatus:           to,
		OccurredAt:         occurredAt,
	}
	if err := s.transitions.Append(ctx, tx, rec); err != nil {
		return fmt.Errorf("append transition event: %w", err)
	}

	emission := &model.EmissionRecord{
		ResourceType:       resourceType,
		ResourceExternalID: externalID,
		EventType:          eventType,
		EventDate:          occurredAt,
		OfferedAt:          time.Now(),
	}
	if err := s.emissions.RecordOffered(ctx, tx, emission); err != nil {
		return fmt.Errorf("record emission offered: %w", err)
	}

	s.q.Offer(queue.Marker{
		TransitionEventID:  rec.ID,
		ResourceType:       resourceType,
		ResourceExternalID: externalID,
		EventType:          eventType,
		ReadyAt:            time.Now().Add(s.initialDelay),
	})

	s.metrics.Inc(MetricTransitionsOffered)
	s.log.Debug("transition offered",
		zap.String("resource_type", resourceType),
		zap.String("external_id", externalID),
		zap.String("event_type", eventType),
		zap.String("from", from),
		zap.String("to", to),
	)
	return nil
}
