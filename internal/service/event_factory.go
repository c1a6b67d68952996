package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/event"
	"github.com/alphagov/pay-connector-sub018/internal/gateway"
	"github.com/alphagov/pay-connector-sub018/internal/model"
	"github.com/alphagov/pay-connector-sub018/internal/queue"

	"go.uber.org/zap"
)

// ErrSourceRecordMissing means the transition row a marker points at is
// gone. There is nothing meaningful to retry; the marker is dropped.
var ErrSourceRecordMissing = errors.New("transition source record missing")

// ErrUnmappedEventType means no builder is registered for an event type.
// This is a configuration defect, not a runtime retry case.
var ErrUnmappedEventType = errors.New("no builder registered for event type")

type builderFunc func(f *EventFactory, ctx context.Context, externalID, eventType string, ts time.Time) (event.Event, error)

// eventBuilders is the closed registry of event constructors. Adding an
// event type without a builder here fails loudly the first time the type
// is offered.
var eventBuilders = map[string]builderFunc{
	event.PaymentCreated:         buildPaymentCreated,
	event.PaymentStarted:         buildPaymentStatus,
	event.AuthorisationSucceeded: buildAuthorisation,
	event.AuthorisationRejected:  buildAuthorisation,
	event.AuthorisationErrored:   buildAuthorisation,
	event.CaptureSubmitted:       buildPaymentStatus,
	event.CaptureConfirmed:       buildCaptureConfirmed,
	event.CaptureErrored:         buildPaymentStatus,
	event.PaymentExpired:         buildPaymentStatus,
	event.CancelledByUser:        buildPaymentStatus,
	event.CancelledByService:     buildPaymentStatus,
	event.RefundCreatedByUser:    buildRefund,
	event.RefundCreatedByService: buildRefund,
	event.RefundSubmitted:        buildRefund,
	event.RefundSucceeded:        buildRefund,
	event.RefundError:            buildRefund,
}

// EventFactory turns queued markers and durable emission records into
// domain events. It always re-reads the persisted change so events built
// after further transitions still describe the one that was committed.
type EventFactory struct {
	transitions TransitionEventStore
	charges     ChargeStore
	refunds     RefundStore
	calculator  gateway.RefundCalculator
	log         *zap.Logger
}

func NewEventFactory(transitions TransitionEventStore, charges ChargeStore, refunds RefundStore, calculator gateway.RefundCalculator, log *zap.Logger) *EventFactory {
	return &EventFactory{
		transitions: transitions,
		charges:     charges,
		refunds:     refunds,
		calculator:  calculator,
		log:         log.Named("event-factory"),
	}
}

// BuildEvents constructs the events for a drained marker: the primary
// event for the transition plus, where the type requires it, a derived
// refund-availability event.
func (f *EventFactory) BuildEvents(ctx context.Context, m queue.Marker) ([]event.Event, error) {
	rec, err := f.transitions.GetByID(ctx, m.TransitionEventID)
	if err != nil {
		return nil, fmt.Errorf("%w: id=%d", ErrSourceRecordMissing, m.TransitionEventID)
	}
	return f.buildAll(ctx, m.EventType, rec.ResourceType, rec.ResourceExternalID, rec.OccurredAt)
}

// RebuildFromRecord reconstructs the event for an unconfirmed emission
// record during the sweep, after the in-memory marker was lost.
func (f *EventFactory) RebuildFromRecord(ctx context.Context, rec *model.EmissionRecord) ([]event.Event, error) {
	return f.buildAll(ctx, rec.EventType, rec.ResourceType, rec.ResourceExternalID, rec.EventDate)
}

func (f *EventFactory) buildAll(ctx context.Context, eventType, resourceType, externalID string, ts time.Time) ([]event.Event, error) {
	if eventType == event.RefundAvailabilityUpdated {
		// Derived type swept from its own emission record.
		ev, err := f.buildRefundAvailability(ctx, resourceType, externalID, ts)
		if err != nil {
			return nil, err
		}
		return []event.Event{ev}, nil
	}

	build, ok := eventBuilders[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnmappedEventType, eventType)
	}

	primary, err := build(f, ctx, externalID, eventType, ts)
	if err != nil {
		return nil, err
	}
	events := []event.Event{primary}

	if event.DerivesRefundAvailability(eventType) {
		chargeExternalID := externalID
		if resourceType == model.ResourceRefund {
			refund, err := f.refunds.GetByExternalID(ctx, externalID)
			if err != nil {
				return nil, fmt.Errorf("%w: refund %s", ErrSourceRecordMissing, externalID)
			}
			chargeExternalID = refund.ChargeExternalID
		}
		derived, err := f.buildRefundAvailability(ctx, model.ResourcePayment, chargeExternalID, ts)
		if err != nil {
			return nil, err
		}
		events = append(events, derived)
	}

	return events, nil
}

func (f *EventFactory) buildRefundAvailability(ctx context.Context, resourceType, chargeExternalID string, ts time.Time) (event.Event, error) {
	charge, err := f.charges.GetByExternalID(ctx, chargeExternalID)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: charge %s", ErrSourceRecordMissing, chargeExternalID)
	}
	refunded, err := f.refunds.SumRefunded(ctx, chargeExternalID)
	if err != nil {
		return event.Event{}, fmt.Errorf("sum refunded for %s: %w", chargeExternalID, err)
	}
	status, available := f.calculator.Availability(charge, refunded)
	return event.Event{
		ResourceType:       model.ResourcePayment,
		ResourceExternalID: chargeExternalID,
		EventType:          event.RefundAvailabilityUpdated,
		Timestamp:          ts,
		Details: event.RefundAvailabilityDetails{
			RefundStatus:    status,
			AmountAvailable: available,
			AmountRefunded:  refunded,
		},
	}, nil
}

func buildPaymentCreated(f *EventFactory, ctx context.Context, externalID, _ string, ts time.Time) (event.Event, error) {
	charge, err := f.charges.GetByExternalID(ctx, externalID)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: charge %s", ErrSourceRecordMissing, externalID)
	}
	return event.Event{
		ResourceType:       model.ResourcePayment,
		ResourceExternalID: externalID,
		EventType:          event.PaymentCreated,
		Timestamp:          ts,
		Details: event.PaymentCreatedDetails{
			Amount:           charge.Amount,
			Description:      charge.Description,
			Reference:        charge.Reference,
			GatewayAccountID: charge.GatewayAccountID,
			Provider:         charge.Provider,
		},
	}, nil
}

func buildPaymentStatus(f *EventFactory, ctx context.Context, externalID, eventType string, ts time.Time) (event.Event, error) {
	charge, err := f.charges.GetByExternalID(ctx, externalID)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: charge %s", ErrSourceRecordMissing, externalID)
	}
	external := model.ExternalChargeStatus(charge.Status, charge.CanRetry)
	return event.Event{
		ResourceType:       model.ResourcePayment,
		ResourceExternalID: externalID,
		EventType:          eventType,
		Timestamp:          ts,
		Details: event.PaymentStatusDetails{
			Status: external.Status,
			Code:   external.Code,
			Reason: external.Message,
		},
	}, nil
}

func buildAuthorisation(f *EventFactory, ctx context.Context, externalID, eventType string, ts time.Time) (event.Event, error) {
	charge, err := f.charges.GetByExternalID(ctx, externalID)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: charge %s", ErrSourceRecordMissing, externalID)
	}
	return event.Event{
		ResourceType:       model.ResourcePayment,
		ResourceExternalID: externalID,
		EventType:          eventType,
		Timestamp:          ts,
		Details: event.AuthorisationDetails{
			ProviderTransactionID: charge.ProviderTransactionID,
			CardBrand:             charge.CardBrand,
			LastDigitsCardNumber:  charge.LastDigitsCardNumber,
			CardholderName:        charge.CardholderName,
			CanRetry:              charge.CanRetry,
		},
	}, nil
}

func buildCaptureConfirmed(f *EventFactory, ctx context.Context, externalID, _ string, ts time.Time) (event.Event, error) {
	charge, err := f.charges.GetByExternalID(ctx, externalID)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: charge %s", ErrSourceRecordMissing, externalID)
	}
	return event.Event{
		ResourceType:       model.ResourcePayment,
		ResourceExternalID: externalID,
		EventType:          event.CaptureConfirmed,
		Timestamp:          ts,
		Details: event.CaptureConfirmedDetails{
			CapturedDate:          ts,
			ProviderTransactionID: charge.ProviderTransactionID,
		},
	}, nil
}

func buildRefund(f *EventFactory, ctx context.Context, externalID, eventType string, ts time.Time) (event.Event, error) {
	refund, err := f.refunds.GetByExternalID(ctx, externalID)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: refund %s", ErrSourceRecordMissing, externalID)
	}
	return event.Event{
		ResourceType:             model.ResourceRefund,
		ResourceExternalID:       externalID,
		ParentResourceExternalID: refund.ChargeExternalID,
		EventType:                eventType,
		Timestamp:                ts,
		Details: event.RefundDetails{
			Amount:         refund.Amount,
			UserExternalID: refund.UserExternalID,
			RefundedBy:     refund.RefundedBy,
		},
	}, nil
}
