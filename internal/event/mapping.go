package event

import (
	"github.com/alphagov/pay-connector-sub018/internal/model"
)

type chargeEdge struct {
	From model.ChargeStatus
	To   model.ChargeStatus
}

type refundEdge struct {
	From model.RefundStatus
	To   model.RefundStatus
}

// paymentEventTypes maps committed charge transitions to the event they
// produce. Edges that only exist for internal bookkeeping (moving into
// AUTHORISATION_READY, CAPTURE_APPROVED, CAPTURE_READY) are deliberately
// absent: offering them is a no-op, not an error. Charge creation is the
// edge from the zero-value status.
var paymentEventTypes = map[chargeEdge]string{
	{"", model.ChargeCreated}:                                         PaymentCreated,
	{model.ChargeCreated, model.ChargeEnteringCardDetails}:            PaymentStarted,
	{model.ChargeAuthorisationReady, model.ChargeAuthorisationOK}:     AuthorisationSucceeded,
	{model.ChargeAuthorisationReady, model.ChargeAuthorisationDenied}: AuthorisationRejected,
	{model.ChargeAuthorisationReady, model.ChargeAuthorisationError}:  AuthorisationErrored,
	{model.ChargeCaptureReady, model.ChargeCaptureSubmitted}:          CaptureSubmitted,
	{model.ChargeCaptureSubmitted, model.ChargeCaptured}:              CaptureConfirmed,
	{model.ChargeCaptureReady, model.ChargeCaptureError}:              CaptureErrored,
	{model.ChargeCaptureSubmitted, model.ChargeCaptureError}:          CaptureErrored,
	{model.ChargeCreated, model.ChargeExpired}:                        PaymentExpired,
	{model.ChargeEnteringCardDetails, model.ChargeExpired}:            PaymentExpired,
	{model.ChargeAuthorisationOK, model.ChargeExpired}:                PaymentExpired,
	{model.ChargeEnteringCardDetails, model.ChargeUserCancelled}:      CancelledByUser,
	{model.ChargeAuthorisationOK, model.ChargeUserCancelled}:          CancelledByUser,
	{model.ChargeCreated, model.ChargeSystemCancelled}:                CancelledByService,
	{model.ChargeEnteringCardDetails, model.ChargeSystemCancelled}:    CancelledByService,
	{model.ChargeAuthorisationOK, model.ChargeSystemCancelled}:        CancelledByService,
}

var refundEventTypesByUser = map[refundEdge]string{
	{"", model.RefundCreated}:                    RefundCreatedByUser,
	{model.RefundCreated, model.RefundSubmitted}: RefundSubmitted,
	{model.RefundSubmitted, model.Refunded}:      RefundSucceeded,
	{model.RefundCreated, model.RefundError}:     RefundError,
	{model.RefundSubmitted, model.RefundError}:   RefundError,
}

// PaymentEventFor resolves the event type for a charge transition. The
// second return is false when the transition produces no event.
func PaymentEventFor(from, to model.ChargeStatus) (string, bool) {
	t, ok := paymentEventTypes[chargeEdge{From: from, To: to}]
	return t, ok
}

// RefundEventFor resolves the event type for a refund transition. Refund
// creation distinguishes the initiating actor.
func RefundEventFor(from, to model.RefundStatus, refundedBy string) (string, bool) {
	t, ok := refundEventTypesByUser[refundEdge{From: from, To: to}]
	if !ok {
		return "", false
	}
	if t == RefundCreatedByUser && refundedBy == model.RefundedByService {
		return RefundCreatedByService, true
	}
	return t, true
}

// DerivesRefundAvailability reports whether an event type must be followed
// by a REFUND_AVAILABILITY_UPDATED event, keeping the refundable-amount
// projection in step with every change that can affect it.
func DerivesRefundAvailability(eventType string) bool {
	switch eventType {
	case CaptureConfirmed, RefundCreatedByUser, RefundCreatedByService, RefundError:
		return true
	}
	return false
}

// NotifiesUser reports whether an event type results in a user-facing
// notification message.
func NotifiesUser(eventType string) bool {
	switch eventType {
	case CaptureConfirmed, RefundSucceeded, RefundError:
		return true
	}
	return false
}
