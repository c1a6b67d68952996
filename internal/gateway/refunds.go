package gateway

import (
	"github.com/alphagov/pay-connector-sub018/internal/model"
)

// Refund availability values advertised to the ledger.
const (
	RefundAvailable   = "available"
	RefundUnavailable = "unavailable"
	RefundFull        = "full"
	RefundPending     = "pending"
)

// RefundCalculator recomputes how much of a charge remains refundable from
// its current persisted state. Provider adapters may override this when a
// provider imposes its own refund window.
type RefundCalculator interface {
	Availability(charge *model.Charge, amountRefunded int64) (status string, amountAvailable int64)
}

// DefaultRefundCalculator treats a charge as refundable once captured, up
// to the captured amount less everything already counted against it.
type DefaultRefundCalculator struct{}

func NewDefaultRefundCalculator() *DefaultRefundCalculator {
	return &DefaultRefundCalculator{}
}

func (DefaultRefundCalculator) Availability(charge *model.Charge, amountRefunded int64) (string, int64) {
	switch charge.Status {
	case model.ChargeCaptured:
	case model.ChargeCaptureApproved, model.ChargeCaptureReady, model.ChargeCaptureSubmitted:
		return RefundPending, 0
	default:
		return RefundUnavailable, 0
	}

	available := charge.Amount - amountRefunded
	if available <= 0 {
		return RefundFull, 0
	}
	return RefundAvailable, available
}
