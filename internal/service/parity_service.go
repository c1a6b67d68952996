package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/ledger"
	"github.com/alphagov/pay-connector-sub018/internal/model"

	"go.uber.org/zap"
)

// ParityResult is a first-class verdict, not an error. Mismatches are
// reported, never self-healed: the connector is authoritative, the ledger
// eventually consistent.
type ParityResult string

const (
	ParityResultMatched    ParityResult = "MATCHED"
	ParityResultMismatched ParityResult = "MISMATCHED"
	ParityResultSkipped    ParityResult = "SKIPPED"
)

// ParitySummary aggregates a range-scoped reconciliation run.
type ParitySummary struct {
	Checked    int `json:"checked"`
	Matched    int `json:"matched"`
	Mismatched int `json:"mismatched"`
	Skipped    int `json:"skipped"`
	Errored    int `json:"errored"`
}

type ParityService struct {
	charges ChargeStore
	refunds RefundStore
	ledger  LedgerClient
	metrics MetricsSink
	log     *zap.Logger
}

func NewParityService(charges ChargeStore, refunds RefundStore, ledgerClient LedgerClient, metrics MetricsSink, log *zap.Logger) *ParityService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &ParityService{
		charges: charges,
		refunds: refunds,
		ledger:  ledgerClient,
		metrics: metrics,
		log:     log.Named("parity"),
	}
}

// CheckCharge compares a local charge against the ledger's view of the
// same transaction. In-flight charges and charges the ledger has not seen
// yet are SKIPPED without consuming a retry budget.
func (s *ParityService) CheckCharge(ctx context.Context, charge *model.Charge) (ParityResult, error) {
	if !charge.Status.IsTerminal() {
		s.metrics.Inc(MetricParitySkipped)
		return ParityResultSkipped, nil
	}

	snapshot, err := s.ledger.GetTransaction(ctx, model.ResourcePayment, charge.ExternalID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.metrics.Inc(MetricParitySkipped)
			return ParityResultSkipped, nil
		}
		return "", fmt.Errorf("fetch ledger snapshot for charge %s: %w", charge.ExternalID, err)
	}

	mismatches := s.compareCharge(charge, snapshot)
	now := time.Now()

	if len(mismatches) == 0 {
		s.metrics.Inc(MetricParityMatched)
		if err := s.charges.UpdateParity(ctx, charge.ExternalID, model.ParityMatched, now); err != nil {
			return "", fmt.Errorf("stamp parity for charge %s: %w", charge.ExternalID, err)
		}
		return ParityResultMatched, nil
	}

	s.metrics.Inc(MetricParityMismatched)
	s.log.Warn("charge parity mismatch",
		zap.String("external_id", charge.ExternalID),
		zap.Strings("fields", mismatches),
	)
	if err := s.charges.UpdateParity(ctx, charge.ExternalID, model.ParityDataMismatch, now); err != nil {
		return "", fmt.Errorf("stamp parity for charge %s: %w", charge.ExternalID, err)
	}
	return ParityResultMismatched, nil
}

func (s *ParityService) compareCharge(charge *model.Charge, snapshot *ledger.TransactionSnapshot) []string {
	var mismatches []string
	if charge.Amount != snapshot.Amount {
		mismatches = append(mismatches, "amount")
	}
	if model.ExternalChargeStatus(charge.Status, nil).Status != snapshot.Status {
		mismatches = append(mismatches, "status")
	}
	if !charge.CreatedAt.Truncate(time.Second).Equal(snapshot.CreatedDate.Truncate(time.Second)) {
		mismatches = append(mismatches, "created_date")
	}
	if charge.CardBrand != snapshot.CardBrand {
		mismatches = append(mismatches, "card_brand")
	}
	if charge.LastDigitsCardNumber != snapshot.LastDigitsCardNumber {
		mismatches = append(mismatches, "last_digits_card_number")
	}
	return mismatches
}

// CheckRefund is the refund counterpart of CheckCharge.
func (s *ParityService) CheckRefund(ctx context.Context, refund *model.Refund) (ParityResult, error) {
	if !refund.Status.IsTerminal() {
		s.metrics.Inc(MetricParitySkipped)
		return ParityResultSkipped, nil
	}

	snapshot, err := s.ledger.GetTransaction(ctx, model.ResourceRefund, refund.ExternalID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.metrics.Inc(MetricParitySkipped)
			return ParityResultSkipped, nil
		}
		return "", fmt.Errorf("fetch ledger snapshot for refund %s: %w", refund.ExternalID, err)
	}

	var mismatches []string
	if refund.Amount != snapshot.Amount {
		mismatches = append(mismatches, "amount")
	}
	if model.ExternalRefundStatus(refund.Status).Status != snapshot.Status {
		mismatches = append(mismatches, "status")
	}
	if !refund.CreatedAt.Truncate(time.Second).Equal(snapshot.CreatedDate.Truncate(time.Second)) {
		mismatches = append(mismatches, "created_date")
	}

	now := time.Now()
	if len(mismatches) == 0 {
		s.metrics.Inc(MetricParityMatched)
		if err := s.refunds.UpdateParity(ctx, refund.ExternalID, model.ParityMatched, now); err != nil {
			return "", fmt.Errorf("stamp parity for refund %s: %w", refund.ExternalID, err)
		}
		return ParityResultMatched, nil
	}

	s.metrics.Inc(MetricParityMismatched)
	s.log.Warn("refund parity mismatch",
		zap.String("external_id", refund.ExternalID),
		zap.Strings("fields", mismatches),
	)
	if err := s.refunds.UpdateParity(ctx, refund.ExternalID, model.ParityDataMismatch, now); err != nil {
		return "", fmt.Errorf("stamp parity for refund %s: %w", refund.ExternalID, err)
	}
	return ParityResultMismatched, nil
}

// RunChargeRange reconciles every charge with an id in [startID, endID],
// optionally filtered by a prior parity outcome. One charge failing never
// aborts the rest of the range.
func (s *ParityService) RunChargeRange(ctx context.Context, startID, endID int64, parityStatus string) (ParitySummary, error) {
	charges, err := s.charges.FindByIDRange(ctx, startID, endID, parityStatus)
	if err != nil {
		return ParitySummary{}, fmt.Errorf("load charges %d-%d: %w", startID, endID, err)
	}

	var summary ParitySummary
	for _, charge := range charges {
		summary.Checked++
		result, err := s.CheckCharge(ctx, charge)
		if err != nil {
			summary.Errored++
			s.log.Error("parity check failed",
				zap.String("external_id", charge.ExternalID),
				zap.Error(err),
			)
			continue
		}
		switch result {
		case ParityResultMatched:
			summary.Matched++
		case ParityResultMismatched:
			summary.Mismatched++
		case ParityResultSkipped:
			summary.Skipped++
		}
	}
	return summary, nil
}
