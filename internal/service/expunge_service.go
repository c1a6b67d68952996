package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ExpungeSummary aggregates one expunge batch.
type ExpungeSummary struct {
	Candidates int `json:"candidates"`
	Expunged   int `json:"expunged"`
	Mismatched int `json:"mismatched"`
	Skipped    int `json:"skipped"`
	Errored    int `json:"errored"`
}

// ExpungeService purges sensitive fields from charges and refunds that are
// terminal, aged past the configured minimum, and parity-confirmed against
// the ledger. Records that keep failing parity are reported and left
// alone — a diverged record must never be purged while still disputed.
type ExpungeService struct {
	charges       ChargeStore
	refunds       RefundStore
	parity        *ParityService
	metrics       MetricsSink
	log           *zap.Logger
	minimumAge    time.Duration
	excludeWindow time.Duration
}

func NewExpungeService(charges ChargeStore, refunds RefundStore, parity *ParityService, metrics MetricsSink, log *zap.Logger, minimumAge, excludeWindow time.Duration) *ExpungeService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &ExpungeService{
		charges:       charges,
		refunds:       refunds,
		parity:        parity,
		metrics:       metrics,
		log:           log.Named("expunge"),
		minimumAge:    minimumAge,
		excludeWindow: excludeWindow,
	}
}

// Expunge runs one batch over charges and refunds. Per-item failures are
// isolated; the batch always continues.
func (s *ExpungeService) Expunge(ctx context.Context, batchSize int) (ExpungeSummary, error) {
	var summary ExpungeSummary
	now := time.Now()
	olderThan := now.Add(-s.minimumAge)
	checkedBefore := now.Add(-s.excludeWindow)

	charges, err := s.charges.FindExpungeCandidates(ctx, olderThan, checkedBefore, batchSize)
	if err != nil {
		return summary, fmt.Errorf("find charge candidates: %w", err)
	}
	for _, charge := range charges {
		summary.Candidates++
		// The prior stamp is read before CheckCharge writes a fresh one;
		// its mere existence marks this as a repeat attempt.
		hadPriorCheck := charge.ParityCheckedAt != nil

		result, err := s.parity.CheckCharge(ctx, charge)
		if err != nil {
			summary.Errored++
			s.log.Error("expunge parity check failed",
				zap.String("external_id", charge.ExternalID),
				zap.Error(err),
			)
			continue
		}

		switch result {
		case ParityResultMatched:
			if err := s.charges.ClearSensitiveFields(ctx, charge.ExternalID); err != nil {
				summary.Errored++
				s.log.Error("expunge failed",
					zap.String("external_id", charge.ExternalID),
					zap.Error(err),
				)
				continue
			}
			summary.Expunged++
			s.metrics.Inc(MetricChargesExpunged)
			s.log.Info("charge expunged", zap.String("external_id", charge.ExternalID))
		case ParityResultMismatched:
			summary.Mismatched++
			if hadPriorCheck {
				s.log.Error("charge parity check still failing, needs manual attention",
					zap.String("external_id", charge.ExternalID),
				)
			} else {
				s.log.Warn("charge failed parity check, will retry after exclusion window",
					zap.String("external_id", charge.ExternalID),
				)
			}
		case ParityResultSkipped:
			summary.Skipped++
		}
	}

	refunds, err := s.refunds.FindExpungeCandidates(ctx, olderThan, checkedBefore, batchSize)
	if err != nil {
		return summary, fmt.Errorf("find refund candidates: %w", err)
	}
	for _, refund := range refunds {
		summary.Candidates++
		hadPriorCheck := refund.ParityCheckedAt != nil

		result, err := s.parity.CheckRefund(ctx, refund)
		if err != nil {
			summary.Errored++
			s.log.Error("expunge parity check failed",
				zap.String("external_id", refund.ExternalID),
				zap.Error(err),
			)
			continue
		}

		switch result {
		case ParityResultMatched:
			if err := s.refunds.ClearSensitiveFields(ctx, refund.ExternalID); err != nil {
				summary.Errored++
				s.log.Error("expunge failed",
					zap.String("external_id", refund.ExternalID),
					zap.Error(err),
				)
				continue
			}
			summary.Expunged++
			s.log.Info("refund expunged", zap.String("external_id", refund.ExternalID))
		case ParityResultMismatched:
			summary.Mismatched++
			if hadPriorCheck {
				s.log.Error("refund parity check still failing, needs manual attention",
					zap.String("external_id", refund.ExternalID),
				)
			} else {
				s.log.Warn("refund failed parity check, will retry after exclusion window",
					zap.String("external_id", refund.ExternalID),
				)
			}
		case ParityResultSkipped:
			summary.Skipped++
		}
	}

	return summary, nil
}
