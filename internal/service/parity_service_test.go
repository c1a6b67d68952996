package service

import (
	"context"
	"testing"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/ledger"
	"github.com/alphagov/pay-connector-sub018/internal/model"
	"github.com/alphagov/pay-connector-sub018/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type parityFixture struct {
	charges *testutil.Charges
	refunds *testutil.Refunds
	ledger  *testutil.Ledger
	metrics *CounterMetrics
	svc     *ParityService
}

func newParityFixture() *parityFixture {
	f := &parityFixture{
		charges: testutil.NewCharges(),
		refunds: testutil.NewRefunds(),
		ledger:  testutil.NewLedger(),
		metrics: NewCounterMetrics(),
	}
	f.svc = NewParityService(f.charges, f.refunds, f.ledger, f.metrics, zap.NewNop())
	return f
}

func capturedCharge(createdAt time.Time) *model.Charge {
	return &model.Charge{
		ExternalID:           "CH1",
		Amount:               1000,
		Status:               model.ChargeCaptured,
		CardBrand:            "visa",
		LastDigitsCardNumber: "4242",
		CreatedAt:            createdAt,
	}
}

func matchingSnapshot(createdAt time.Time) *ledger.TransactionSnapshot {
	return &ledger.TransactionSnapshot{
		TransactionID:        "CH1",
		Amount:               1000,
		Status:               model.ExternalSuccess,
		CreatedDate:          createdAt,
		CardBrand:            "visa",
		LastDigitsCardNumber: "4242",
	}
}

func TestCheckCharge(t *testing.T) {
	ctx := context.Background()
	createdAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("matched stamps MATCHED", func(t *testing.T) {
		f := newParityFixture()
		charge := capturedCharge(createdAt)
		f.charges.Add(charge)
		f.ledger.SetSnapshot(model.ResourcePayment, "CH1", matchingSnapshot(createdAt))

		result, err := f.svc.CheckCharge(ctx, charge)
		require.NoError(t, err)
		assert.Equal(t, ParityResultMatched, result)
		assert.Equal(t, model.ParityMatched, charge.ParityCheckStatus)
		require.NotNil(t, charge.ParityCheckedAt)
		assert.Equal(t, int64(1), f.metrics.Snapshot()[MetricParityMatched])
	})

	t.Run("sub-second clock skew still matches", func(t *testing.T) {
		f := newParityFixture()
		charge := capturedCharge(createdAt.Add(300 * time.Millisecond))
		f.charges.Add(charge)
		f.ledger.SetSnapshot(model.ResourcePayment, "CH1", matchingSnapshot(createdAt.Add(700*time.Millisecond)))

		result, err := f.svc.CheckCharge(ctx, charge)
		require.NoError(t, err)
		assert.Equal(t, ParityResultMatched, result)
	})

	t.Run("amount divergence stamps DATA_MISMATCH", func(t *testing.T) {
		f := newParityFixture()
		charge := capturedCharge(createdAt)
		f.charges.Add(charge)
		snap := matchingSnapshot(createdAt)
		snap.Amount = 999
		f.ledger.SetSnapshot(model.ResourcePayment, "CH1", snap)

		result, err := f.svc.CheckCharge(ctx, charge)
		require.NoError(t, err)
		assert.Equal(t, ParityResultMismatched, result)
		assert.Equal(t, model.ParityDataMismatch, charge.ParityCheckStatus)
		assert.Equal(t, int64(1), f.metrics.Snapshot()[MetricParityMismatched])
	})

	t.Run("status divergence is a mismatch", func(t *testing.T) {
		f := newParityFixture()
		charge := capturedCharge(createdAt)
		f.charges.Add(charge)
		snap := matchingSnapshot(createdAt)
		snap.Status = model.ExternalError
		f.ledger.SetSnapshot(model.ResourcePayment, "CH1", snap)

		result, err := f.svc.CheckCharge(ctx, charge)
		require.NoError(t, err)
		assert.Equal(t, ParityResultMismatched, result)
	})

	t.Run("in-flight charge is skipped without a ledger call", func(t *testing.T) {
		f := newParityFixture()
		charge := &model.Charge{ExternalID: "CH1", Status: model.ChargeAuthorisationReady}
		f.charges.Add(charge)

		result, err := f.svc.CheckCharge(ctx, charge)
		require.NoError(t, err)
		assert.Equal(t, ParityResultSkipped, result)
		assert.Empty(t, charge.ParityCheckStatus)
		assert.Equal(t, int64(1), f.metrics.Snapshot()[MetricParitySkipped])
	})

	t.Run("not yet in ledger is skipped, not failed", func(t *testing.T) {
		f := newParityFixture()
		charge := capturedCharge(createdAt)
		f.charges.Add(charge)

		result, err := f.svc.CheckCharge(ctx, charge)
		require.NoError(t, err)
		assert.Equal(t, ParityResultSkipped, result)
		assert.Nil(t, charge.ParityCheckedAt)
	})

	t.Run("transport failure is an error", func(t *testing.T) {
		f := newParityFixture()
		charge := capturedCharge(createdAt)
		f.charges.Add(charge)
		f.ledger.GetErr = &ledger.TransportError{StatusCode: 502}

		_, err := f.svc.CheckCharge(ctx, charge)
		assert.Error(t, err)
	})
}

func TestCheckRefund(t *testing.T) {
	ctx := context.Background()
	createdAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("matched", func(t *testing.T) {
		f := newParityFixture()
		refund := &model.Refund{
			ExternalID: "RF1",
			Amount:     400,
			Status:     model.Refunded,
			CreatedAt:  createdAt,
		}
		f.refunds.Add(refund)
		f.ledger.SetSnapshot(model.ResourceRefund, "RF1", &ledger.TransactionSnapshot{
			TransactionID: "RF1",
			Amount:        400,
			Status:        model.ExternalSuccess,
			CreatedDate:   createdAt,
		})

		result, err := f.svc.CheckRefund(ctx, refund)
		require.NoError(t, err)
		assert.Equal(t, ParityResultMatched, result)
		assert.Equal(t, model.ParityMatched, refund.ParityCheckStatus)
	})

	t.Run("pending refund is skipped", func(t *testing.T) {
		f := newParityFixture()
		refund := &model.Refund{ExternalID: "RF1", Status: model.RefundSubmitted}
		f.refunds.Add(refund)

		result, err := f.svc.CheckRefund(ctx, refund)
		require.NoError(t, err)
		assert.Equal(t, ParityResultSkipped, result)
	})
}

func TestRunChargeRange(t *testing.T) {
	ctx := context.Background()
	createdAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	f := newParityFixture()

	matched := capturedCharge(createdAt)
	matched.ID = 1
	f.charges.Add(matched)
	f.ledger.SetSnapshot(model.ResourcePayment, "CH1", matchingSnapshot(createdAt))

	mismatched := &model.Charge{
		ID: 2, ExternalID: "CH2", Amount: 500,
		Status: model.ChargeExpired, CreatedAt: createdAt,
	}
	f.charges.Add(mismatched)
	f.ledger.SetSnapshot(model.ResourcePayment, "CH2", &ledger.TransactionSnapshot{
		TransactionID: "CH2", Amount: 999,
		Status: model.ExternalTimedOut, CreatedDate: createdAt,
	})

	inFlight := &model.Charge{ID: 3, ExternalID: "CH3", Status: model.ChargeCreated, CreatedAt: createdAt}
	f.charges.Add(inFlight)

	outOfRange := capturedCharge(createdAt)
	outOfRange.ID = 50
	outOfRange.ExternalID = "CH50"
	f.charges.Add(outOfRange)

	summary, err := f.svc.RunChargeRange(ctx, 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Checked)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, summary.Mismatched)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Errored)
}
