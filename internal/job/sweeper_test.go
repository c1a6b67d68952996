package job

import (
	"context"
	"testing"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/event"
	"github.com/alphagov/pay-connector-sub018/internal/gateway"
	"github.com/alphagov/pay-connector-sub018/internal/ledger"
	"github.com/alphagov/pay-connector-sub018/internal/model"
	"github.com/alphagov/pay-connector-sub018/internal/queue"
	"github.com/alphagov/pay-connector-sub018/internal/service"
	"github.com/alphagov/pay-connector-sub018/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sweeperFixture struct {
	charges   *testutil.Charges
	refunds   *testutil.Refunds
	emissions *testutil.Emissions
	ledger    *testutil.Ledger
	sweeper   *Sweeper
}

func newSweeperFixture() *sweeperFixture {
	f := &sweeperFixture{
		charges:   testutil.NewCharges(),
		refunds:   testutil.NewRefunds(),
		emissions: testutil.NewEmissions(),
		ledger:    testutil.NewLedger(),
	}
	log := zap.NewNop()
	factory := service.NewEventFactory(testutil.NewTransitions(), f.charges, f.refunds, gateway.NewDefaultRefundCalculator(), log)
	f.sweeper = NewSweeper(f.emissions, factory, f.ledger, nil, log, time.Minute, 30*time.Second, 100)
	return f
}

// offerRecord plants an unconfirmed emission record as if the in-memory
// marker had been lost offeredAgo in the past.
func (f *sweeperFixture) offerRecord(t *testing.T, eventType string, offeredAgo time.Duration) *model.EmissionRecord {
	t.Helper()
	rec := &model.EmissionRecord{
		ResourceType:       model.ResourcePayment,
		ResourceExternalID: "CH1",
		EventType:          eventType,
		EventDate:          time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		OfferedAt:          time.Now().Add(-offeredAgo),
	}
	require.NoError(t, f.emissions.RecordOffered(context.Background(), nil, rec))
	return f.emissions.Get(rec.Key())
}

func TestSweepDeliversLostEmission(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture()
	f.charges.Add(&model.Charge{ExternalID: "CH1", Amount: 1000, Status: model.ChargeCreated})

	rec := f.offerRecord(t, event.PaymentCreated, 2*time.Minute)

	f.sweeper.Sweep(ctx)

	assert.Equal(t, 1, f.ledger.PostedCount())
	require.NotNil(t, rec.EmittedAt)

	posted := f.ledger.AllPosted()
	require.Len(t, posted, 1)
	assert.Equal(t, event.PaymentCreated, posted[0].EventType)
	assert.Equal(t, rec.EventDate, posted[0].Timestamp)
}

// A capture whose delivery failed leaves both the primary row and its
// derived availability row unconfirmed. Sweeping the primary re-derives
// and delivers the availability event alongside it, so the derived row's
// own record must then be recognised as confirmed and never re-sent.
func TestSweepDeliversDerivedEventOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture()
	f.charges.Add(&model.Charge{ExternalID: "CH1", Amount: 1000, Status: model.ChargeCaptured})

	primary := f.offerRecord(t, event.CaptureConfirmed, 2*time.Minute)
	derived := f.offerRecord(t, event.RefundAvailabilityUpdated, 2*time.Minute)

	f.sweeper.Sweep(ctx)

	counts := make(map[string]int)
	for _, ev := range f.ledger.AllPosted() {
		counts[ev.EventType]++
	}
	assert.Equal(t, 1, counts[event.CaptureConfirmed])
	assert.Equal(t, 1, counts[event.RefundAvailabilityUpdated], "derived event must be delivered exactly once per pass")
	assert.Equal(t, 1, f.ledger.PostedCount(), "the confirmed derived row must not trigger a second delivery")

	assert.NotNil(t, primary.EmittedAt)
	assert.NotNil(t, derived.EmittedAt)
}

// A process restart loses every queued marker. The durable emission
// record written alongside the transition is enough for the sweep alone to
// finish delivery.
func TestSweepCompletesDeliveryAfterRestart(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture()
	f.charges.Add(&model.Charge{ExternalID: "CH1", Amount: 1000, Status: model.ChargeCreated})

	occurredAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	offers := service.NewTransitionService(queue.New(), testutil.NewTransitions(), f.emissions, nil, zap.NewNop())
	require.NoError(t, offers.OfferPaymentTransition(ctx, nil, "CH1", "", model.ChargeCreated, occurredAt))

	// The queue that held the marker is gone with the old process; only the
	// emission record survives. Age it past the grace window.
	rec := f.emissions.Get(model.EmissionKey{
		ResourceType:       model.ResourcePayment,
		ResourceExternalID: "CH1",
		EventType:          event.PaymentCreated,
		EventDate:          occurredAt,
	})
	require.NotNil(t, rec)
	rec.OfferedAt = time.Now().Add(-time.Minute)

	f.sweeper.Sweep(ctx)

	assert.Equal(t, 1, f.ledger.PostedCount())
	assert.NotNil(t, rec.EmittedAt)
}

func TestSweepLeavesFreshRecordsAlone(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture()
	f.charges.Add(&model.Charge{ExternalID: "CH1", Amount: 1000, Status: model.ChargeCreated})

	// Inside the grace window: the emitter may still be working on it.
	rec := f.offerRecord(t, event.PaymentCreated, time.Second)

	f.sweeper.Sweep(ctx)

	assert.Equal(t, 0, f.ledger.PostedCount())
	assert.Nil(t, rec.EmittedAt)
}

func TestSweepBacksOffOnTransportFailure(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture()
	f.charges.Add(&model.Charge{ExternalID: "CH1", Amount: 1000, Status: model.ChargeCreated})
	f.ledger.PostErrs = []error{
		&ledger.TransportError{StatusCode: 503},
		&ledger.TransportError{StatusCode: 503},
	}

	rec := f.offerRecord(t, event.PaymentCreated, time.Minute)

	// First sweep fails and pushes the retry deadline out by the clamped
	// minimum backoff.
	before := time.Now()
	f.sweeper.Sweep(ctx)
	assert.Equal(t, 0, f.ledger.PostedCount())
	require.NotNil(t, rec.DoNotRetryBefore)
	firstDeadline := *rec.DoNotRetryBefore
	assert.WithinDuration(t, before.Add(30*time.Second), firstDeadline, 2*time.Second)

	// While the deadline holds, the record is not even attempted.
	f.sweeper.Sweep(ctx)
	assert.Equal(t, 0, f.ledger.PostedCount())

	// Deadline elapses; the next failure sets a fresh, later deadline.
	past := time.Now().Add(-time.Second)
	rec.DoNotRetryBefore = &past
	f.sweeper.Sweep(ctx)
	require.NotNil(t, rec.DoNotRetryBefore)
	assert.True(t, rec.DoNotRetryBefore.After(firstDeadline))
	assert.Nil(t, rec.EmittedAt)

	// Third attempt succeeds and confirms the emission.
	past = time.Now().Add(-time.Second)
	rec.DoNotRetryBefore = &past
	f.sweeper.Sweep(ctx)
	assert.Equal(t, 1, f.ledger.PostedCount())
	require.NotNil(t, rec.EmittedAt)
}

func TestSweepRejectedRecordStillBacksOff(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture()
	f.charges.Add(&model.Charge{ExternalID: "CH1", Amount: 1000, Status: model.ChargeCreated})
	f.ledger.PostErrs = []error{&ledger.RejectedError{StatusCode: 422, Body: "bad"}}

	rec := f.offerRecord(t, event.PaymentCreated, time.Minute)

	f.sweeper.Sweep(ctx)

	assert.Nil(t, rec.EmittedAt)
	assert.NotNil(t, rec.DoNotRetryBefore)
}

func TestSweepSkipsUnrebuildableRecord(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture()

	// No charge behind the record: rebuild fails, the sweep moves on.
	rec := f.offerRecord(t, event.PaymentCreated, time.Minute)

	f.sweeper.Sweep(ctx)

	assert.Equal(t, 0, f.ledger.PostedCount())
	assert.Nil(t, rec.EmittedAt)
}

func TestBackoffFor(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoffFor(time.Minute), "short outages clamp to the minimum")
	assert.Equal(t, 150*time.Second, backoffFor(10*time.Minute), "a quarter of the outstanding age")
	assert.Equal(t, time.Hour, backoffFor(10*time.Hour), "long outages clamp to the maximum")
}
