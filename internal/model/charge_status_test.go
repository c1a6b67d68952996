package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionCharge(t *testing.T) {
	t.Run("allows every listed edge", func(t *testing.T) {
		for from, allowed := range ValidChargeTransitions {
			for _, to := range allowed {
				assert.True(t, CanTransitionCharge(from, to), "%s -> %s should be legal", from, to)
			}
		}
	})

	t.Run("rejects unlisted edges", func(t *testing.T) {
		cases := []struct {
			from, to ChargeStatus
		}{
			{ChargeCreated, ChargeCaptured},
			{ChargeCreated, ChargeAuthorisationOK},
			{ChargeCaptured, ChargeCreated},
			{ChargeAuthorisationDenied, ChargeAuthorisationOK},
			{ChargeEnteringCardDetails, ChargeCaptureApproved},
			{ChargeCaptureSubmitted, ChargeCaptureReady},
		}
		for _, tc := range cases {
			assert.False(t, CanTransitionCharge(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
		}
	})

	t.Run("self transitions are illegal", func(t *testing.T) {
		all := []ChargeStatus{
			ChargeCreated, ChargeEnteringCardDetails, ChargeAuthorisationReady,
			ChargeAuthorisationOK, ChargeAuthorisationDenied, ChargeAuthorisationError,
			ChargeCaptureApproved, ChargeCaptureReady, ChargeCaptureSubmitted,
			ChargeCaptured, ChargeCaptureError, ChargeExpired,
			ChargeUserCancelled, ChargeSystemCancelled,
		}
		for _, s := range all {
			assert.False(t, CanTransitionCharge(s, s))
		}
	})
}

func TestChargeStatusTerminal(t *testing.T) {
	terminal := []ChargeStatus{
		ChargeCaptured, ChargeAuthorisationDenied, ChargeAuthorisationError,
		ChargeCaptureError, ChargeExpired, ChargeUserCancelled, ChargeSystemCancelled,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
		assert.True(t, s.IsExpungeable(), "%s should be expungeable", s)
		// Terminal means no outbound edge to anything at all.
		for to := range ValidChargeTransitions {
			assert.False(t, CanTransitionCharge(s, to))
		}
	}

	nonTerminal := []ChargeStatus{
		ChargeCreated, ChargeEnteringCardDetails, ChargeAuthorisationReady,
		ChargeAuthorisationOK, ChargeCaptureApproved, ChargeCaptureReady,
		ChargeCaptureSubmitted,
	}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
		assert.False(t, s.IsExpungeable(), "%s should not be expungeable", s)
	}
}

func TestExternalChargeStatus(t *testing.T) {
	t.Run("maps internal statuses to public states", func(t *testing.T) {
		cases := []struct {
			status   ChargeStatus
			external string
			finished bool
			code     string
		}{
			{ChargeCreated, ExternalCreated, false, ""},
			{ChargeEnteringCardDetails, ExternalStarted, false, ""},
			{ChargeAuthorisationReady, ExternalStarted, false, ""},
			{ChargeAuthorisationOK, ExternalSubmitted, false, ""},
			{ChargeCaptureApproved, ExternalSuccess, true, ""},
			{ChargeCaptured, ExternalSuccess, true, ""},
			{ChargeAuthorisationDenied, ExternalDeclined, true, "P0010"},
			{ChargeExpired, ExternalTimedOut, true, "P0020"},
			{ChargeUserCancelled, ExternalCancelled, true, "P0030"},
			{ChargeSystemCancelled, ExternalCancelled, true, "P0040"},
			{ChargeAuthorisationError, ExternalError, true, "P0050"},
			{ChargeCaptureError, ExternalError, true, "P0050"},
		}
		for _, tc := range cases {
			state := ExternalChargeStatus(tc.status, nil)
			assert.Equal(t, tc.external, state.Status, "status for %s", tc.status)
			assert.Equal(t, tc.finished, state.Finished, "finished for %s", tc.status)
			assert.Equal(t, tc.code, state.Code, "code for %s", tc.status)
		}
	})

	t.Run("can_retry only surfaces on declined", func(t *testing.T) {
		canRetry := true

		state := ExternalChargeStatus(ChargeAuthorisationDenied, &canRetry)
		assert.NotNil(t, state.CanRetry)
		assert.True(t, *state.CanRetry)

		state = ExternalChargeStatus(ChargeCaptured, &canRetry)
		assert.Nil(t, state.CanRetry)

		state = ExternalChargeStatus(ChargeAuthorisationDenied, nil)
		assert.Nil(t, state.CanRetry)
	})

	t.Run("unknown status degrades to error", func(t *testing.T) {
		state := ExternalChargeStatus(ChargeStatus("BOGUS"), nil)
		assert.Equal(t, ExternalError, state.Status)
		assert.True(t, state.Finished)
	})
}

func TestInvalidTransitionError(t *testing.T) {
	err := NewInvalidTransitionError("CAPTURED", "CREATED")
	assert.EqualError(t, err, "invalid status transition: CAPTURED -> CREATED")
}
