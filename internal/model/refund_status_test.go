package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionRefund(t *testing.T) {
	legal := []struct {
		from, to RefundStatus
	}{
		{RefundCreated, RefundSubmitted},
		{RefundCreated, RefundError},
		{RefundSubmitted, Refunded},
		{RefundSubmitted, RefundError},
	}
	for _, tc := range legal {
		assert.True(t, CanTransitionRefund(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct {
		from, to RefundStatus
	}{
		{RefundCreated, Refunded},
		{Refunded, RefundError},
		{RefundError, RefundSubmitted},
		{RefundSubmitted, RefundCreated},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransitionRefund(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestRefundStatusTerminal(t *testing.T) {
	assert.True(t, Refunded.IsTerminal())
	assert.True(t, RefundError.IsTerminal())
	assert.False(t, RefundCreated.IsTerminal())
	assert.False(t, RefundSubmitted.IsTerminal())

	assert.True(t, Refunded.IsExpungeable())
	assert.False(t, RefundSubmitted.IsExpungeable())
}

func TestExternalRefundStatus(t *testing.T) {
	assert.Equal(t, ExternalSubmitted, ExternalRefundStatus(RefundCreated).Status)
	assert.Equal(t, ExternalSubmitted, ExternalRefundStatus(RefundSubmitted).Status)

	success := ExternalRefundStatus(Refunded)
	assert.Equal(t, ExternalSuccess, success.Status)
	assert.True(t, success.Finished)

	failed := ExternalRefundStatus(RefundError)
	assert.Equal(t, ExternalError, failed.Status)
	assert.True(t, failed.Finished)
	assert.Equal(t, "P0050", failed.Code)
}
