package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransactionStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		allowed  bool
	}{
		{TransactionStatusInitiated, TransactionStatusPaid, true},
		{TransactionStatusInitiated, TransactionStatusCancelled, true},
		{TransactionStatusInitiated, TransactionStatusRefunded, false},
		{TransactionStatusPaid, TransactionStatusRefunded, true},
		{TransactionStatusPaid, TransactionStatusCancelled, false},
		{TransactionStatusPaid, TransactionStatusInitiated, false},
		{TransactionStatusCancelled, TransactionStatusInitiated, false},
		{TransactionStatusCancelled, TransactionStatusPaid, false},
		{TransactionStatusCancelled, TransactionStatusRefunded, true},
		{TransactionStatusRefunded, TransactionStatusPaid, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.True(t, TransactionStatusRefunded.IsTerminal())
	assert.False(t, TransactionStatusPaid.IsTerminal())
}

func TestDisputeStatusTransitions(t *testing.T) {
	assert.True(t, DisputeStatusOpen.CanTransitionTo(DisputeStatusInReview))
	assert.True(t, DisputeStatusInReview.CanTransitionTo(DisputeStatusResolved))
	assert.False(t, DisputeStatusInReview.CanTransitionTo(DisputeStatusOpen))
	assert.False(t, DisputeStatusResolved.CanTransitionTo(DisputeStatusRejected))
	assert.False(t, DisputeStatusRejected.CanTransitionTo(DisputeStatusResolved))
	assert.True(t, DisputeStatusInReview.IsActive())
	assert.False(t, DisputeStatusResolved.IsActive())
}

func TestParseRejectsUnknownValues(t *testing.T) {
	_, err := ParseTransactionStatus("paid")
	assert.Error(t, err)

	got, err := ParseDisputePriority("high")
	assert.NoError(t, err)
	assert.Equal(t, DisputePriorityHigh, got)

	_, err = ParseOutboxEventType("order_created")
	assert.Error(t, err)
	assert.True(t, EventTransactionPaid.IsValid())
}
