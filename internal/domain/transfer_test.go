package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TransferStatus
		want     bool
	}{
		{StatusPendingStaffReview, StatusVerified, true},
		{StatusPendingStaffReview, StatusDeclined, true},
		{StatusPendingStaffReview, StatusArchived, true},
		{StatusPendingStaffReview, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusRefunded, false},
		{StatusCompleted, StatusRefunded, true},
		{StatusCompleted, StatusFailed, false},
		{StatusVerified, StatusDeclined, false},
		{StatusFailed, StatusProcessing, false},
		{StatusRefunded, StatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []TransferStatus{StatusVerified, StatusDeclined, StatusArchived, StatusFailed, StatusRefunded} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []TransferStatus{StatusPendingStaffReview, StatusProcessing, StatusCompleted} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, StatusProcessing, InitialStatus(KindPurchase))
	for _, k := range []TransferKind{KindSameBank, KindLocal, KindInternational} {
		assert.Equal(t, StatusPendingStaffReview, InitialStatus(k))
	}
}

func TestKindAndStatusValidity(t *testing.T) {
	assert.True(t, KindInternational.Valid())
	assert.False(t, TransferKind("WIRE").Valid())
	assert.True(t, StatusRefunded.Valid())
	assert.False(t, TransferStatus("SETTLED").Valid())
}

func TestTotalDebit(t *testing.T) {
	assert.EqualValues(t, 101530, Transfer{Amount: 100000, Fee: 1530}.TotalDebit())
}
