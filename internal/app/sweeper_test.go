package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/fees"
	"github.com/transfa/transfer-service/internal/store"
)

func TestSettlementSweeper_FailsStaleProcessingPurchases(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	memory := store.NewMemoryRepository()
	memory.SetClock(fixedClock(start))
	seedAccount(t, memory, testOwner, testAccount, "ZAR", 10000)

	// Every debit loses its race, so the purchase stays PROCESSING.
	svc := NewService(newFlakyRepo(memory, 100), fees.NewCalculator(nil), WithClock(fixedClock(start.Add(20*time.Minute))))
	_, err := svc.CreatePurchase(context.Background(), testOwner, purchaseRequest("stuck-purchase", 2500))
	require.ErrorIs(t, err, domain.ErrBalanceConflict)

	completed, err := NewService(memory, nil).CreatePurchase(context.Background(), testOwner, purchaseRequest("", 100))
	require.NoError(t, err)

	sweeper := NewSettlementSweeper(svc, "", 15*time.Minute, nil)
	assert.Equal(t, 1, sweeper.RunOnce(context.Background()))

	stuck, err := memory.FindTransferByIdempotencyKey(context.Background(), testOwner, "stuck-purchase")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stuck.Status)
	require.NotNil(t, stuck.FailureReason)
	assert.Equal(t, domain.FailureSettlementTimeout, *stuck.FailureReason)
	assert.Equal(t, int64(9900), balanceOf(t, memory, testAccount))

	untouched, err := svc.GetTransfer(context.Background(), testOwner, completed.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, untouched.Status)

	assert.Zero(t, sweeper.RunOnce(context.Background()))
}

func TestSettlementSweeper_IgnoresRecentPurchases(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	memory := store.NewMemoryRepository()
	memory.SetClock(fixedClock(start))
	seedAccount(t, memory, testOwner, testAccount, "ZAR", 10000)

	svc := NewService(newFlakyRepo(memory, 100), nil, WithClock(fixedClock(start.Add(5*time.Minute))))
	_, err := svc.CreatePurchase(context.Background(), testOwner, purchaseRequest("recent-purchase", 2500))
	require.ErrorIs(t, err, domain.ErrBalanceConflict)

	sweeper := NewSettlementSweeper(svc, "", 15*time.Minute, nil)
	assert.Zero(t, sweeper.RunOnce(context.Background()))
}

func TestSettlementSweeper_StartRejectsBadSchedule(t *testing.T) {
	sweeper := NewSettlementSweeper(NewService(store.NewMemoryRepository(), nil), "every now and then", time.Minute, nil)
	assert.Error(t, sweeper.Start())
}
