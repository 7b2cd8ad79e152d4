package store

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/transfer-service/internal/domain"
)

func seedAccount(t *testing.T, repo *MemoryRepository, owner, number string, balance int64) {
	t.Helper()
	require.NoError(t, repo.CreateAccount(context.Background(), &domain.Account{
		ID:       uuid.New(),
		OwnerID:  owner,
		Number:   number,
		Currency: "ZAR",
		Balance:  balance,
	}))
}

func newTransfer(owner string, key *string) *domain.Transfer {
	return &domain.Transfer{
		ID:             uuid.New(),
		OwnerID:        owner,
		Kind:           domain.KindLocal,
		SourceAccount:  "1000000001",
		Amount:         500,
		Currency:       "ZAR",
		Fee:            1501,
		IdempotencyKey: key,
		Status:         domain.StatusPendingStaffReview,
		Beneficiary: domain.BeneficiarySnapshot{
			Type:          domain.BeneficiaryLocal,
			Name:          "Thandi",
			AccountNumber: "12345678",
			BankCode:      "ABSA",
		},
	}
}

func TestMemoryRepository_DuplicateAccountNumber(t *testing.T) {
	repo := NewMemoryRepository()
	seedAccount(t, repo, "owner-1", "1000000001", 0)

	err := repo.CreateAccount(context.Background(), &domain.Account{ID: uuid.New(), OwnerID: "owner-2", Number: "1000000001", Currency: "ZAR"})
	assert.ErrorIs(t, err, ErrDuplicateAccountNumber)
}

func TestMemoryRepository_FindAccountIsOwnerScoped(t *testing.T) {
	repo := NewMemoryRepository()
	seedAccount(t, repo, "owner-1", "1000000001", 0)

	_, err := repo.FindAccount(context.Background(), "owner-2", "1000000001")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	account, err := repo.FindAccount(context.Background(), "owner-1", "1000000001")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", account.OwnerID)
}

func TestMemoryRepository_DecrementBalanceGuard(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedAccount(t, repo, "owner-1", "1000000001", 500)

	balance, err := repo.DecrementBalance(ctx, "owner-1", "1000000001", 400)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	_, err = repo.DecrementBalance(ctx, "owner-1", "1000000001", 400)
	assert.ErrorIs(t, err, ErrConditionNotMet)

	_, err = repo.DecrementBalance(ctx, "owner-2", "1000000001", 1)
	assert.ErrorIs(t, err, ErrConditionNotMet)
}

func TestMemoryRepository_IncrementBalanceOverflow(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedAccount(t, repo, "owner-1", "1000000001", math.MaxInt64-5)

	_, err := repo.IncrementBalance(ctx, "1000000001", 6)
	assert.ErrorIs(t, err, ErrBalanceOverflow)

	account, err := repo.FindAccountByNumber(ctx, "1000000001")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-5), account.Balance)

	balance, err := repo.IncrementBalance(ctx, "1000000001", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), balance)
}

func TestMemoryRepository_ConcurrentDecrementsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedAccount(t, repo, "owner-1", "1000000001", 1000)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.DecrementBalance(ctx, "owner-1", "1000000001", 70); err == nil {
				mu.Lock()
				succeeded += 70
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	account, err := repo.FindAccount(ctx, "owner-1", "1000000001")
	require.NoError(t, err)
	assert.Equal(t, int64(1000)-succeeded, account.Balance)
	assert.GreaterOrEqual(t, account.Balance, int64(0))
	assert.LessOrEqual(t, succeeded, int64(1000))
}

func TestMemoryRepository_IdempotencyKeyIsUniquePerOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	key := "abc123xyz0"

	require.NoError(t, repo.InsertTransfer(ctx, newTransfer("owner-1", &key)))
	assert.ErrorIs(t, repo.InsertTransfer(ctx, newTransfer("owner-1", &key)), ErrDuplicateIdempotencyKey)
	assert.NoError(t, repo.InsertTransfer(ctx, newTransfer("owner-2", &key)))

	// Transfers without a key are never deduplicated.
	assert.NoError(t, repo.InsertTransfer(ctx, newTransfer("owner-1", nil)))
	assert.NoError(t, repo.InsertTransfer(ctx, newTransfer("owner-1", nil)))

	found, err := repo.FindTransferByIdempotencyKey(ctx, "owner-1", key)
	require.NoError(t, err)
	assert.Equal(t, key, *found.IdempotencyKey)

	all, err := repo.ListTransfers(ctx, "owner-1", domain.ListTransfersFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryRepository_ReturnedTransfersAreCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	transfer := newTransfer("owner-1", nil)
	require.NoError(t, repo.InsertTransfer(ctx, transfer))

	transfer.Beneficiary.Name = "mutated after insert"
	found, err := repo.GetTransfer(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Thandi", found.Beneficiary.Name)

	found.Beneficiary.Name = "mutated after read"
	again, err := repo.GetTransfer(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Thandi", again.Beneficiary.Name)
}

func TestMemoryRepository_TransitionIsGuarded(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	transfer := newTransfer("owner-1", nil)
	require.NoError(t, repo.InsertTransfer(ctx, transfer))

	updated, err := repo.TransitionTransferStatus(ctx, transfer.ID, domain.StatusPendingStaffReview, domain.StatusVerified, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, updated.Status)

	_, err = repo.TransitionTransferStatus(ctx, transfer.ID, domain.StatusPendingStaffReview, domain.StatusDeclined, nil)
	assert.ErrorIs(t, err, ErrConditionNotMet)

	_, err = repo.TransitionTransferStatus(ctx, uuid.New(), domain.StatusPendingStaffReview, domain.StatusDeclined, nil)
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestMemoryRepository_TransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedAccount(t, repo, "owner-1", "1000000001", 500)
	transfer := newTransfer("owner-1", nil)
	transfer.Status = domain.StatusProcessing
	require.NoError(t, repo.InsertTransfer(ctx, transfer))

	boom := errors.New("boom")
	err := repo.WithinTransaction(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.TransitionTransferStatus(ctx, transfer.ID, domain.StatusProcessing, domain.StatusCompleted, nil); err != nil {
			return err
		}
		if _, err := tx.DecrementBalance(ctx, "owner-1", "1000000001", 200); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	account, err := repo.FindAccount(ctx, "owner-1", "1000000001")
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.Balance)

	found, err := repo.GetTransfer(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, found.Status)
}

func TestMemoryRepository_TransactionCommits(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedAccount(t, repo, "owner-1", "1000000001", 500)

	err := repo.WithinTransaction(ctx, func(ctx context.Context, tx Repository) error {
		_, err := tx.DecrementBalance(ctx, "owner-1", "1000000001", 200)
		return err
	})
	require.NoError(t, err)

	account, err := repo.FindAccount(ctx, "owner-1", "1000000001")
	require.NoError(t, err)
	assert.Equal(t, int64(300), account.Balance)
}

func TestMemoryRepository_ArchivedBeneficiaryFreesDestination(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	details := domain.LocalDetails{AccountNumber: "12345678", BankCode: "ABSA"}

	first := &domain.Beneficiary{ID: uuid.New(), OwnerID: "owner-1", Name: "Thandi", Details: details}
	require.NoError(t, repo.CreateBeneficiary(ctx, first))

	dup := &domain.Beneficiary{ID: uuid.New(), OwnerID: "owner-1", Name: "Thandi again", Details: details}
	assert.ErrorIs(t, repo.CreateBeneficiary(ctx, dup), ErrDuplicateBeneficiary)

	require.NoError(t, repo.ArchiveBeneficiary(ctx, "owner-1", first.ID))
	assert.NoError(t, repo.CreateBeneficiary(ctx, dup))

	_, err := repo.FindBeneficiary(ctx, "owner-1", first.ID, "")
	assert.ErrorIs(t, err, ErrBeneficiaryNotFound)
}

func TestMemoryRepository_FindStaleTransfers(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return base })

	old := newTransfer("owner-1", nil)
	old.Status = domain.StatusProcessing
	require.NoError(t, repo.InsertTransfer(ctx, old))

	repo.SetClock(func() time.Time { return base.Add(time.Hour) })
	fresh := newTransfer("owner-1", nil)
	fresh.Status = domain.StatusProcessing
	require.NoError(t, repo.InsertTransfer(ctx, fresh))

	stale, err := repo.FindStaleTransfers(ctx, domain.StatusProcessing, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}
