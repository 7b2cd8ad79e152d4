package app

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

func TestCreateTransfer_LocalInlineBeneficiary(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
	svc, publisher := newTestService(t, repo)

	result, err := svc.CreateTransfer(context.Background(), testOwner, localTransferRequest(""))
	require.NoError(t, err)
	assert.False(t, result.Idempotent)

	transfer := result.Transfer
	assert.Equal(t, domain.StatusPendingStaffReview, transfer.Status)
	assert.Equal(t, int64(1800), transfer.Fee)
	assert.Nil(t, transfer.FX)
	assert.Nil(t, transfer.Beneficiary.BeneficiaryID)
	assert.Equal(t, "FNB", transfer.Beneficiary.BankCode)
	assert.False(t, transfer.CreatedAt.IsZero())

	// Reviewed transfers are not debited at submission.
	assert.Equal(t, int64(500000), balanceOf(t, repo, testAccount))

	saved, err := svc.ListBeneficiaries(context.Background(), testOwner, "")
	require.NoError(t, err)
	assert.Empty(t, saved, "inline details must not be persisted")

	assert.Equal(t, []string{domain.EventTransferCreated}, publisher.routingKeys())
}

func TestCreateTransfer_InternationalCarriesFX(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
	svc, _ := newTestService(t, repo)

	b, err := svc.CreateBeneficiary(context.Background(), testOwner, internationalInput("Jane"))
	require.NoError(t, err)

	result, err := svc.CreateTransfer(context.Background(), testOwner, domain.TransferRequest{
		Kind:           domain.KindInternational,
		Amount:         100000,
		Currency:       "zar",
		TargetCurrency: "USD",
		SourceAccount:  testAccount,
		Beneficiary:    domain.SavedBeneficiary{ID: b.ID},
	})
	require.NoError(t, err)

	transfer := result.Transfer
	assert.Equal(t, int64(8000), transfer.Fee)
	require.NotNil(t, transfer.FX)
	assert.Equal(t, "0.055", transfer.FX.Rate.String())
	assert.Equal(t, int64(5500), transfer.FX.ConvertedAmount)
	assert.Equal(t, "USD", transfer.FX.TargetCurrency)
	require.NotNil(t, transfer.Beneficiary.BeneficiaryID)
	assert.Equal(t, b.ID, *transfer.Beneficiary.BeneficiaryID)
}

func TestCreateTransfer_IdempotentReplay(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
	svc, publisher := newTestService(t, repo)

	first, err := svc.CreateTransfer(context.Background(), testOwner, localTransferRequest("abc123xyz0"))
	require.NoError(t, err)
	second, err := svc.CreateTransfer(context.Background(), testOwner, localTransferRequest("abc123xyz0"))
	require.NoError(t, err)

	assert.True(t, second.Idempotent)
	assert.Equal(t, first.Transfer.ID, second.Transfer.ID)

	transfers, err := svc.ListTransfers(context.Background(), testOwner, domain.ListTransfersFilter{})
	require.NoError(t, err)
	assert.Len(t, transfers, 1)
	assert.Len(t, publisher.routingKeys(), 1)
}

func TestCreateTransfer_IdempotencyKeyIsPerOwner(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
	seedAccount(t, repo, otherOwner, "1000000002", "ZAR", 500000)
	svc, _ := newTestService(t, repo)

	first, err := svc.CreateTransfer(context.Background(), testOwner, localTransferRequest("shared-key-1"))
	require.NoError(t, err)

	req := localTransferRequest("shared-key-1")
	req.SourceAccount = "1000000002"
	second, err := svc.CreateTransfer(context.Background(), otherOwner, req)
	require.NoError(t, err)

	assert.False(t, second.Idempotent)
	assert.NotEqual(t, first.Transfer.ID, second.Transfer.ID)
}

func TestCreateTransfer_ConcurrentSameKeyCreatesOneRecord(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
	svc, _ := newTestService(t, repo)

	const callers = 8
	ids := make([]uuid.UUID, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.CreateTransfer(context.Background(), testOwner, localTransferRequest("concurrent-key"))
			if assert.NoError(t, err) {
				ids[i] = result.Transfer.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	transfers, err := svc.ListTransfers(context.Background(), testOwner, domain.ListTransfersFilter{})
	require.NoError(t, err)
	assert.Len(t, transfers, 1)
}

func TestCreateTransfer_WithoutKeyIsNeverDeduplicated(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
	svc, _ := newTestService(t, repo)

	first, err := svc.CreateTransfer(context.Background(), testOwner, localTransferRequest(""))
	require.NoError(t, err)
	second, err := svc.CreateTransfer(context.Background(), testOwner, localTransferRequest(""))
	require.NoError(t, err)

	assert.NotEqual(t, first.Transfer.ID, second.Transfer.ID)
	assert.False(t, second.Idempotent)
}

func TestCreateTransfer_ValidationFailuresLeaveNoRecord(t *testing.T) {
	foreign, _ := uuid.NewRandom()

	tests := []struct {
		name   string
		owner  string
		mutate func(*domain.TransferRequest)
		want   error
	}{
		{
			name:  "unknown saved beneficiary",
			owner: testOwner,
			mutate: func(r *domain.TransferRequest) {
				r.Beneficiary = domain.SavedBeneficiary{ID: foreign}
			},
			want: domain.ErrBeneficiaryNotFound,
		},
		{
			name:   "source account of another owner",
			owner:  otherOwner,
			mutate: func(r *domain.TransferRequest) {},
			want:   domain.ErrSourceAccountNotFound,
		},
		{
			name:  "currency differs from account",
			owner: testOwner,
			mutate: func(r *domain.TransferRequest) {
				r.Currency = "USD"
			},
			want: domain.ErrCurrencyMismatch,
		},
		{
			name:  "local transfer with foreign target",
			owner: testOwner,
			mutate: func(r *domain.TransferRequest) {
				r.TargetCurrency = "USD"
			},
			want: domain.ErrUnsupportedFxPair,
		},
		{
			name:  "international without target",
			owner: testOwner,
			mutate: func(r *domain.TransferRequest) {
				r.Kind = domain.KindInternational
				r.Beneficiary = domain.InlineBeneficiary{Input: internationalInput("Jane")}
			},
			want: domain.ErrTargetCurrencyRequired,
		},
		{
			name:  "international to unknown pair",
			owner: testOwner,
			mutate: func(r *domain.TransferRequest) {
				r.Kind = domain.KindInternational
				r.TargetCurrency = "JPY"
				r.Beneficiary = domain.InlineBeneficiary{Input: internationalInput("Jane")}
			},
			want: domain.ErrUnsupportedFxPair,
		},
		{
			name:  "local kind with international details",
			owner: testOwner,
			mutate: func(r *domain.TransferRequest) {
				r.Beneficiary = domain.InlineBeneficiary{Input: internationalInput("Jane")}
			},
			want: domain.ErrInvalidBeneficiary,
		},
		{
			name:  "short idempotency key",
			owner: testOwner,
			mutate: func(r *domain.TransferRequest) {
				r.IdempotencyKey = "short"
			},
			want: domain.ErrInvalidIdempotencyKey,
		},
		{
			name:  "amount above maximum",
			owner: testOwner,
			mutate: func(r *domain.TransferRequest) {
				r.Amount = domain.MaxAmount + 1
			},
			want: domain.ErrInvalidAmount,
		},
		{
			name:  "international amount near int64 limit",
			owner: testOwner,
			mutate: func(r *domain.TransferRequest) {
				r.Kind = domain.KindInternational
				r.Amount = math.MaxInt64
				r.TargetCurrency = "USD"
				r.Beneficiary = domain.InlineBeneficiary{Input: internationalInput("Jane")}
			},
			want: domain.ErrInvalidAmount,
		},
		{
			name:  "purchase kind",
			owner: testOwner,
			mutate: func(r *domain.TransferRequest) {
				r.Kind = domain.KindPurchase
			},
			want: domain.ErrUnsupportedKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := store.NewMemoryRepository()
			seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
			svc, publisher := newTestService(t, repo)

			req := localTransferRequest("")
			tt.mutate(&req)
			_, err := svc.CreateTransfer(context.Background(), tt.owner, req)
			assert.ErrorIs(t, err, tt.want)

			transfers, listErr := svc.ListTransfers(context.Background(), tt.owner, domain.ListTransfersFilter{})
			require.NoError(t, listErr)
			assert.Empty(t, transfers)
			assert.Empty(t, publisher.routingKeys())
		})
	}
}

func TestCreateTransfer_SavedBeneficiaryIsKindScoped(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
	svc, _ := newTestService(t, repo)

	b, err := svc.CreateBeneficiary(context.Background(), testOwner, localInput("Thandi"))
	require.NoError(t, err)

	_, err = svc.CreateTransfer(context.Background(), testOwner, domain.TransferRequest{
		Kind:           domain.KindInternational,
		Amount:         1000,
		Currency:       "ZAR",
		TargetCurrency: "USD",
		SourceAccount:  testAccount,
		Beneficiary:    domain.SavedBeneficiary{ID: b.ID},
	})
	assert.ErrorIs(t, err, domain.ErrBeneficiaryNotFound)

	_, err = svc.CreateTransfer(context.Background(), testOwner, domain.TransferRequest{
		Kind:          domain.KindSameBank,
		Amount:        1000,
		Currency:      "ZAR",
		SourceAccount: testAccount,
		Beneficiary:   domain.SavedBeneficiary{ID: b.ID},
	})
	assert.NoError(t, err)
}

func TestCreateTransfer_SnapshotSurvivesBeneficiaryChanges(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	b, err := svc.CreateBeneficiary(ctx, testOwner, localInput("Thandi"))
	require.NoError(t, err)

	req := localTransferRequest("")
	req.Beneficiary = domain.SavedBeneficiary{ID: b.ID}
	result, err := svc.CreateTransfer(ctx, testOwner, req)
	require.NoError(t, err)

	_, err = svc.RenameBeneficiary(ctx, testOwner, b.ID, "Thandi M")
	require.NoError(t, err)
	require.NoError(t, svc.ArchiveBeneficiary(ctx, testOwner, b.ID))

	stored, err := svc.GetTransfer(ctx, testOwner, result.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Thandi", stored.Beneficiary.Name)
	assert.Equal(t, "62012345678", stored.Beneficiary.AccountNumber)
}

func TestCreateTransfer_PublishFailureDoesNotFailRequest(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
	svc, publisher := newTestService(t, repo)
	publisher.err = errors.New("broker down")

	result, err := svc.CreateTransfer(context.Background(), testOwner, localTransferRequest(""))
	require.NoError(t, err)
	assert.NotNil(t, result.Transfer)
}

func TestGetTransfer_IsOwnerScoped(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
	svc, _ := newTestService(t, repo)

	result, err := svc.CreateTransfer(context.Background(), testOwner, localTransferRequest(""))
	require.NoError(t, err)

	_, err = svc.GetTransfer(context.Background(), otherOwner, result.Transfer.ID)
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)
}

func TestQuote_RejectsPurchaseKind(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryRepository())

	_, err := svc.Quote(domain.KindPurchase, 1000, "ZAR", "")
	assert.ErrorIs(t, err, domain.ErrUnsupportedKind)

	q, err := svc.Quote(domain.KindSameBank, 1_000_000, "ZAR", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), q.Fee)
}
