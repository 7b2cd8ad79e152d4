package app

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

type collidingAccountRepo struct {
	store.Repository
	attempts int
}

func (r *collidingAccountRepo) CreateAccount(ctx context.Context, account *domain.Account) error {
	r.attempts++
	return store.ErrDuplicateAccountNumber
}

func TestOpenAccount(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc, _ := newTestService(t, repo)

	account, err := svc.OpenAccount(context.Background(), domain.OpenAccountRequest{OwnerID: testOwner, Currency: "zar", InitialBalance: 2500})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[1-9][0-9]{9}$`), account.Number)
	assert.Equal(t, "ZAR", account.Currency)
	assert.Equal(t, int64(2500), account.Balance)

	accounts, err := svc.ListAccounts(context.Background(), testOwner)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, account.Number, accounts[0].Number)
}

func TestOpenAccount_RejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryRepository())
	ctx := context.Background()

	_, err := svc.OpenAccount(ctx, domain.OpenAccountRequest{OwnerID: "", Currency: "ZAR"})
	assert.ErrorIs(t, err, domain.ErrInvalidAccountRequest)

	_, err = svc.OpenAccount(ctx, domain.OpenAccountRequest{OwnerID: testOwner, Currency: "RAND"})
	assert.ErrorIs(t, err, domain.ErrInvalidAccountRequest)

	_, err = svc.OpenAccount(ctx, domain.OpenAccountRequest{OwnerID: testOwner, Currency: "ZAR", InitialBalance: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestOpenAccount_GivesUpAfterRepeatedCollisions(t *testing.T) {
	repo := &collidingAccountRepo{Repository: store.NewMemoryRepository()}
	svc, _ := newTestService(t, repo)

	_, err := svc.OpenAccount(context.Background(), domain.OpenAccountRequest{OwnerID: testOwner, Currency: "ZAR"})
	assert.ErrorIs(t, err, domain.ErrDuplicateAccountNumber)
	assert.Equal(t, accountNumberAttempts, repo.attempts)
}

func TestArchiveAccount_BlocksFurtherTransfers(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 500000)
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	require.NoError(t, svc.ArchiveAccount(ctx, testOwner, testAccount))
	assert.ErrorIs(t, svc.ArchiveAccount(ctx, testOwner, testAccount), domain.ErrAccountNotFound)

	_, err := svc.GetAccount(ctx, testOwner, testAccount)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = svc.CreateTransfer(ctx, testOwner, localTransferRequest(""))
	assert.ErrorIs(t, err, domain.ErrSourceAccountNotFound)
}

func TestCreditAccount(t *testing.T) {
	repo := store.NewMemoryRepository()
	seedAccount(t, repo, testOwner, testAccount, "ZAR", 100)
	svc, _ := newTestService(t, repo)

	balance, err := svc.CreditAccount(context.Background(), testAccount, 900)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	_, err = svc.CreditAccount(context.Background(), testAccount, -5)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestBeneficiaries_DuplicateAndArchive(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryRepository())
	ctx := context.Background()

	first, err := svc.CreateBeneficiary(ctx, testOwner, localInput("Thandi"))
	require.NoError(t, err)

	_, err = svc.CreateBeneficiary(ctx, testOwner, localInput("Thandi again"))
	assert.ErrorIs(t, err, domain.ErrDuplicateBeneficiary)

	_, err = svc.CreateBeneficiary(ctx, otherOwner, localInput("Thandi"))
	assert.NoError(t, err, "uniqueness is per owner")

	require.NoError(t, svc.ArchiveBeneficiary(ctx, testOwner, first.ID))
	_, err = svc.CreateBeneficiary(ctx, testOwner, localInput("Thandi"))
	assert.NoError(t, err, "archived beneficiaries free their destination")
}

func TestBeneficiaries_ListFiltersByType(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryRepository())
	ctx := context.Background()

	_, err := svc.CreateBeneficiary(ctx, testOwner, localInput("Thandi"))
	require.NoError(t, err)
	_, err = svc.CreateBeneficiary(ctx, testOwner, internationalInput("Jane"))
	require.NoError(t, err)

	all, err := svc.ListBeneficiaries(ctx, testOwner, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	international, err := svc.ListBeneficiaries(ctx, testOwner, domain.BeneficiaryInternational)
	require.NoError(t, err)
	require.Len(t, international, 1)
	assert.Equal(t, "GB82WEST12345698765432", international[0].Details.(domain.InternationalDetails).IBAN)

	_, err = svc.ListBeneficiaries(ctx, testOwner, domain.BeneficiaryBiller)
	assert.ErrorIs(t, err, domain.ErrInvalidBeneficiary)
}

func TestBeneficiaries_Rename(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryRepository())
	ctx := context.Background()

	b, err := svc.CreateBeneficiary(ctx, testOwner, localInput("Thandi"))
	require.NoError(t, err)

	renamed, err := svc.RenameBeneficiary(ctx, testOwner, b.ID, "  Thandi M ")
	require.NoError(t, err)
	assert.Equal(t, "Thandi M", renamed.Name)

	_, err = svc.RenameBeneficiary(ctx, otherOwner, b.ID, "Mine now")
	assert.ErrorIs(t, err, domain.ErrBeneficiaryNotFound)

	_, err = svc.RenameBeneficiary(ctx, testOwner, b.ID, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidBeneficiary)
}
