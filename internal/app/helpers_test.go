package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/fees"
	"github.com/transfa/transfer-service/internal/store"
)

const (
	testOwner   = "user_owner_1"
	otherOwner  = "user_owner_2"
	testAccount = "1000000001"
)

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return p.err
}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func newTestService(t *testing.T, repo store.Repository) (*Service, *recordingPublisher) {
	t.Helper()
	publisher := &recordingPublisher{}
	return NewService(repo, fees.NewCalculator(nil), WithPublisher(publisher, "test.events")), publisher
}

func seedAccount(t *testing.T, repo store.Repository, owner, number, currency string, balance int64) {
	t.Helper()
	require.NoError(t, repo.CreateAccount(context.Background(), &domain.Account{
		ID:       uuid.New(),
		OwnerID:  owner,
		Number:   number,
		Currency: currency,
		Balance:  balance,
	}))
}

func balanceOf(t *testing.T, repo store.Repository, number string) int64 {
	t.Helper()
	account, err := repo.FindAccountByNumber(context.Background(), number)
	require.NoError(t, err)
	return account.Balance
}

func localInput(name string) domain.BeneficiaryInput {
	return domain.BeneficiaryInput{
		Name:     name,
		Currency: "ZAR",
		Details: domain.LocalDetails{
			AccountNumber: "62012345678",
			BankCode:      "fnb",
			BranchCode:    "250655",
			BankName:      "First National Bank",
		},
	}
}

func internationalInput(name string) domain.BeneficiaryInput {
	return domain.BeneficiaryInput{
		Name:     name,
		Currency: "USD",
		Details: domain.InternationalDetails{
			IBAN:     "GB82 WEST 1234 5698 7654 32",
			SwiftBIC: "nwbkgb2l",
			Country:  "gb",
			BankName: "NatWest",
		},
	}
}

func localTransferRequest(key string) domain.TransferRequest {
	return domain.TransferRequest{
		Kind:           domain.KindLocal,
		Amount:         100000,
		Currency:       "ZAR",
		SourceAccount:  testAccount,
		Reference:      "rent",
		IdempotencyKey: key,
		Beneficiary:    domain.InlineBeneficiary{Input: localInput("Thandi")},
	}
}

func purchaseRequest(key string, amount int64) domain.PurchaseRequest {
	return domain.PurchaseRequest{
		Amount:         amount,
		Currency:       "ZAR",
		SourceAccount:  testAccount,
		Reference:      "airtime",
		IdempotencyKey: key,
		Biller:         domain.BillerDetails{Provider: "Vodacom", PhoneNumber: "+27820000000"},
	}
}

// flakyRepo fails the next n conditional debits as if a concurrent writer won.
type flakyRepo struct {
	store.Repository
	mu       *sync.Mutex
	failures *int
}

func newFlakyRepo(inner store.Repository, failures int) flakyRepo {
	return flakyRepo{Repository: inner, mu: &sync.Mutex{}, failures: &failures}
}

func (r flakyRepo) DecrementBalance(ctx context.Context, ownerID, number string, amount int64) (int64, error) {
	r.mu.Lock()
	if *r.failures > 0 {
		*r.failures--
		r.mu.Unlock()
		return 0, store.ErrConditionNotMet
	}
	r.mu.Unlock()
	return r.Repository.DecrementBalance(ctx, ownerID, number, amount)
}

func (r flakyRepo) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repo store.Repository) error) error {
	return r.Repository.WithinTransaction(ctx, func(ctx context.Context, tx store.Repository) error {
		return fn(ctx, flakyRepo{Repository: tx, mu: r.mu, failures: r.failures})
	})
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
