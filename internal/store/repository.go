/**
 * @description
 * This file defines the storage contract of the transfer-service. Every backend
 * (PostgreSQL, MongoDB, in-memory) implements Repository and translates its
 * driver errors into the sentinels below so the application layer never sees
 * driver types.
 *
 * @dependencies
 * - github.com/google/uuid: entity identifiers.
 * - internal/domain: the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/transfer-service/internal/domain"
)

var (
	ErrAccountNotFound         = errors.New("account not found")
	ErrBeneficiaryNotFound     = errors.New("beneficiary not found")
	ErrTransferNotFound        = errors.New("transfer not found")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrDuplicateBeneficiary    = errors.New("duplicate beneficiary")
	ErrDuplicateAccountNumber  = errors.New("duplicate account number")
	// ErrConditionNotMet is returned when a guarded write matched no record:
	// the balance guard or the expected status no longer holds.
	ErrConditionNotMet = errors.New("write condition not met")
	// ErrBalanceOverflow is returned when a credit would push a balance past int64.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// AccountStore persists accounts and applies balance mutations.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	// FindAccount returns the non-archived account with number owned by ownerID.
	FindAccount(ctx context.Context, ownerID, number string) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error)
	ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error)
	// DecrementBalance subtracts amount only while balance >= amount at write
	// time and returns the new balance. A failed guard yields ErrConditionNotMet.
	DecrementBalance(ctx context.Context, ownerID, number string, amount int64) (int64, error)
	IncrementBalance(ctx context.Context, number string, amount int64) (int64, error)
	ArchiveAccount(ctx context.Context, ownerID, number string) error
}

// BeneficiaryStore persists saved beneficiaries.
type BeneficiaryStore interface {
	CreateBeneficiary(ctx context.Context, b *domain.Beneficiary) error
	// FindBeneficiary is scoped to (id, owner, not archived). An empty typ
	// matches any variant.
	FindBeneficiary(ctx context.Context, ownerID string, id uuid.UUID, typ domain.BeneficiaryType) (*domain.Beneficiary, error)
	ListBeneficiaries(ctx context.Context, ownerID string, typ domain.BeneficiaryType) ([]domain.Beneficiary, error)
	UpdateBeneficiaryName(ctx context.Context, ownerID string, id uuid.UUID, name string) (*domain.Beneficiary, error)
	ArchiveBeneficiary(ctx context.Context, ownerID string, id uuid.UUID) error
}

// TransferStore persists transfer records. Records are never deleted.
type TransferStore interface {
	// InsertTransfer fails with ErrDuplicateIdempotencyKey when the owner
	// already has a transfer with the same key.
	InsertTransfer(ctx context.Context, t *domain.Transfer) error
	FindTransfer(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Transfer, error)
	// GetTransfer is unscoped and only used by internal collaborators.
	GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	FindTransferByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Transfer, error)
	ListTransfers(ctx context.Context, ownerID string, filter domain.ListTransfersFilter) ([]domain.Transfer, error)
	// TransitionTransferStatus moves a transfer from -> to only if it is
	// currently in from. reason is stored as the failure reason when set.
	TransitionTransferStatus(ctx context.Context, id uuid.UUID, from, to domain.TransferStatus, reason *string) (*domain.Transfer, error)
	FindStaleTransfers(ctx context.Context, status domain.TransferStatus, updatedBefore time.Time, limit int) ([]domain.Transfer, error)
}

// Repository is the full storage surface used by the application layer.
type Repository interface {
	AccountStore
	BeneficiaryStore
	TransferStore

	// WithinTransaction runs fn against a repository bound to one storage
	// transaction. fn's error rolls everything back; nested calls join the
	// outer transaction.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func normalizeListFilter(filter domain.ListTransfersFilter) domain.ListTransfersFilter {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}
