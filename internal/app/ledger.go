package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
	"go.uber.org/zap"
)

// Ledger is the only writer of account balances. It holds no locks; every
// debit is a storage-level compare-and-set.
type Ledger struct {
	accounts store.AccountStore
	logger   *zap.Logger
}

func NewLedger(accounts store.AccountStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{accounts: accounts, logger: logger}
}

// Debit removes amount from the owner's account and returns the new balance.
// A lost race on the conditional write is reported as ErrBalanceConflict so
// callers can retry, distinct from ErrInsufficientFunds which they cannot.
func (l *Ledger) Debit(ctx context.Context, number, ownerID string, amount int64) (int64, error) {
	if amount <= 0 || amount > domain.MaxAmount {
		return 0, domain.ErrInvalidAmount
	}

	account, err := l.accounts.FindAccount(ctx, ownerID, number)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return 0, domain.ErrSourceAccountNotFound
		}
		return 0, storageErr("find source account", err)
	}

	if account.Balance < amount {
		return 0, domain.ErrInsufficientFunds
	}

	balance, err := l.accounts.DecrementBalance(ctx, ownerID, number, amount)
	if err != nil {
		if errors.Is(err, store.ErrConditionNotMet) {
			l.logger.Warn("conditional debit lost race",
				zap.String("component", "ledger"),
				zap.String("account_number", number),
				zap.Int64("amount", amount),
			)
			return 0, domain.ErrBalanceConflict
		}
		return 0, storageErr("debit balance", err)
	}
	return balance, nil
}

// Credit adds amount to an active account. Used for refunds and top-ups.
func (l *Ledger) Credit(ctx context.Context, number string, amount int64) (int64, error) {
	if amount <= 0 || amount > domain.MaxAmount {
		return 0, domain.ErrInvalidAmount
	}

	balance, err := l.accounts.IncrementBalance(ctx, number, amount)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return 0, domain.ErrAccountNotFound
		}
		if errors.Is(err, store.ErrBalanceOverflow) {
			return 0, fmt.Errorf("%w: balance would overflow", domain.ErrInvalidAmount)
		}
		return 0, storageErr("credit balance", err)
	}
	return balance, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}
