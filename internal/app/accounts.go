package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
	"go.uber.org/zap"
)

const (
	accountNumberAttempts = 5
	accountNumberMin      = 1_000_000_000
	accountNumberSpan     = 9_000_000_000
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// OpenAccount provisions an account with a fresh 10-digit number. Collisions on
// the unique number are retried a bounded number of times.
func (s *Service) OpenAccount(ctx context.Context, req domain.OpenAccountRequest) (*domain.Account, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if ownerID == "" || !currencyPattern.MatchString(currency) {
		return nil, domain.ErrInvalidAccountRequest
	}
	if req.InitialBalance < 0 || req.InitialBalance > domain.MaxAmount {
		return nil, domain.ErrInvalidAmount
	}

	for attempt := 1; attempt <= accountNumberAttempts; attempt++ {
		number, err := generateAccountNumber()
		if err != nil {
			return nil, fmt.Errorf("generate account number: %w", err)
		}

		account := &domain.Account{
			ID:       uuid.New(),
			OwnerID:  ownerID,
			Number:   number,
			Currency: currency,
			Balance:  req.InitialBalance,
		}
		err = s.repo.CreateAccount(ctx, account)
		if err == nil {
			s.logger.Info("account opened",
				zap.String("component", "accounts"),
				zap.String("owner_id", ownerID),
				zap.String("account_number", number),
			)
			return account, nil
		}
		if !errors.Is(err, store.ErrDuplicateAccountNumber) {
			return nil, storageErr("create account", err)
		}
		s.logger.Warn("account number collision",
			zap.String("component", "accounts"),
			zap.Int("attempt", attempt),
		)
	}
	return nil, domain.ErrDuplicateAccountNumber
}

func generateAccountNumber() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(accountNumberSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%010d", n.Int64()+accountNumberMin), nil
}

func (s *Service) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	accounts, err := s.repo.ListAccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, storageErr("list accounts", err)
	}
	return accounts, nil
}

func (s *Service) GetAccount(ctx context.Context, ownerID, number string) (*domain.Account, error) {
	account, err := s.repo.FindAccount(ctx, ownerID, number)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, storageErr("find account", err)
	}
	return account, nil
}

// ArchiveAccount soft-deletes an account. Archived accounts can no longer be
// debited or credited.
func (s *Service) ArchiveAccount(ctx context.Context, ownerID, number string) error {
	if err := s.repo.ArchiveAccount(ctx, ownerID, number); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return domain.ErrAccountNotFound
		}
		return storageErr("archive account", err)
	}
	return nil
}

// CreditAccount tops up an account and returns its new balance.
func (s *Service) CreditAccount(ctx context.Context, number string, amount int64) (int64, error) {
	balance, err := s.ledger.Credit(ctx, number, amount)
	if err != nil {
		return 0, err
	}
	s.logger.Info("account credited",
		zap.String("component", "accounts"),
		zap.String("account_number", number),
		zap.Int64("amount", amount),
	)
	return balance, nil
}
