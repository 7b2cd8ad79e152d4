package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
	"go.uber.org/zap"
)

// TransferResult is a created or replayed transfer. Idempotent is set when the
// record already existed for the request's idempotency key.
type TransferResult struct {
	Transfer   *domain.Transfer
	Idempotent bool
}

// CreateTransfer records a reviewed transfer in PENDING_STAFF_REVIEW. Nothing
// is debited at submission; every step before the insert is read-only.
func (s *Service) CreateTransfer(ctx context.Context, ownerID string, req domain.TransferRequest) (*TransferResult, error) {
	if req.Kind == domain.KindPurchase || !req.Kind.Valid() {
		return nil, domain.ErrUnsupportedKind
	}
	if req.Amount <= 0 || req.Amount > domain.MaxAmount {
		return nil, domain.ErrInvalidAmount
	}
	key, err := NormalizeIdempotencyKey(req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	existing, err := s.idempotency.Lookup(ctx, ownerID, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info("idempotent transfer replay",
			zap.String("component", "orchestrator"),
			zap.String("transfer_id", existing.ID.String()),
		)
		return &TransferResult{Transfer: existing, Idempotent: true}, nil
	}

	snapshot, err := s.resolver.Resolve(ctx, ownerID, req.Kind, req.Beneficiary)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := s.checkSourceAccount(ctx, ownerID, req.SourceAccount, currency); err != nil {
		return nil, err
	}

	quote, err := s.calculator.Quote(req.Kind, req.Amount, currency, req.TargetCurrency)
	if err != nil {
		return nil, err
	}

	t := &domain.Transfer{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		Kind:          req.Kind,
		SourceAccount: req.SourceAccount,
		Amount:        req.Amount,
		Currency:      currency,
		Fee:           quote.Fee,
		Beneficiary:   snapshot,
		Reference:     strings.TrimSpace(req.Reference),
		Status:        domain.InitialStatus(req.Kind),
	}
	if req.Kind == domain.KindInternational {
		t.FX = quote.FX()
	}
	if key != "" {
		t.IdempotencyKey = &key
	}

	record, replay, err := s.idempotency.Insert(ctx, t)
	if err != nil {
		return nil, err
	}
	if replay {
		return &TransferResult{Transfer: record, Idempotent: true}, nil
	}

	s.logger.Info("transfer created",
		zap.String("component", "orchestrator"),
		zap.String("transfer_id", record.ID.String()),
		zap.String("kind", string(record.Kind)),
		zap.Int64("amount", record.Amount),
		zap.Int64("fee", record.Fee),
	)
	s.publish(ctx, domain.EventTransferCreated, record)
	return &TransferResult{Transfer: record}, nil
}

// checkSourceAccount verifies ownership independently of the balance.
func (s *Service) checkSourceAccount(ctx context.Context, ownerID, number, currency string) error {
	account, err := s.repo.FindAccount(ctx, ownerID, number)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return domain.ErrSourceAccountNotFound
		}
		return storageErr("find source account", err)
	}
	if account.Currency != currency {
		return domain.ErrCurrencyMismatch
	}
	return nil
}

func (s *Service) GetTransfer(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Transfer, error) {
	t, err := s.repo.FindTransfer(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, storageErr("find transfer", err)
	}
	return t, nil
}

func (s *Service) ListTransfers(ctx context.Context, ownerID string, filter domain.ListTransfersFilter) ([]domain.Transfer, error) {
	transfers, err := s.repo.ListTransfers(ctx, ownerID, filter)
	if err != nil {
		return nil, storageErr("list transfers", err)
	}
	return transfers, nil
}
