package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/fees"
	"github.com/transfa/transfer-service/internal/store"
	"go.uber.org/zap"
)

// CreatePurchase records an immediate-settlement purchase and settles it.
//
// The record is inserted PROCESSING first, then the PROCESSING -> COMPLETED
// flip and the debit commit in one storage transaction. A PROCESSING record
// therefore never carries a debit. Funds or ownership failures mark the
// record FAILED; anything else leaves it PROCESSING so a replay with the same
// key resumes settlement.
func (s *Service) CreatePurchase(ctx context.Context, ownerID string, req domain.PurchaseRequest) (*TransferResult, error) {
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
		return s.resumePurchase(ctx, existing)
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := s.checkSourceAccount(ctx, ownerID, req.SourceAccount, currency); err != nil {
		return nil, err
	}

	fee, err := fees.Fee(domain.KindPurchase, req.Amount)
	if err != nil {
		return nil, err
	}

	t := &domain.Transfer{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		Kind:          domain.KindPurchase,
		SourceAccount: req.SourceAccount,
		Amount:        req.Amount,
		Currency:      currency,
		Fee:           fee,
		Beneficiary: domain.BeneficiarySnapshot{
			Type:        domain.BeneficiaryBiller,
			Name:        strings.TrimSpace(req.Biller.Provider),
			Currency:    currency,
			Provider:    strings.TrimSpace(req.Biller.Provider),
			PhoneNumber: strings.TrimSpace(req.Biller.PhoneNumber),
		},
		Reference: strings.TrimSpace(req.Reference),
		Status:    domain.InitialStatus(domain.KindPurchase),
	}
	if key != "" {
		t.IdempotencyKey = &key
	}

	record, replay, err := s.idempotency.Insert(ctx, t)
	if err != nil {
		return nil, err
	}
	if replay {
		return s.resumePurchase(ctx, record)
	}
	s.publish(ctx, domain.EventTransferCreated, record)

	settled, err := s.settlePurchase(ctx, record)
	if err != nil {
		return nil, err
	}
	return &TransferResult{Transfer: settled}, nil
}

// resumePurchase answers a replayed purchase. Records left PROCESSING by a
// transient failure are settled again; any other state is returned as is.
func (s *Service) resumePurchase(ctx context.Context, existing *domain.Transfer) (*TransferResult, error) {
	if existing.Kind != domain.KindPurchase || existing.Status != domain.StatusProcessing {
		return &TransferResult{Transfer: existing, Idempotent: true}, nil
	}

	s.logger.Info("resuming purchase settlement",
		zap.String("component", "orchestrator"),
		zap.String("transfer_id", existing.ID.String()),
	)
	settled, err := s.settlePurchase(ctx, existing)
	if err != nil {
		return nil, err
	}
	return &TransferResult{Transfer: settled, Idempotent: true}, nil
}

func (s *Service) settlePurchase(ctx context.Context, t *domain.Transfer) (*domain.Transfer, error) {
	var settled *domain.Transfer
	err := s.repo.WithinTransaction(ctx, func(ctx context.Context, repo store.Repository) error {
		updated, err := s.transition(ctx, repo, t, domain.StatusCompleted, nil)
		if err != nil {
			return err
		}
		if _, err := NewLedger(repo, s.logger).Debit(ctx, t.SourceAccount, t.OwnerID, t.TotalDebit()); err != nil {
			return err
		}
		settled = updated
		return nil
	})

	switch {
	case err == nil:
		s.logger.Info("purchase settled",
			zap.String("component", "orchestrator"),
			zap.String("transfer_id", settled.ID.String()),
			zap.Int64("debited", settled.TotalDebit()),
		)
		s.publish(ctx, domain.EventTransferCompleted, settled)
		return settled, nil

	case errors.Is(err, domain.ErrInsufficientFunds):
		s.markFailed(ctx, t, domain.FailureInsufficientFunds)
		return nil, err

	case errors.Is(err, domain.ErrSourceAccountNotFound):
		s.markFailed(ctx, t, domain.FailureSourceAccountGone)
		return nil, err

	case errors.Is(err, domain.ErrInvalidStatusTransition):
		// Settled or swept concurrently; report whatever won.
		return s.GetTransfer(ctx, t.OwnerID, t.ID)

	default:
		s.logger.Warn("purchase left processing",
			zap.String("component", "orchestrator"),
			zap.String("transfer_id", t.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}
}

// markFailed moves a PROCESSING record to FAILED. Losing the guard is not an
// error: the record has already left PROCESSING.
func (s *Service) markFailed(ctx context.Context, t *domain.Transfer, reason string) *domain.Transfer {
	failed, err := s.transition(ctx, s.repo, &domain.Transfer{ID: t.ID, Status: domain.StatusProcessing}, domain.StatusFailed, &reason)
	if err != nil {
		s.logger.Warn("could not mark transfer failed",
			zap.String("component", "orchestrator"),
			zap.String("transfer_id", t.ID.String()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil
	}
	s.logger.Info("transfer failed",
		zap.String("component", "orchestrator"),
		zap.String("transfer_id", failed.ID.String()),
		zap.String("reason", reason),
	)
	s.publish(ctx, domain.EventTransferFailed, failed)
	return failed
}

// RefundPurchase reverses a completed purchase. The COMPLETED -> REFUNDED flip
// and the credit commit together.
func (s *Service) RefundPurchase(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Transfer, error) {
	t, err := s.GetTransfer(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if t.Kind != domain.KindPurchase {
		return nil, domain.ErrInvalidStatusTransition
	}

	var refunded *domain.Transfer
	err = s.repo.WithinTransaction(ctx, func(ctx context.Context, repo store.Repository) error {
		updated, err := s.transition(ctx, repo, t, domain.StatusRefunded, nil)
		if err != nil {
			return err
		}
		if _, err := NewLedger(repo, s.logger).Credit(ctx, t.SourceAccount, t.TotalDebit()); err != nil {
			return err
		}
		refunded = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("purchase refunded",
		zap.String("component", "orchestrator"),
		zap.String("transfer_id", refunded.ID.String()),
		zap.Int64("credited", refunded.TotalDebit()),
	)
	s.publish(ctx, domain.EventTransferRefunded, refunded)
	return refunded, nil
}
