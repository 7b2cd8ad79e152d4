package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
	"go.uber.org/zap"
)

// ApplyReviewDecision moves a PENDING_STAFF_REVIEW transfer to the reviewer's
// decision. Re-delivering a decision that is already applied is a no-op.
func (s *Service) ApplyReviewDecision(ctx context.Context, id uuid.UUID, decision domain.TransferStatus, reason string) (*domain.Transfer, error) {
	switch decision {
	case domain.StatusVerified, domain.StatusDeclined, domain.StatusArchived:
	default:
		return nil, domain.ErrInvalidStatusTransition
	}

	t, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, storageErr("find transfer", err)
	}
	if t.Status == decision {
		return t, nil
	}

	var reasonPtr *string
	if reason = strings.TrimSpace(reason); reason != "" && decision == domain.StatusDeclined {
		reasonPtr = &reason
	}

	updated, err := s.transition(ctx, s.repo, t, decision, reasonPtr)
	if err != nil {
		return nil, err
	}
	s.logger.Info("review decision applied",
		zap.String("component", "review"),
		zap.String("transfer_id", updated.ID.String()),
		zap.String("status", string(updated.Status)),
	)
	s.publish(ctx, domain.EventTransferStatusChanged, updated)
	return updated, nil
}

// FailStaleSettlements marks purchases stuck in PROCESSING longer than
// olderThan as FAILED. A PROCESSING record never carries a debit, so no
// balance is touched.
func (s *Service) FailStaleSettlements(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.repo.FindStaleTransfers(ctx, domain.StatusProcessing, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, storageErr("find stale transfers", err)
	}

	failed := 0
	for i := range stale {
		if s.markFailed(ctx, &stale[i], domain.FailureSettlementTimeout) != nil {
			failed++
		}
	}
	return failed, nil
}
