package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/transfer-service/internal/domain"
	"go.uber.org/zap"
)

// ReviewDecisionConsumer applies staff review outcomes delivered over
// RabbitMQ. Returning false asks the broker to redeliver.
type ReviewDecisionConsumer struct {
	service *Service
	logger  *zap.Logger
}

func NewReviewDecisionConsumer(service *Service, logger *zap.Logger) *ReviewDecisionConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewDecisionConsumer{service: service, logger: logger.With(zap.String("component", "review_consumer"))}
}

// Bindings maps each review routing key to its handler.
func (c *ReviewDecisionConsumer) Bindings() map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		domain.ReviewVerifiedKey: c.handlerFor(domain.StatusVerified),
		domain.ReviewDeclinedKey: c.handlerFor(domain.StatusDeclined),
		domain.ReviewArchivedKey: c.handlerFor(domain.StatusArchived),
	}
}

func (c *ReviewDecisionConsumer) handlerFor(decision domain.TransferStatus) func([]byte) bool {
	return func(body []byte) bool {
		return c.HandleMessage(decision, body)
	}
}

// HandleMessage applies one decision. Malformed payloads, unknown transfers
// and transitions that no longer apply are acknowledged and dropped; only
// storage failures are retried.
func (c *ReviewDecisionConsumer) HandleMessage(decision domain.TransferStatus, body []byte) bool {
	var event domain.ReviewDecisionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("failed to unmarshal payload", zap.Error(err))
		return true
	}

	if explicit := normalizeDecision(event.Decision); explicit != "" && explicit != decision {
		c.logger.Warn("decision does not match routing key",
			zap.String("transfer_id", event.TransferID),
			zap.String("decision", event.Decision),
			zap.String("expected", string(decision)),
		)
		return true
	}

	id, err := uuid.Parse(strings.TrimSpace(event.TransferID))
	if err != nil {
		c.logger.Warn("missing or invalid transfer id", zap.String("transfer_id", event.TransferID))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err = c.service.ApplyReviewDecision(ctx, id, decision, event.Reason)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrTransferNotFound):
		c.logger.Info("no transfer found for review decision; acknowledging", zap.String("transfer_id", id.String()))
		return true
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		c.logger.Info("review decision no longer applies; acknowledging",
			zap.String("transfer_id", id.String()),
			zap.String("decision", string(decision)),
		)
		return true
	default:
		c.logger.Error("processing error", zap.String("transfer_id", id.String()), zap.Error(err))
		return false
	}
}

func normalizeDecision(decision string) domain.TransferStatus {
	decision = strings.TrimSpace(strings.ToLower(decision))
	switch decision {
	case "verified", "approved", "approve":
		return domain.StatusVerified
	case "declined", "rejected", "reject", "decline":
		return domain.StatusDeclined
	case "archived", "archive":
		return domain.StatusArchived
	default:
		return ""
	}
}
