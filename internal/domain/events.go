package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the events exchange.
const (
	EventTransferCreated       = "transfer.created"
	EventTransferCompleted     = "transfer.completed"
	EventTransferFailed        = "transfer.failed"
	EventTransferRefunded      = "transfer.refunded"
	EventTransferStatusChanged = "transfer.status_changed"
)

// Routing keys consumed from the reviewing collaborator.
const (
	ReviewVerifiedKey = "transfer.review.verified"
	ReviewDeclinedKey = "transfer.review.declined"
	ReviewArchivedKey = "transfer.review.archived"
)

// TransferEvent is the payload published whenever a transfer is created or
// changes status.
type TransferEvent struct {
	EventID       uuid.UUID      `json:"event_id"`
	Type          string         `json:"type"`
	TransferID    uuid.UUID      `json:"transfer_id"`
	OwnerID       string         `json:"owner_id"`
	Kind          TransferKind   `json:"kind"`
	Status        TransferStatus `json:"status"`
	Amount        int64          `json:"amount"`
	Fee           int64          `json:"fee"`
	Currency      string         `json:"currency"`
	FailureReason *string        `json:"failure_reason,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// NewTransferEvent builds the event for the current state of t.
func NewTransferEvent(eventType string, t *Transfer, at time.Time) TransferEvent {
	return TransferEvent{
		EventID:       uuid.New(),
		Type:          eventType,
		TransferID:    t.ID,
		OwnerID:       t.OwnerID,
		Kind:          t.Kind,
		Status:        t.Status,
		Amount:        t.Amount,
		Fee:           t.Fee,
		Currency:      t.Currency,
		FailureReason: t.FailureReason,
		OccurredAt:    at,
	}
}

// ReviewDecisionEvent is sent by the staff review tool once a pending transfer
// has been looked at.
type ReviewDecisionEvent struct {
	TransferID string `json:"transfer_id"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
	ReviewerID string `json:"reviewer_id,omitempty"`
}
