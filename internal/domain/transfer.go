/**
 * @description
 * Transfer is the audit record of one money movement. It embeds a value copy
 * of the beneficiary taken at submission time and is never deleted; status
 * transitions are its only mutation.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferKind selects the fee schedule and the destination shape.
type TransferKind string

const (
	KindSameBank      TransferKind = "SAME_BANK"
	KindLocal         TransferKind = "LOCAL"
	KindInternational TransferKind = "INTERNATIONAL"
	// KindPurchase is the immediate-settlement airtime-style flow.
	KindPurchase TransferKind = "PURCHASE"
)

// Valid reports whether k is a known kind.
func (k TransferKind) Valid() bool {
	switch k {
	case KindSameBank, KindLocal, KindInternational, KindPurchase:
		return true
	}
	return false
}

// TransferStatus is a state in the transfer lifecycle.
type TransferStatus string

const (
	StatusPendingStaffReview TransferStatus = "PENDING_STAFF_REVIEW"
	StatusVerified           TransferStatus = "VERIFIED"
	StatusDeclined           TransferStatus = "DECLINED"
	StatusArchived           TransferStatus = "ARCHIVED"
	StatusProcessing         TransferStatus = "PROCESSING"
	StatusCompleted          TransferStatus = "COMPLETED"
	StatusFailed             TransferStatus = "FAILED"
	StatusRefunded           TransferStatus = "REFUNDED"
)

var transitions = map[TransferStatus][]TransferStatus{
	StatusPendingStaffReview: {StatusVerified, StatusDeclined, StatusArchived},
	StatusProcessing:         {StatusCompleted, StatusFailed},
	StatusCompleted:          {StatusRefunded},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to TransferStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition leaves s.
func (s TransferStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s TransferStatus) Valid() bool {
	switch s {
	case StatusPendingStaffReview, StatusVerified, StatusDeclined, StatusArchived,
		StatusProcessing, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// InitialStatus is the status a freshly created transfer of kind k starts in.
func InitialStatus(k TransferKind) TransferStatus {
	if k == KindPurchase {
		return StatusProcessing
	}
	return StatusPendingStaffReview
}

// Failure reasons recorded on FAILED transfers.
const (
	FailureInsufficientFunds = "INSUFFICIENT_FUNDS"
	FailureSourceAccountGone = "SOURCE_ACCOUNT_NOT_FOUND"
	FailureSettlementTimeout = "SETTLEMENT_TIMEOUT"
)

// FX is the conversion block stored on international transfers.
type FX struct {
	Rate            decimal.Decimal `json:"rate"`
	SourceCurrency  string          `json:"source_currency"`
	TargetCurrency  string          `json:"target_currency"`
	ConvertedAmount int64           `json:"converted_amount"`
}

// Transfer maps to the transfers table / collection.
type Transfer struct {
	ID             uuid.UUID           `json:"id"`
	OwnerID        string              `json:"owner_id"`
	Kind           TransferKind        `json:"kind"`
	SourceAccount  string              `json:"source_account"`
	Amount         int64               `json:"amount"`
	Currency       string              `json:"currency"`
	Fee            int64               `json:"fee"`
	FX             *FX                 `json:"fx,omitempty"`
	Beneficiary    BeneficiarySnapshot `json:"beneficiary"`
	Reference      string              `json:"reference"`
	IdempotencyKey *string             `json:"idempotency_key,omitempty"`
	Status         TransferStatus      `json:"status"`
	FailureReason  *string             `json:"failure_reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// TotalDebit is what the source account pays for this transfer.
func (t Transfer) TotalDebit() int64 {
	return t.Amount + t.Fee
}

// BeneficiaryRef names the destination of a transfer request. It is either a
// SavedBeneficiary or an InlineBeneficiary.
type BeneficiaryRef interface {
	isBeneficiaryRef()
}

// SavedBeneficiary points at a stored beneficiary of the requesting owner.
type SavedBeneficiary struct {
	ID uuid.UUID
}

// InlineBeneficiary carries destination details that are snapshotted but not
// saved.
type InlineBeneficiary struct {
	Input BeneficiaryInput
}

func (SavedBeneficiary) isBeneficiaryRef()  {}
func (InlineBeneficiary) isBeneficiaryRef() {}

// TransferRequest is the validated input for CreateTransfer.
type TransferRequest struct {
	Kind           TransferKind
	Amount         int64
	Currency       string
	TargetCurrency string
	SourceAccount  string
	Reference      string
	IdempotencyKey string
	Beneficiary    BeneficiaryRef
}

// BillerDetails identifies what a purchase pays for.
type BillerDetails struct {
	Provider    string
	PhoneNumber string
}

// PurchaseRequest is the validated input for CreatePurchase.
type PurchaseRequest struct {
	Amount         int64
	Currency       string
	SourceAccount  string
	Reference      string
	IdempotencyKey string
	Biller         BillerDetails
}

// ListTransfersFilter narrows an owner's transfer history.
type ListTransfersFilter struct {
	Status *TransferStatus
	Limit  int
	Offset int
}
