package domain

import "errors"

// Error kinds surfaced by the core. Callers match them with errors.Is; the HTTP
// layer maps each one to a status code and a stable machine code.
var (
	ErrUnsupportedFxPair       = errors.New("unsupported fx pair")
	ErrTargetCurrencyRequired  = errors.New("target currency required")
	ErrBeneficiaryNotFound     = errors.New("beneficiary not found")
	ErrSourceAccountNotFound   = errors.New("source account not found")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrBalanceConflict         = errors.New("balance changed concurrently")
	ErrDuplicateBeneficiary    = errors.New("beneficiary already exists")
	ErrStorageUnavailable      = errors.New("storage unavailable")
	ErrAccountNotFound         = errors.New("account not found")
	ErrTransferNotFound        = errors.New("transfer not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrCurrencyMismatch        = errors.New("currency does not match source account")
	ErrInvalidAmount           = errors.New("amount must be positive and within limits")
	ErrInvalidIdempotencyKey   = errors.New("idempotency key must be 8-64 characters")
	ErrInvalidBeneficiary      = errors.New("invalid beneficiary details")
	ErrUnsupportedKind         = errors.New("unsupported transfer kind")
	ErrDuplicateAccountNumber  = errors.New("account number already exists")
	ErrInvalidAccountRequest   = errors.New("owner and a 3-letter currency are required")
)
