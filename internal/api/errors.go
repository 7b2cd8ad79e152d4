package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/transfa/transfer-service/internal/domain"
)

// Stable machine-readable error codes.
const (
	CodeUnsupportedFxPair       = "UNSUPPORTED_FX_PAIR"
	CodeTargetCurrencyRequired  = "TARGET_CURRENCY_REQUIRED"
	CodeBeneficiaryNotFound     = "BENEFICIARY_NOT_FOUND"
	CodeSourceAccountNotFound   = "SOURCE_ACCOUNT_NOT_FOUND"
	CodeAccountNotFound         = "ACCOUNT_NOT_FOUND"
	CodeTransferNotFound        = "TRANSFER_NOT_FOUND"
	CodeInsufficientFunds       = "INSUFFICIENT_FUNDS"
	CodeBalanceConflict         = "BALANCE_CONFLICT"
	CodeDuplicateBeneficiary    = "DUPLICATE_BENEFICIARY"
	CodeDuplicateAccountNumber  = "DUPLICATE_ACCOUNT_NUMBER"
	CodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	CodeCurrencyMismatch        = "CURRENCY_MISMATCH"
	CodeValidationFailed        = "VALIDATION_FAILED"
	CodeInvalidRequest          = "INVALID_REQUEST"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeRateLimited             = "RATE_LIMITED"
	CodeStorageUnavailable      = "STORAGE_UNAVAILABLE"
	CodeInternalError           = "INTERNAL_ERROR"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters only for errors that wrap more than one sentinel.
var errorMappings = []errorMapping{
	{domain.ErrUnsupportedFxPair, http.StatusUnprocessableEntity, CodeUnsupportedFxPair},
	{domain.ErrTargetCurrencyRequired, http.StatusUnprocessableEntity, CodeTargetCurrencyRequired},
	{domain.ErrCurrencyMismatch, http.StatusUnprocessableEntity, CodeCurrencyMismatch},
	{domain.ErrBeneficiaryNotFound, http.StatusNotFound, CodeBeneficiaryNotFound},
	{domain.ErrSourceAccountNotFound, http.StatusNotFound, CodeSourceAccountNotFound},
	{domain.ErrAccountNotFound, http.StatusNotFound, CodeAccountNotFound},
	{domain.ErrTransferNotFound, http.StatusNotFound, CodeTransferNotFound},
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired, CodeInsufficientFunds},
	{domain.ErrBalanceConflict, http.StatusConflict, CodeBalanceConflict},
	{domain.ErrDuplicateBeneficiary, http.StatusConflict, CodeDuplicateBeneficiary},
	{domain.ErrDuplicateAccountNumber, http.StatusConflict, CodeDuplicateAccountNumber},
	{domain.ErrInvalidStatusTransition, http.StatusConflict, CodeInvalidStatusTransition},
	{domain.ErrInvalidAmount, http.StatusBadRequest, CodeValidationFailed},
	{domain.ErrInvalidIdempotencyKey, http.StatusBadRequest, CodeValidationFailed},
	{domain.ErrInvalidBeneficiary, http.StatusBadRequest, CodeValidationFailed},
	{domain.ErrUnsupportedKind, http.StatusBadRequest, CodeValidationFailed},
	{domain.ErrInvalidAccountRequest, http.StatusBadRequest, CodeValidationFailed},
}

// mapError translates a service error into a status, a code and a message
// that is safe to show to clients.
func mapError(err error) (int, string, string) {
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return http.StatusServiceUnavailable, CodeStorageUnavailable, "Service temporarily unavailable. Please retry."
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code, err.Error()
		}
	}
	return http.StatusInternalServerError, CodeInternalError, "Internal server error"
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}
