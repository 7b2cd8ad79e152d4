/**
 * @description
 * HTTP handlers for quoting, submitting and reading transfers and purchases.
 * Handlers decode and validate the wire form, call the application service
 * and translate its errors through the shared error table.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - go.uber.org/zap: structured request outcome logs.
 */

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/transfer-service/internal/app"
	"github.com/transfa/transfer-service/internal/domain"
	"go.uber.org/zap"
)

const maxPageSize = 100

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
	logger  *zap.Logger
}

func NewHandlers(service *app.Service, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{service: service, logger: logger}
}

// respondError maps a service error and logs the outcome. Server-side
// failures are logged at error level with the underlying cause.
func (h *Handlers) respondError(w http.ResponseWriter, endpoint string, err error, fields ...zap.Field) {
	status, code, message := mapError(err)
	fields = append(fields,
		zap.String("component", "api"),
		zap.String("endpoint", endpoint),
		zap.String("code", code),
		zap.Error(err),
	)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}
	writeError(w, status, code, message)
}

// owner extracts the authenticated owner id or writes a 401.
func (h *Handlers) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID, ok := OwnerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")
	}
	return ownerID, ok
}

func (h *Handlers) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeRequestError(w, err)
		return
	}
	quote, err := h.service.Quote(domain.TransferKind(req.Kind), req.Amount, req.Currency, req.TargetCurrency)
	if err != nil {
		h.respondError(w, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(quote))
}

func (h *Handlers) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeRequestError(w, err)
		return
	}

	result, err := h.service.CreateTransfer(r.Context(), ownerID, req.toDomain(r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.respondError(w, "create_transfer", err, zap.String("owner_id", ownerID), zap.String("kind", req.Kind))
		return
	}

	h.logger.Info("transfer accepted",
		zap.String("component", "api"),
		zap.String("endpoint", "create_transfer"),
		zap.String("transfer_id", result.Transfer.ID.String()),
		zap.Bool("idempotent", result.Idempotent),
	)
	writeJSON(w, creationStatus(result), newTransferResponse(result))
}

func (h *Handlers) CreatePurchaseHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeRequestError(w, err)
		return
	}

	result, err := h.service.CreatePurchase(r.Context(), ownerID, req.toDomain(r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.respondError(w, "create_purchase", err, zap.String("owner_id", ownerID))
		return
	}

	h.logger.Info("purchase processed",
		zap.String("component", "api"),
		zap.String("endpoint", "create_purchase"),
		zap.String("transfer_id", result.Transfer.ID.String()),
		zap.String("status", string(result.Transfer.Status)),
		zap.Bool("idempotent", result.Idempotent),
	)
	writeJSON(w, creationStatus(result), newTransferResponse(result))
}

func creationStatus(result *app.TransferResult) int {
	if result.Idempotent {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (h *Handlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	var filter domain.ListTransfersFilter
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := domain.TransferStatus(strings.ToUpper(raw))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "unknown status filter")
			return
		}
		filter.Status = &status
	}
	var err error
	if filter.Limit, err = intParam(query.Get("limit"), 20, 1, maxPageSize); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "limit must be between 1 and 100")
		return
	}
	if filter.Offset, err = intParam(query.Get("offset"), 0, 0, -1); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "offset must be a non-negative integer")
		return
	}

	transfers, err := h.service.ListTransfers(r.Context(), ownerID, filter)
	if err != nil {
		h.respondError(w, "list_transfers", err, zap.String("owner_id", ownerID))
		return
	}
	if transfers == nil {
		transfers = []domain.Transfer{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transfers": transfers,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

// intParam parses an optional integer query parameter. A negative max means
// unbounded.
func intParam(raw string, def, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < min || (max >= 0 && v > max) {
		return 0, strconv.ErrRange
	}
	return v, nil
}

func (h *Handlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	transfer, err := h.service.GetTransfer(r.Context(), ownerID, id)
	if err != nil {
		h.respondError(w, "get_transfer", err, zap.String("transfer_id", id.String()))
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (h *Handlers) RefundPurchaseHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	transfer, err := h.service.RefundPurchase(r.Context(), ownerID, id)
	if err != nil {
		h.respondError(w, "refund_purchase", err, zap.String("transfer_id", id.String()))
		return
	}
	h.logger.Info("purchase refunded",
		zap.String("component", "api"),
		zap.String("endpoint", "refund_purchase"),
		zap.String("transfer_id", id.String()),
	)
	writeJSON(w, http.StatusOK, transfer)
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// HealthHandler reports liveness. It does not touch storage.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "transfer-service"})
}
