package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/transfer-service/internal/domain"
	"go.uber.org/zap"
)

func (h *Handlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), ownerID)
	if err != nil {
		h.respondError(w, "list_accounts", err, zap.String("owner_id", ownerID))
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (h *Handlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	account, err := h.service.GetAccount(r.Context(), ownerID, accountParam(r))
	if err != nil {
		h.respondError(w, "get_account", err, zap.String("owner_id", ownerID))
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handlers) ArchiveAccountHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	number := accountParam(r)
	if err := h.service.ArchiveAccount(r.Context(), ownerID, number); err != nil {
		h.respondError(w, "archive_account", err, zap.String("owner_id", ownerID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OpenAccountHandler provisions an account for an owner. Internal only.
func (h *Handlers) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeRequestError(w, err)
		return
	}
	account, err := h.service.OpenAccount(r.Context(), domain.OpenAccountRequest{
		OwnerID:        req.OwnerID,
		Currency:       req.Currency,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		h.respondError(w, "open_account", err, zap.String("owner_id", req.OwnerID))
		return
	}
	h.logger.Info("account opened",
		zap.String("component", "api"),
		zap.String("endpoint", "open_account"),
		zap.String("owner_id", account.OwnerID),
		zap.String("account_number", account.Number),
	)
	writeJSON(w, http.StatusCreated, account)
}

// CreditAccountHandler tops up an account. Internal only.
func (h *Handlers) CreditAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req creditAccountRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeRequestError(w, err)
		return
	}
	number := accountParam(r)
	balance, err := h.service.CreditAccount(r.Context(), number, req.Amount)
	if err != nil {
		h.respondError(w, "credit_account", err, zap.String("account_number", number))
		return
	}
	writeJSON(w, http.StatusOK, creditAccountResponse{AccountNumber: number, Balance: balance})
}

func accountParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "number"))
}
