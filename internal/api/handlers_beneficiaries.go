package api

import (
	"net/http"
	"strings"

	"github.com/transfa/transfer-service/internal/domain"
	"go.uber.org/zap"
)

func (h *Handlers) CreateBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req beneficiaryPayload
	if err := decodeAndValidate(r, &req); err != nil {
		writeRequestError(w, err)
		return
	}
	b, err := h.service.CreateBeneficiary(r.Context(), ownerID, req.toInput())
	if err != nil {
		h.respondError(w, "create_beneficiary", err, zap.String("owner_id", ownerID))
		return
	}
	writeJSON(w, http.StatusCreated, newBeneficiaryResponse(*b))
}

func (h *Handlers) ListBeneficiariesHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	typ := domain.BeneficiaryType(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type"))))
	beneficiaries, err := h.service.ListBeneficiaries(r.Context(), ownerID, typ)
	if err != nil {
		h.respondError(w, "list_beneficiaries", err, zap.String("owner_id", ownerID))
		return
	}
	resp := make([]beneficiaryResponse, 0, len(beneficiaries))
	for _, b := range beneficiaries {
		resp = append(resp, newBeneficiaryResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"beneficiaries": resp})
}

func (h *Handlers) RenameBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req renameBeneficiaryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeRequestError(w, err)
		return
	}
	b, err := h.service.RenameBeneficiary(r.Context(), ownerID, id, req.Name)
	if err != nil {
		h.respondError(w, "rename_beneficiary", err, zap.String("beneficiary_id", id.String()))
		return
	}
	writeJSON(w, http.StatusOK, newBeneficiaryResponse(*b))
}

func (h *Handlers) ArchiveBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.ArchiveBeneficiary(r.Context(), ownerID, id); err != nil {
		h.respondError(w, "archive_beneficiary", err, zap.String("beneficiary_id", id.String()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
