package api

import (
	"errors"
	"net/http"
	"strconv"

	"stitchsentry/internal/logging"
	"stitchsentry/internal/store"
)

func (h *Handler) handleCreditBalance(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "org_id is required")
		return
	}
	balance, err := h.credits.Balance(r.Context(), orgID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "credit balance failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"org_id": orgID, "balance": balance})
}

func (h *Handler) handleCreditHistory(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "org_id is required")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	entries, err := h.credits.History(r.Context(), orgID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "credit history failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load history")
		return
	}
	views := make([]ledgerEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, newLedgerEntryView(&entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"org_id": orgID, "entries": views})
}

func (h *Handler) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.OrganizationID == "" || req.Amount <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "org_id and a positive amount are required")
		return
	}
	entry, err := h.credits.Grant(r.Context(), req.OrganizationID, req.Amount, req.Reason, string(req.Meta), req.IdempotencyKey)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "credit grant failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not grant credits")
		return
	}
	writeJSON(w, http.StatusOK, newLedgerEntryView(entry))
}

func (h *Handler) handleDebit(w http.ResponseWriter, r *http.Request) {
	var req debitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.OrganizationID == "" || req.Action == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "org_id and action are required")
		return
	}
	if h.plans.CreditCost(req.Action) <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "unknown_action", "no credit cost configured for action "+req.Action)
		return
	}
	entry, err := h.credits.DebitForAction(r.Context(), req.OrganizationID, req.Action, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			writeError(w, http.StatusConflict, "insufficient_credits", "not enough credits for "+req.Action)
			return
		}
		h.logger.ErrorContext(r.Context(), "credit debit failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not debit credits")
		return
	}
	writeJSON(w, http.StatusOK, newLedgerEntryView(entry))
}
