package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finledger/reconcile/internal/api/dto"
	"github.com/finledger/reconcile/internal/infrastructure/storage"
)

// ReviewHandler handles manual review of below-auto-apply matches.
type ReviewHandler struct {
	*Base
}

// NewReviewHandler creates a new review handler.
func NewReviewHandler(repo storage.Repository) *ReviewHandler {
	return &ReviewHandler{Base: NewBase(repo)}
}

// List handles GET /api/review - returns pending review matches.
func (h *ReviewHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := ParseIntParam(r, "limit", 50)

	matches, err := h.repo.ListPendingReview(r.Context(), limit)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.ReviewListResponse{
		Matches: make([]dto.ReviewMatchResponse, 0, len(matches)),
		Count:   len(matches),
	}
	for _, m := range matches {
		response.Matches = append(response.Matches, dto.ReviewMatchResponse{
			RunID:         m.RunID,
			LedgerID:      m.LedgerID,
			ExternalID:    m.ExternalID,
			Confidence:    m.Confidence,
			Signals:       m.Signals,
			DateDeltaDays: m.DateDeltaDays,
			AmountDelta:   m.AmountDelta,
			Status:        m.Status,
			CreatedAt:     m.CreatedAt.Format(timeFormat),
		})
	}

	h.WriteJSON(w, http.StatusOK, response)
}

// Dispose handles POST /api/review/{ledger_id} - accepts or rejects a
// pending match. Accepting goes through the same conflict checks as the
// engine's apply step, so a 409 means the external record was consumed since
// the match was surfaced.
func (h *ReviewHandler) Dispose(w http.ResponseWriter, r *http.Request) {
	ledgerID := chi.URLParam(r, "ledger_id")
	if ledgerID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("ledger id is required"))
		return
	}

	var req dto.DisposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}
	if !req.Valid() {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("external_id and action (accept|reject) are required"))
		return
	}

	accept := req.Action == "accept"
	if err := h.repo.DisposeReview(r.Context(), ledgerID, req.ExternalID, accept); err != nil {
		var conflict *storage.LinkConflictError
		if errors.As(err, &conflict) {
			h.WriteError(w, http.StatusConflict, dto.ConflictError(conflict.Error()))
			return
		}
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("pending review match"))
		return
	}

	status := storage.ReviewStatusRejected
	if accept {
		status = storage.ReviewStatusAccepted
	}

	h.WriteJSON(w, http.StatusOK, dto.DisposeResponse{
		LedgerID:   ledgerID,
		ExternalID: req.ExternalID,
		Status:     status,
	})
}
