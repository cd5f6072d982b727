package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finledger/reconcile/internal/api/dto"
	"github.com/finledger/reconcile/internal/infrastructure/storage"
)

// RunsHandler handles reconciliation run HTTP requests.
type RunsHandler struct {
	*Base
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(repo storage.Repository) *RunsHandler {
	return &RunsHandler{Base: NewBase(repo)}
}

// List handles GET /api/runs - returns recent reconciliation runs.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := ParseIntParam(r, "limit", 20)

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.RunListResponse{
		Runs:  make([]dto.RunResponse, 0, len(runs)),
		Count: len(runs),
	}
	for _, run := range runs {
		response.Runs = append(response.Runs, toRunResponse(run))
	}

	h.WriteJSON(w, http.StatusOK, response)
}

// Get handles GET /api/runs/{id} - returns a single run by id.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("run id is required"))
		return
	}

	run, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}
	if run == nil {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("run"))
		return
	}

	h.WriteJSON(w, http.StatusOK, toRunResponse(*run))
}

// toRunResponse converts a storage RunRecord to an API response.
func toRunResponse(run storage.RunRecord) dto.RunResponse {
	resp := dto.RunResponse{
		ID:                run.ID,
		Mode:              run.Mode,
		StartedAt:         run.StartedAt.Format(timeFormat),
		DateToleranceDays: run.DateToleranceDays,
		AutoApplyMin:      run.AutoApplyMin,
		ReviewMin:         run.ReviewMin,
		Status:            run.Status,
		AutoApplied:       run.AutoApplied,
		NeedsReview:       run.NeedsReview,
		UnmatchedLedger:   run.UnmatchedLedger,
		SkippedDuplicate:  run.SkippedDuplicate,
		TotalReconciled:   run.TotalReconciled,
	}
	if !run.CompletedAt.IsZero() {
		resp.CompletedAt = run.CompletedAt.Format(timeFormat)
	}
	return resp
}

const timeFormat = "2006-01-02T15:04:05Z07:00"
