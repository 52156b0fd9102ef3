package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dripline/dripline/internal/service"
)

// RunSequence triggers one batch run. Query parameters: limit (defaults to
// sequence.batch_limit) and dryRun.
func (h *Handler) RunSequence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := h.batchSvc.DefaultLimit()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	dryRun := false
	if raw := q.Get("dryRun"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_dry_run", "dryRun must be true or false")
			return
		}
		dryRun = b
	}

	summary, err := h.batchSvc.RunBatch(r.Context(), limit, dryRun)
	switch {
	case errors.Is(err, service.ErrBatchInProgress):
		writeError(w, http.StatusConflict, "batch_in_progress", "Another batch run is in progress")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.log.Warn().Err(err).Msg("batch run interrupted")
		writeErrorWithDetails(w, r, http.StatusServiceUnavailable, "batch_interrupted", "Batch run was interrupted", map[string]interface{}{
			"summary": summary,
		})
	case err != nil:
		h.log.Error().Err(err).Msg("batch run failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Batch run failed")
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}
