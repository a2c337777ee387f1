package handlers

import (
	"net/http"

	"github.com/mcosta/docingest-back/internal/domain"
)

// IngestionStats aggregates the caller's ingestions.
func (api *API) IngestionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-User-Id header is required")
		return
	}

	stats, err := api.stats.Compute(r.Context(), domain.IngestionFilter{UserID: userID})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// QueueStats exposes the processing queue's per-state job counts.
func (api *API) QueueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	stats, err := api.queueClient.Stats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to read queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
