package handlers

import (
	"errors"
	"net/http"

	"github.com/mcosta/docingest-back/internal/domain"
	"github.com/mcosta/docingest-back/internal/quality"
	"github.com/mcosta/docingest-back/internal/repository"
)

// ProcessingCallback receives worker fleet results over HTTP. The route is
// guarded by the shared service token middleware.
func (api *API) ProcessingCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var payload domain.CallbackPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed callback body")
		return
	}

	validated, err := api.validator.Validate(payload)
	if err != nil {
		if errors.Is(err, quality.ErrInvalidCallback) {
			writeError(w, r, http.StatusBadRequest, "invalid_callback", err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to validate callback")
		return
	}

	ingestionID, err := api.ingestions.ResolveCallback(r.Context(), validated.DocumentID, validated.Result)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "no ingestion for document")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to apply callback")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "accepted",
		"ingestion_id": ingestionID,
	})
}
