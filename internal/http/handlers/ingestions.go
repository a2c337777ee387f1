package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mcosta/docingest-back/internal/repository"
	"github.com/mcosta/docingest-back/internal/service"
)

// Ingestions handles the collection endpoints: create and list.
func (api *API) Ingestions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.createIngestion(w, r)
	case http.MethodGet:
		api.listIngestions(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) createIngestion(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-User-Id header is required")
		return
	}

	var request createIngestionRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	documentID := strings.TrimSpace(request.DocumentID)
	if documentID == "" || len(documentID) > 128 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "document_id is required")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, ok := api.idempotency.Get(userID + ":" + idempotencyKey); ok {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "idempotency key reused with a different payload")
				return
			}
			if existing, err := api.ingestions.Get(r.Context(), entry.IngestionID); err == nil {
				writeJSON(w, http.StatusOK, renderIngestion(existing))
				return
			}
		}
	}

	ingestion, err := api.ingestions.Create(r.Context(), documentID, userID, request.Config)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "document not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to create ingestion")
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Put(userID+":"+idempotencyKey, payloadHash, ingestion.ID)
	}
	writeJSON(w, http.StatusCreated, renderIngestion(ingestion))
}

func (api *API) listIngestions(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-User-Id header is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	ingestions, err := api.ingestions.List(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list ingestions")
		return
	}

	items := make([]map[string]any, 0, len(ingestions))
	for _, ingestion := range ingestions {
		items = append(items, renderIngestion(ingestion))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ingestions": items,
		"count":      len(items),
	})
}

// IngestionByID routes /v1/ingestions/{id}, /v1/ingestions/{id}/dispatch and
// /v1/ingestions/{id}/cancel.
func (api *API) IngestionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/ingestions/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "ingestion id is required")
		return
	}

	ingestionID := rest
	action := ""
	if index := strings.Index(rest, "/"); index >= 0 {
		ingestionID = rest[:index]
		action = rest[index+1:]
	}

	switch action {
	case "":
		api.ingestionStatus(w, r, ingestionID)
	case "dispatch":
		api.dispatchIngestion(w, r, ingestionID)
	case "cancel":
		api.cancelIngestion(w, r, ingestionID)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown ingestion action")
	}
}

func (api *API) ingestionStatus(w http.ResponseWriter, r *http.Request, ingestionID string) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	view, err := api.ingestions.Status(r.Context(), ingestionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "ingestion not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load ingestion")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) dispatchIngestion(w http.ResponseWriter, r *http.Request, ingestionID string) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-User-Id header is required")
		return
	}

	if err := api.ingestions.Dispatch(r.Context(), ingestionID, userID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "ingestion not found")
		case errors.Is(err, service.ErrForbidden):
			writeError(w, r, http.StatusForbidden, "forbidden", "ingestion belongs to another user")
		case errors.Is(err, service.ErrInvalidState):
			writeError(w, r, http.StatusConflict, "invalid_state", "ingestion is not queued")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to dispatch ingestion")
		}
		return
	}

	view, err := api.ingestions.Status(r.Context(), ingestionID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load ingestion")
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

func (api *API) cancelIngestion(w http.ResponseWriter, r *http.Request, ingestionID string) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-User-Id header is required")
		return
	}

	ingestion, err := api.ingestions.Cancel(r.Context(), ingestionID, userID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "ingestion not found")
		case errors.Is(err, service.ErrForbidden):
			writeError(w, r, http.StatusForbidden, "forbidden", "ingestion belongs to another user")
		case errors.Is(err, service.ErrInvalidState):
			writeError(w, r, http.StatusConflict, "invalid_state", "ingestion already finished")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to cancel ingestion")
		}
		return
	}
	writeJSON(w, http.StatusOK, renderIngestion(ingestion))
}
