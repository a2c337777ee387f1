package handlers

import (
	"net/http"
	"strconv"
	"strings"
)

func (api *API) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "X-User-Id header is required")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "q is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	results, err := api.search.Search(r.Context(), query, userID, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}
