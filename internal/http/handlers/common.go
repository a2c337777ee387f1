package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mcosta/docingest-back/internal/domain"
	"github.com/mcosta/docingest-back/internal/http/middleware"
	"github.com/mcosta/docingest-back/internal/quality"
	"github.com/mcosta/docingest-back/internal/queue"
	"github.com/mcosta/docingest-back/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	ingestions  *service.IngestionService
	search      *service.SearchService
	stats       *service.StatsService
	queueClient queue.Client
	validator   *quality.CallbackValidator
	idempotency *idempotencyStore
}

func NewAPI(
	ingestions *service.IngestionService,
	search *service.SearchService,
	stats *service.StatsService,
	queueClient queue.Client,
	validator *quality.CallbackValidator,
) *API {
	return &API{
		ingestions:  ingestions,
		search:      search,
		stats:       stats,
		queueClient: queueClient,
		validator:   validator,
		idempotency: newIdempotencyStore(),
	}
}

type createIngestionRequest struct {
	DocumentID string                  `json:"document_id"`
	Config     domain.ProcessingConfig `json:"config"`
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func requestUserID(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" || len(userID) > 64 {
		return "", errInvalidPayload
	}
	return userID, nil
}

func renderIngestion(ingestion *domain.Ingestion) map[string]any {
	response := map[string]any{
		"ingestion_id": ingestion.ID,
		"document_id":  ingestion.DocumentID,
		"status":       ingestion.Status,
		"progress":     ingestion.Progress,
		"created_at":   ingestion.CreatedAt,
		"updated_at":   ingestion.UpdatedAt,
	}
	if ingestion.StartedAt != nil {
		response["started_at"] = ingestion.StartedAt
	}
	if ingestion.CompletedAt != nil {
		response["completed_at"] = ingestion.CompletedAt
	}
	if ingestion.Logs.JobID != "" {
		response["job_id"] = ingestion.Logs.JobID
	}
	if ingestion.Logs.ProcessingResult != nil {
		response["processing_result"] = ingestion.Logs.ProcessingResult
	}
	if strings.TrimSpace(ingestion.Error) != "" {
		response["error"] = map[string]any{
			"code":    "processing_error",
			"message": ingestion.Error,
		}
	}
	return response
}

const (
	idempotencyTTL        = 24 * time.Hour
	idempotencyMaxEntries = 10000
)

type idempotencyEntry struct {
	PayloadHash uint64
	IngestionID string
	CreatedAt   time.Time
}

// idempotencyStore deduplicates create requests per Idempotency-Key. Entries
// expire after a TTL and the store evicts the oldest keys past a cap, so a
// long-lived process does not accumulate keys without bound.
type idempotencyStore struct {
	mu         sync.Mutex
	entries    map[string]idempotencyEntry
	ttl        time.Duration
	maxEntries int
}

func newIdempotencyStore() *idempotencyStore {
	return newIdempotencyStoreWith(idempotencyTTL, idempotencyMaxEntries)
}

func newIdempotencyStoreWith(ttl time.Duration, maxEntries int) *idempotencyStore {
	return &idempotencyStore{
		entries:    make(map[string]idempotencyEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return idempotencyEntry{}, false
	}
	if time.Since(entry.CreatedAt) > s.ttl {
		delete(s.entries, key)
		return idempotencyEntry{}, false
	}
	return entry, true
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, ingestionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		IngestionID: ingestionID,
		CreatedAt:   time.Now().UTC(),
	}
	if len(s.entries) > s.maxEntries {
		s.evictLocked()
	}
}

func (s *idempotencyStore) evictLocked() {
	now := time.Now()
	for key, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.ttl {
			delete(s.entries, key)
		}
	}
	for len(s.entries) > s.maxEntries {
		oldestKey := ""
		var oldestAt time.Time
		for key, entry := range s.entries {
			if oldestKey == "" || entry.CreatedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = entry.CreatedAt
			}
		}
		delete(s.entries, oldestKey)
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
