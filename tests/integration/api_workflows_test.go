package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcosta/docingest-back/internal/cache"
	"github.com/mcosta/docingest-back/internal/domain"
	httpserver "github.com/mcosta/docingest-back/internal/http"
	"github.com/mcosta/docingest-back/internal/http/handlers"
	"github.com/mcosta/docingest-back/internal/quality"
	"github.com/mcosta/docingest-back/internal/queue"
	"github.com/mcosta/docingest-back/internal/repository"
	"github.com/mcosta/docingest-back/internal/service"
	"github.com/mcosta/docingest-back/internal/worker"
)

type integrationRuntime struct {
	server    *httptest.Server
	documents *repository.MemoryDocumentRepository
	cancel    context.CancelFunc
}

func startIntegrationRuntime(t *testing.T) integrationRuntime {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	ingestRepo := repository.NewMemoryIngestionRepository()
	docRepo := repository.NewMemoryDocumentRepository()
	transport := queue.NewLocalTransport(256, 3, logger)

	jobQueue := queue.NewMemoryQueue(transport, queue.Config{
		DefaultBackoff: 10 * time.Millisecond,
	}, logger)
	jobQueue.Start(ctx)

	searchCache := cache.NewSearchCache(cache.Config{TTL: 10 * time.Minute, MaxEntries: 100})
	searchService := service.NewSearchService(ingestRepo, docRepo, searchCache, nil, logger)
	ingestionService := service.NewIngestionService(service.IngestionServiceDependencies{
		Ingestions:  ingestRepo,
		Documents:   docRepo,
		Queue:       jobQueue,
		Invalidator: searchService,
		Logger:      logger,
	})
	jobQueue.OnDispatchFailure(ingestionService.ReportDispatchFailure)
	statsService := service.NewStatsService(ingestRepo)
	validator := quality.NewCallbackValidator()

	extractor := worker.NewStubExtractor(transport, logger)
	go extractor.Start(ctx)
	processor := worker.NewResultProcessor(transport, validator, ingestionService, logger)
	go processor.Start(ctx)

	api := handlers.NewAPI(ingestionService, searchService, statsService, jobQueue, validator)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	server := httptest.NewServer(router)
	return integrationRuntime{
		server:    server,
		documents: docRepo,
		cancel: func() {
			cancel()
			server.Close()
		},
	}
}

func seedDocument(t *testing.T, runtime integrationRuntime, documentID, userID, title, content string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), documentID+".txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write document file: %v", err)
	}
	err := runtime.documents.Put(context.Background(), &domain.Document{
		ID:       documentID,
		UserID:   userID,
		Title:    title,
		FileName: documentID + ".txt",
		FileType: "text/plain",
		FilePath: path,
		Status:   domain.DocumentStatusPending,
	})
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
}

func postJSON(
	t *testing.T,
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
) (int, map[string]any) {
	t.Helper()

	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode response body (%d): %s", response.StatusCode, string(raw))
	}

	return response.StatusCode, decoded
}

func getJSON(
	t *testing.T,
	client *http.Client,
	url string,
	headers map[string]string,
) (int, map[string]any) {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build get request: %v", err)
	}
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute get request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode get response body (%d): %s", response.StatusCode, string(raw))
	}

	return response.StatusCode, decoded
}

func waitForIngestionStatus(
	t *testing.T,
	client *http.Client,
	baseURL string,
	ingestionID string,
	want string,
	timeout time.Duration,
) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var last map[string]any
	for time.Now().Before(deadline) {
		status, body := getJSON(t, client, fmt.Sprintf("%s/v1/ingestions/%s", baseURL, ingestionID), nil)
		if status == http.StatusOK {
			last = body
			current, _ := body["status"].(string)
			if current == want {
				return body
			}
			if current == "failed" && want != "failed" {
				t.Fatalf("ingestion %s failed: %+v", ingestionID, body)
			}
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for ingestion %s to reach %s, last=%+v", ingestionID, want, last)
	return nil
}

func TestIngestionLifecycleEndToEnd(t *testing.T) {
	runtime := startIntegrationRuntime(t)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL
	userHeaders := map[string]string{"X-User-Id": "user-e2e"}

	seedDocument(t, runtime, "doc-guide", "user-e2e", "Machine Learning Guide",
		"Machine learning models improve with training data. Training pipelines "+
			"validate machine learning models before deployment so regressions "+
			"surface early and stay visible to the whole team.")

	createStatus, createBody := postJSON(
		t,
		client,
		baseURL+"/v1/ingestions",
		map[string]any{"document_id": "doc-guide"},
		userHeaders,
	)
	if createStatus != http.StatusCreated {
		t.Fatalf("expected 201 from create, got %d body=%+v", createStatus, createBody)
	}
	ingestionID, _ := createBody["ingestion_id"].(string)
	if strings.TrimSpace(ingestionID) == "" {
		t.Fatalf("expected ingestion id, got %+v", createBody)
	}

	final := waitForIngestionStatus(t, client, baseURL, ingestionID, "completed", 4*time.Second)
	if progress, _ := final["progress"].(float64); progress != 100 {
		t.Fatalf("expected progress 100 on completion, got %+v", final["progress"])
	}

	searchStatus, searchBody := getJSON(
		t,
		client,
		baseURL+"/v1/search?q=machine+learning",
		userHeaders,
	)
	if searchStatus != http.StatusOK {
		t.Fatalf("expected 200 from search, got %d body=%+v", searchStatus, searchBody)
	}
	results, ok := searchBody["results"].([]any)
	if !ok || len(results) == 0 {
		t.Fatalf("expected search results for processed document, got %+v", searchBody)
	}
	first, _ := results[0].(map[string]any)
	if documentID, _ := first["document_id"].(string); documentID != "doc-guide" {
		t.Fatalf("expected doc-guide as top result, got %+v", first)
	}
	if score, _ := first["relevance_score"].(float64); score <= 0 {
		t.Fatalf("expected positive relevance score, got %+v", first)
	}

	statsStatus, statsBody := getJSON(t, client, baseURL+"/v1/ingestions/stats", userHeaders)
	if statsStatus != http.StatusOK {
		t.Fatalf("expected 200 from stats, got %d body=%+v", statsStatus, statsBody)
	}
	if completed, _ := statsBody["completed"].(float64); completed != 1 {
		t.Fatalf("expected 1 completed ingestion in stats, got %+v", statsBody)
	}
	if rate, _ := statsBody["success_rate"].(float64); rate != 100 {
		t.Fatalf("expected success_rate 100, got %+v", statsBody)
	}

	queueStatus, queueBody := getJSON(t, client, baseURL+"/v1/queue/stats", userHeaders)
	if queueStatus != http.StatusOK {
		t.Fatalf("expected 200 from queue stats, got %d body=%+v", queueStatus, queueBody)
	}
}

func TestCancelAndOwnershipRules(t *testing.T) {
	runtime := startIntegrationRuntime(t)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL
	ownerHeaders := map[string]string{"X-User-Id": "owner-1"}

	seedDocument(t, runtime, "doc-hold", "owner-1", "Quarterly Report",
		"Quarterly revenue summary with projections for the next period.")

	manual := false
	createStatus, createBody := postJSON(
		t,
		client,
		baseURL+"/v1/ingestions",
		map[string]any{
			"document_id": "doc-hold",
			"config":      map[string]any{"auto_process": manual},
		},
		ownerHeaders,
	)
	if createStatus != http.StatusCreated {
		t.Fatalf("expected 201 from create, got %d body=%+v", createStatus, createBody)
	}
	if status, _ := createBody["status"].(string); status != "queued" {
		t.Fatalf("expected queued status without auto dispatch, got %+v", createBody)
	}
	ingestionID, _ := createBody["ingestion_id"].(string)

	forbiddenStatus, forbiddenBody := postJSON(
		t,
		client,
		fmt.Sprintf("%s/v1/ingestions/%s/cancel", baseURL, ingestionID),
		map[string]any{},
		map[string]string{"X-User-Id": "intruder-9"},
	)
	if forbiddenStatus != http.StatusForbidden {
		t.Fatalf("expected 403 cancelling another user's ingestion, got %d body=%+v", forbiddenStatus, forbiddenBody)
	}

	cancelStatus, cancelBody := postJSON(
		t,
		client,
		fmt.Sprintf("%s/v1/ingestions/%s/cancel", baseURL, ingestionID),
		map[string]any{},
		ownerHeaders,
	)
	if cancelStatus != http.StatusOK {
		t.Fatalf("expected 200 from cancel, got %d body=%+v", cancelStatus, cancelBody)
	}
	if status, _ := cancelBody["status"].(string); status != "cancelled" {
		t.Fatalf("expected cancelled status, got %+v", cancelBody)
	}
	errEnvelope, ok := cancelBody["error"].(map[string]any)
	if !ok || !strings.Contains(fmt.Sprintf("%v", errEnvelope["message"]), "cancelled by user") {
		t.Fatalf("expected cancellation message in error envelope, got %+v", cancelBody)
	}

	repeatStatus, repeatBody := postJSON(
		t,
		client,
		fmt.Sprintf("%s/v1/ingestions/%s/cancel", baseURL, ingestionID),
		map[string]any{},
		ownerHeaders,
	)
	if repeatStatus != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a finished ingestion, got %d body=%+v", repeatStatus, repeatBody)
	}
	envelope, ok := repeatBody["error"].(map[string]any)
	if !ok || fmt.Sprintf("%v", envelope["code"]) != "invalid_state" {
		t.Fatalf("expected invalid_state error envelope, got %+v", repeatBody)
	}
}

func TestIdempotentCreateAndCallbackReplay(t *testing.T) {
	runtime := startIntegrationRuntime(t)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL
	userHeaders := map[string]string{
		"X-User-Id":       "user-idem",
		"Idempotency-Key": "create-doc-notes-001",
	}

	seedDocument(t, runtime, "doc-notes", "user-idem", "Meeting Notes",
		"Notes from the planning meeting covering roadmap and staffing.")

	payload := map[string]any{"document_id": "doc-notes"}
	firstStatus, firstBody := postJSON(t, client, baseURL+"/v1/ingestions", payload, userHeaders)
	if firstStatus != http.StatusCreated {
		t.Fatalf("expected 201 from first create, got %d body=%+v", firstStatus, firstBody)
	}
	firstID, _ := firstBody["ingestion_id"].(string)

	secondStatus, secondBody := postJSON(t, client, baseURL+"/v1/ingestions", payload, userHeaders)
	if secondStatus != http.StatusOK {
		t.Fatalf("expected 200 from idempotent replay, got %d body=%+v", secondStatus, secondBody)
	}
	if secondID, _ := secondBody["ingestion_id"].(string); secondID != firstID {
		t.Fatalf("expected replay to return the same ingestion, got %s vs %s", secondID, firstID)
	}

	conflictStatus, conflictBody := postJSON(
		t,
		client,
		baseURL+"/v1/ingestions",
		map[string]any{
			"document_id": "doc-notes",
			"config":      map[string]any{"perform_ocr": true},
		},
		userHeaders,
	)
	if conflictStatus != http.StatusConflict {
		t.Fatalf("expected 409 for key reuse with new payload, got %d body=%+v", conflictStatus, conflictBody)
	}

	waitForIngestionStatus(t, client, baseURL, firstID, "completed", 4*time.Second)

	// Replaying the worker callback over HTTP after completion is a no-op.
	replayStatus, replayBody := postJSON(
		t,
		client,
		baseURL+"/internal/callbacks/processing",
		map[string]any{
			"document_id": "doc-notes",
			"result": map[string]any{
				"success": false,
				"errors":  []string{"late duplicate delivery"},
			},
		},
		nil,
	)
	if replayStatus != http.StatusOK {
		t.Fatalf("expected 200 from replayed callback, got %d body=%+v", replayStatus, replayBody)
	}

	finalStatus, finalBody := getJSON(
		t,
		client,
		fmt.Sprintf("%s/v1/ingestions/%s", baseURL, firstID),
		nil,
	)
	if finalStatus != http.StatusOK {
		t.Fatalf("expected 200 from status, got %d", finalStatus)
	}
	if status, _ := finalBody["status"].(string); status != "completed" {
		t.Fatalf("expected completed status to survive replay, got %+v", finalBody)
	}
}
