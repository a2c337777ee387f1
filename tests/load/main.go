package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
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

const loadUserID = "load-user"

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server    *httptest.Server
	documents *repository.MemoryDocumentRepository
	cancel    context.CancelFunc
}

func main() {
	ingestionsTotal := flag.Int("ingestions-total", 240, "total ingestion create requests")
	ingestionsConcurrency := flag.Int("ingestions-concurrency", 24, "concurrency for ingestion create requests")
	statusTotal := flag.Int("status-total", 200, "total status poll requests")
	statusConcurrency := flag.Int("status-concurrency", 20, "concurrency for status poll requests")
	searchTotal := flag.Int("search-total", 160, "total search requests")
	searchConcurrency := flag.Int("search-concurrency", 16, "concurrency for search requests")
	statsTotal := flag.Int("stats-total", 120, "total stats requests")
	statsConcurrency := flag.Int("stats-concurrency", 12, "concurrency for stats requests")
	documents := flag.Int("documents", 48, "number of seeded documents")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment(*documents)
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer env.cancel()
	defer env.server.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	headers := map[string]string{"X-User-Id": loadUserID}

	var createdIDs sync.Map
	var createdCount int64

	ingestionsScenario := runScenario("ingestions_create", *ingestionsTotal, *ingestionsConcurrency, func(index int) error {
		payload := map[string]any{
			"document_id": documentID(index % *documents),
			"config":      map[string]any{"priority": index % 5},
		}
		body, err := postJSON(client, env.server.URL+"/v1/ingestions", payload, headers, http.StatusCreated)
		if err != nil {
			return err
		}
		if id, ok := body["ingestion_id"].(string); ok {
			slot := atomic.AddInt64(&createdCount, 1)
			createdIDs.Store(slot, id)
		}
		return nil
	})

	statusScenario := runScenario("ingestion_status", *statusTotal, *statusConcurrency, func(index int) error {
		total := atomic.LoadInt64(&createdCount)
		if total == 0 {
			return fmt.Errorf("no ingestions created")
		}
		value, ok := createdIDs.Load(int64(index)%total + 1)
		if !ok {
			return fmt.Errorf("missing ingestion id")
		}
		url := fmt.Sprintf("%s/v1/ingestions/%s", env.server.URL, value)
		_, err := getJSON(client, url, headers, http.StatusOK)
		return err
	})

	searchScenario := runScenario("search", *searchTotal, *searchConcurrency, func(index int) error {
		queries := []string{"invoice", "quarterly+report", "shipping+manifest", "vendor+contract"}
		url := fmt.Sprintf("%s/v1/search?q=%s&limit=10", env.server.URL, queries[index%len(queries)])
		_, err := getJSON(client, url, headers, http.StatusOK)
		return err
	})

	statsScenario := runScenario("ingestion_stats", *statsTotal, *statsConcurrency, func(index int) error {
		if index%3 == 0 {
			_, err := getJSON(client, env.server.URL+"/v1/queue/stats", headers, http.StatusOK)
			return err
		}
		_, err := getJSON(client, env.server.URL+"/v1/ingestions/stats", headers, http.StatusOK)
		return err
	})

	results := []scenarioResult{
		ingestionsScenario,
		statusScenario,
		searchScenario,
		statsScenario,
	}

	slo := map[string]bool{
		"ingestion_create_p95_le_500ms": ingestionsScenario.P95MS <= 500,
		"status_poll_p95_le_200ms":      statusScenario.P95MS <= 200,
		"search_p95_le_1000ms":          searchScenario.P95MS <= 1000,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func documentID(index int) string {
	return fmt.Sprintf("load-doc-%03d", index)
}

func startBenchmarkEnvironment(documents int) (*benchmarkEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	ingestRepo := repository.NewMemoryIngestionRepository()
	docRepo := repository.NewMemoryDocumentRepository()
	transport := queue.NewLocalTransport(4096, 3, logger)

	jobQueue := queue.NewMemoryQueue(transport, queue.Config{
		DefaultBackoff:     25 * time.Millisecond,
		ForwardConcurrency: 16,
	}, logger)
	jobQueue.Start(ctx)

	searchCache := cache.NewSearchCache(cache.Config{TTL: 10 * time.Minute, MaxEntries: 4000})
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

	if err := seedDocuments(ctx, docRepo, documents); err != nil {
		cancel()
		return nil, err
	}

	api := handlers.NewAPI(ingestionService, searchService, statsService, jobQueue, validator)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		server:    server,
		documents: docRepo,
		cancel:    cancel,
	}, nil
}

func seedDocuments(ctx context.Context, docRepo *repository.MemoryDocumentRepository, total int) error {
	dir, err := os.MkdirTemp("", "docingest-load")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}

	titles := []string{
		"Invoice Batch",
		"Quarterly Report",
		"Shipping Manifest",
		"Vendor Contract",
	}
	bodies := []string{
		"Invoice totals reconciled against purchase orders for the billing cycle.",
		"Quarterly report covering revenue, churn and projected growth targets.",
		"Shipping manifest listing container contents and customs declarations.",
		"Vendor contract terms including renewal windows and payment schedules.",
	}

	for i := 0; i < total; i++ {
		id := documentID(i)
		path := filepath.Join(dir, id+".txt")
		if err := os.WriteFile(path, []byte(bodies[i%len(bodies)]), 0o600); err != nil {
			return fmt.Errorf("write document file: %w", err)
		}
		err := docRepo.Put(ctx, &domain.Document{
			ID:       id,
			UserID:   loadUserID,
			Title:    fmt.Sprintf("%s %03d", titles[i%len(titles)], i),
			FileName: id + ".txt",
			FileType: "text/plain",
			FilePath: path,
			Status:   domain.DocumentStatusPending,
		})
		if err != nil {
			return fmt.Errorf("seed document: %w", err)
		}
	}
	return nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	result := scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
	return result
}

func postJSON(
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
	expectedStatus int,
) (map[string]any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if response.StatusCode != expectedStatus {
		return nil, fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(raw))
	}

	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return decoded, nil
}

func getJSON(
	client *http.Client,
	url string,
	headers map[string]string,
	expectedStatus int,
) (map[string]any, error) {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if response.StatusCode != expectedStatus {
		return nil, fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(raw))
	}

	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return decoded, nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
