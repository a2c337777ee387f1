package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mcosta/docingest-back/internal/cache"
	"github.com/mcosta/docingest-back/internal/config"
	httpserver "github.com/mcosta/docingest-back/internal/http"
	"github.com/mcosta/docingest-back/internal/http/handlers"
	"github.com/mcosta/docingest-back/internal/metrics"
	"github.com/mcosta/docingest-back/internal/quality"
	"github.com/mcosta/docingest-back/internal/queue"
	"github.com/mcosta/docingest-back/internal/repository"
	"github.com/mcosta/docingest-back/internal/service"
	"github.com/mcosta/docingest-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[docingest] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := godotenv.Load(".env", ".env.local"); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ingestRepo, docRepo, repoCloser := setupRepositories(ctx, cfg, logger)
	defer repoCloser()

	transport, localTransport, transportCloser := setupTransport(ctx, cfg, logger)
	defer transportCloser()

	m := metrics.New()

	jobQueue := queue.NewMemoryQueue(transport, queue.Config{
		DefaultAttempts:    cfg.QueueDefaultAttempts,
		DefaultBackoff:     time.Duration(cfg.QueueDefaultBackoffMS) * time.Millisecond,
		MaxBackoff:         time.Duration(cfg.QueueMaxBackoffMS) * time.Millisecond,
		CompletedHistory:   cfg.QueueCompletedHistory,
		FailedHistory:      cfg.QueueFailedHistory,
		ForwardConcurrency: cfg.QueueForwardConcurrency,
	}, logger)
	jobQueue.Start(ctx)
	m.Register(metrics.NewQueueCollector(jobQueue))

	searchCache := cache.NewSearchCache(cache.Config{
		TTL:        time.Duration(cfg.SearchCacheTTLSeconds) * time.Second,
		MaxEntries: cfg.SearchCacheMaxEntries,
	})
	searchService := service.NewSearchService(ingestRepo, docRepo, searchCache, m, logger)
	ingestionService := service.NewIngestionService(service.IngestionServiceDependencies{
		Ingestions:  ingestRepo,
		Documents:   docRepo,
		Queue:       jobQueue,
		Invalidator: searchService,
		Metrics:     m,
		Logger:      logger,
	})
	jobQueue.OnDispatchFailure(ingestionService.ReportDispatchFailure)
	statsService := service.NewStatsService(ingestRepo)
	validator := quality.NewCallbackValidator()

	if localTransport != nil && cfg.LocalWorkerEnabled {
		extractor := worker.NewStubExtractor(localTransport, logger)
		go extractor.Start(ctx)
		logger.Printf("local extraction worker started")
	}

	processor := worker.NewResultProcessor(transport, validator, ingestionService, logger)
	go processor.Start(ctx)

	api := handlers.NewAPI(ingestionService, searchService, statsService, jobQueue, validator)
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Metrics:        m.Handler(),
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		ServiceToken:   cfg.ServiceToken,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepositories(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.IngestionRepository, repository.DocumentRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repositories")
		return repository.NewMemoryIngestionRepository(), repository.NewMemoryDocumentRepository(), func() {}
	}

	pgIngestions, err := repository.NewPostgresIngestionRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repositories, fallback to memory: %v", err)
		return repository.NewMemoryIngestionRepository(), repository.NewMemoryDocumentRepository(), func() {}
	}
	logger.Printf("postgres repositories initialized")
	pgDocuments := repository.NewPostgresDocumentRepository(pgIngestions.Pool())
	return pgIngestions, pgDocuments, func() {
		pgIngestions.Close()
	}
}

func setupTransport(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Transport, *queue.LocalTransport, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local transport fallback")
		local := queue.NewLocalTransport(512, cfg.RedisResultRetries, logger)
		return local, local, func() {}
	}

	streams, err := queue.NewStreamsTransport(ctx, queue.StreamsConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		JobsStream:    cfg.RedisJobStream,
		ResultsStream: cfg.RedisResultStream,
		DLQStream:     cfg.RedisResultDLQ,
		Group:         cfg.RedisGroup,
		Consumer:      cfg.RedisConsumer,
		MaxAttempts:   cfg.RedisResultRetries,
	})
	if err != nil {
		logger.Printf("failed to initialize redis streams transport, fallback to local: %v", err)
		local := queue.NewLocalTransport(512, cfg.RedisResultRetries, logger)
		return local, local, func() {}
	}
	logger.Printf("redis streams transport initialized")
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingTransport(ctx, streams, queue.BatchingConfig{})
		logger.Printf("jobs stream batching enabled")
		return batching, nil, func() {
			batching.Close()
			_ = streams.Close()
		}
	}
	return streams, nil, func() {
		_ = streams.Close()
	}
}
