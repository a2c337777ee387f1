package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port string

	AuthToken    string
	ServiceToken string

	DatabaseURL string

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisJobStream     string
	RedisResultStream  string
	RedisResultDLQ     string
	RedisGroup         string
	RedisConsumer      string
	RedisResultRetries int

	QueueDefaultAttempts    int
	QueueDefaultBackoffMS   int
	QueueMaxBackoffMS       int
	QueueCompletedHistory   int
	QueueFailedHistory      int
	QueueForwardConcurrency int
	QueueBatchingEnabled    bool

	SearchCacheTTLSeconds int
	SearchCacheMaxEntries int

	RateLimitRPS   float64
	RateLimitBurst int

	CORSOrigins []string

	LocalWorkerEnabled bool
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:    getEnv("API_AUTH_TOKEN", ""),
		ServiceToken: getEnv("SERVICE_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RedisJobStream:     getEnv("REDIS_JOB_STREAM", "doc_jobs"),
		RedisResultStream:  getEnv("REDIS_RESULT_STREAM", "doc_results"),
		RedisResultDLQ:     getEnv("REDIS_RESULT_DLQ_STREAM", "doc_results_dlq"),
		RedisGroup:         getEnv("REDIS_GROUP", "doc_api"),
		RedisConsumer:      getEnv("REDIS_CONSUMER", "api-1"),
		RedisResultRetries: getEnvInt("REDIS_RESULT_RETRIES", 3),

		QueueDefaultAttempts:    getEnvInt("QUEUE_DEFAULT_ATTEMPTS", 3),
		QueueDefaultBackoffMS:   getEnvInt("QUEUE_DEFAULT_BACKOFF_MS", 2000),
		QueueMaxBackoffMS:       getEnvInt("QUEUE_MAX_BACKOFF_MS", 60000),
		QueueCompletedHistory:   getEnvInt("QUEUE_COMPLETED_HISTORY", 50),
		QueueFailedHistory:      getEnvInt("QUEUE_FAILED_HISTORY", 100),
		QueueForwardConcurrency: getEnvInt("QUEUE_FORWARD_CONCURRENCY", 4),
		QueueBatchingEnabled:    getEnvBool("QUEUE_BATCHING_ENABLED", true),

		SearchCacheTTLSeconds: getEnvInt("SEARCH_CACHE_TTL_SECONDS", 300),
		SearchCacheMaxEntries: getEnvInt("SEARCH_CACHE_MAX_ENTRIES", 1000),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),

		LocalWorkerEnabled: getEnvBool("LOCAL_WORKER_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			list = append(list, part)
		}
	}
	if len(list) == 0 {
		return fallback
	}
	return list
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
