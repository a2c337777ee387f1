package httpserver

import (
	"log"
	"net/http"

	"github.com/mcosta/docingest-back/internal/http/handlers"
	"github.com/mcosta/docingest-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Metrics        http.Handler
	Logger         *log.Logger
	AuthToken      string
	ServiceToken   string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/ingestions", deps.API.Ingestions)
	mux.HandleFunc("/v1/ingestions/stats", deps.API.IngestionStats)
	mux.HandleFunc("/v1/ingestions/", deps.API.IngestionByID)
	mux.HandleFunc("/v1/search", deps.API.Search)
	mux.HandleFunc("/v1/queue/stats", deps.API.QueueStats)
	mux.HandleFunc("/internal/callbacks/processing", deps.API.ProcessingCallback)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.ServiceAuth(deps.ServiceToken)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
