package server

import (
	"log/slog"
	"net/http"

	"github.com/maauso/framekit-api/internal/storage"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// FilesRoot is served read-only under /files/. Empty disables the route.
	FilesRoot string
	// Metrics exposes GET /metrics and records per-request metrics when set.
	Metrics MetricsRecorder
}

// MetricsRecorder exposes the scrape handler and wraps handlers with request metrics.
type MetricsRecorder interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/jobs/{module_id}/{job_id}", h.GetJob)
	mux.HandleFunc("GET /api/download", h.Download)

	mux.HandleFunc("POST /api/tasks/extract-frames", h.ExtractFrames)
	mux.HandleFunc("POST /api/tasks/mp4-to-gif", h.MP4ToGIF)
	mux.HandleFunc("POST /api/tasks/extract-single-frame", h.ExtractSingleFrame)

	if cfg.FilesRoot != "" {
		mux.Handle("GET "+storage.FilesPrefix, http.StripPrefix(storage.FilesPrefix, http.FileServer(http.Dir(cfg.FilesRoot))))
	}

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}

	return ChainMiddleware(middlewares...)(mux)
}
