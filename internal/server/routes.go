package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Events serves GET /events. Typically a *notify.Hub.
	Events http.Handler
	// Metrics serves GET /metrics. Typically promhttp.HandlerFor.
	Metrics http.Handler
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
	mux.HandleFunc("GET /languages", h.Languages)

	mux.HandleFunc("GET /recordings", h.ListRecordings)
	mux.HandleFunc("POST /recordings/start", h.StartRecording)
	mux.HandleFunc("POST /recordings/stop", h.StopRecording)
	mux.HandleFunc("POST /recordings/upload", h.UploadRecordings)
	mux.HandleFunc("DELETE /recordings/{id}", h.DeleteRecording)
	mux.HandleFunc("POST /recordings/{id}/export", h.ExportRecording)

	mux.HandleFunc("POST /speech", h.Speak)
	mux.HandleFunc("GET /speech/history", h.SpeechHistory)
	mux.HandleFunc("DELETE /speech/history", h.ClearSpeechHistory)
	mux.HandleFunc("DELETE /speech/history/{id}", h.DeleteSpeechItem)
	mux.HandleFunc("POST /speech/history/{id}/export", h.ExportSpeechItem)

	mux.HandleFunc("GET /settings", h.GetSettings)
	mux.HandleFunc("PUT /settings", h.PutSettings)

	mux.HandleFunc("GET /audio/{handle}", h.Audio)

	if cfg.Events != nil {
		mux.Handle("GET /events", cfg.Events)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
