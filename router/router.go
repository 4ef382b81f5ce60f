// Package router wires the chi middleware chain and route table for
// the proxy front: the chat-completion, models, health and metrics
// endpoints.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Inblac/gpt-proxy/config"
	"github.com/Inblac/gpt-proxy/dispatch"
	"github.com/Inblac/gpt-proxy/handler"
	gwmw "github.com/Inblac/gpt-proxy/middleware"
	"github.com/Inblac/gpt-proxy/metrics"
)

// New returns a configured chi Router. reg may be nil, in which case
// /metrics is not mounted.
func New(cfg *config.Config, logger zerolog.Logger, engine *dispatch.Engine, reg *metrics.Registry) http.Handler {
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	r.Use(gwmw.CORS([]string{"*"}))
	r.Use(gwmw.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(maxBodySize(cfg.MaxBodyBytes))

	r.Get("/healthz", handler.Health)
	if reg != nil {
		r.Get("/metrics", reg.Handler())
	}

	chatHandler := handler.NewChatHandler(engine, logger)
	modelsHandler := handler.NewModelsHandler(engine, logger)

	r.Route("/v1", func(r chi.Router) {
		r.Use(gwmw.Auth(cfg.ProxyTokens))
		r.Post("/chat/completions", chatHandler.ServeHTTP)
		r.Get("/models", modelsHandler.ServeHTTP)
	})

	return r
}

// maxBodySize rejects oversized request bodies before they reach a
// handler.
func maxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"error":{"message":"request body too large"}}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger emits one structured log line per completed request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
