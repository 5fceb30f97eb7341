package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/mailrag/internal/assistant"
	"github.com/kalambet/mailrag/internal/index"
	"github.com/kalambet/mailrag/internal/ingest"
	"github.com/kalambet/mailrag/internal/refresh"
	"github.com/kalambet/mailrag/internal/retrieval"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Searcher runs hybrid retrieval.
type Searcher interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
}

// Asker answers questions and lists past answers.
type Asker interface {
	Ask(ctx context.Context, question string, topK int) (assistant.Answer, error)
	History(ctx context.Context, limit int) ([]assistant.HistoryEntry, error)
}

// Refresher pulls new mail and rebuilds the index.
type Refresher interface {
	Refresh(ctx context.Context) (refresh.Result, error)
}

// Deps holds the collaborators behind the HTTP and MCP surfaces.
// Refresher is optional; without it POST /refresh returns 501.
type Deps struct {
	Retriever Searcher
	Assistant Asker
	Refresher Refresher
	TopK      int
	Logger    *slog.Logger
}

func (d Deps) topK() int {
	if d.TopK > 0 {
		return d.TopK
	}
	return retrieval.DefaultTopK
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewHandler returns the REST API. Routes are also mounted under /api, where
// the web frontend expects them.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(deps.logger()))
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	routes := func(r chi.Router) {
		r.Get("/search", handleSearch(deps))
		r.Post("/ask", handleAsk(deps))
		r.Get("/history", handleHistory(deps))
		r.Post("/refresh", handleRefresh(deps))
	}
	routes(r)
	r.Route("/api", routes)

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// writeDomainError maps retrieval and refresh failures to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var embedErr *retrieval.EmbeddingError
	var fetchErr *ingest.SourceFetchError
	switch {
	case errors.Is(err, index.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "index_unavailable", "%v", err)
	case errors.As(err, &embedErr):
		httpError(w, http.StatusBadGateway, "embedding_error", "%v", err)
	case errors.As(err, &fetchErr):
		httpError(w, http.StatusBadGateway, "source_error", "%v", err)
	case errors.Is(err, assistant.ErrEmptyQuestion):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "timeout", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
