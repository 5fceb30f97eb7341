package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/kalambet/mailrag/internal/assistant"
	"github.com/kalambet/mailrag/internal/retrieval"
)

const maxTopK = 50

type AskRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type SearchResponse struct {
	Query   string             `json:"query"`
	Results []retrieval.Result `json:"results"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		topK := deps.topK()
		if raw := r.URL.Query().Get("top_k"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 || v > maxTopK {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "top_k must be between 1 and %d", maxTopK)
				return
			}
			if v > 0 {
				topK = v
			}
		}

		results, err := deps.Retriever.Retrieve(r.Context(), q, topK)
		if err != nil {
			deps.logger().Warn("search failed", "error", err)
			writeDomainError(w, err)
			return
		}
		if results == nil {
			results = []retrieval.Result{}
		}
		writeJSON(w, SearchResponse{Query: q, Results: results})
	}
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		if req.TopK < 0 || req.TopK > maxTopK {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "top_k must be between 1 and %d", maxTopK)
			return
		}

		answer, err := deps.Assistant.Ask(r.Context(), req.Question, req.TopK)
		if err != nil {
			deps.logger().Warn("ask failed", "error", err)
			writeDomainError(w, err)
			return
		}
		writeJSON(w, answer)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		entries, err := deps.Assistant.History(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}
		if entries == nil {
			entries = []assistant.HistoryEntry{}
		}
		writeJSON(w, entries)
	}
}

func handleRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Refresher == nil {
			httpError(w, http.StatusNotImplemented, "not_configured", "refresh is not configured")
			return
		}
		res, err := deps.Refresher.Refresh(r.Context())
		if err != nil {
			deps.logger().Warn("refresh failed", "error", err)
			writeDomainError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
