package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kalambet/mailrag/internal/api"
	"github.com/kalambet/mailrag/internal/assistant"
	"github.com/kalambet/mailrag/internal/retrieval"
)

// apiClient talks to a running `mailrag serve` so search and ask can reuse
// its warm index instead of loading their own.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Search calls GET /search. A topK of zero leaves the server default.
func (c *apiClient) Search(ctx context.Context, query string, topK int) ([]retrieval.Result, error) {
	q := url.Values{"q": {query}}
	if topK > 0 {
		q.Set("top_k", strconv.Itoa(topK))
	}
	var out api.SearchResponse
	if err := c.call(ctx, http.MethodGet, "/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Ask calls POST /ask.
func (c *apiClient) Ask(ctx context.Context, question string, topK int) (assistant.Answer, error) {
	var ans assistant.Answer
	err := c.call(ctx, http.MethodPost, "/ask", api.AskRequest{Question: question, TopK: topK}, &ans)
	return ans, err
}

// Healthy reports whether the server answers its health check.
func (c *apiClient) Healthy(ctx context.Context) bool {
	return c.call(ctx, http.MethodGet, "/health", nil, nil) == nil
}

// call sends in as JSON (when non-nil) and decodes the response into out
// (when non-nil). Error responses are turned into errors carrying the
// server's message.
func (c *apiClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is `mailrag serve` running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func responseError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
	}
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error.Message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(raw))
}
