package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/mailrag/internal/retrieval"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"index unavailable","type":"index_unavailable"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestRemoteSearch(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /search": `{"query":"budget from alice","results":[{"id":"m1","subject":"Budget","from":"alice@example.com","date":"Mon, 02 Jan 2006 15:04:05 +0000","snippet":"Numbers"}]}`,
	})

	results, err := ts.client().Search(ctx, "budget from alice", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "m1" {
		t.Fatalf("results = %+v", results)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Path != "/search?q=budget+from+alice&top_k=5" {
		t.Errorf("path = %q", r.Path)
	}
}

func TestRemoteSearch_OmitsZeroTopK(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /search": `{"query":"x","results":[]}`})

	if _, err := ts.client().Search(ctx, "a&b", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ts.requests[0].Path; got != "/search?q=a%26b" {
		t.Errorf("path = %q, want query escaped and no top_k", got)
	}
}

func TestRemoteAsk(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /ask": `{"id":"a1","question":"who?","answer":"Alice.","timestamp":"2025-01-01T00:00:00Z","emails":[]}`,
	})

	ans, err := ts.client().Ask(ctx, "who?", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Answer != "Alice." {
		t.Errorf("answer = %q", ans.Answer)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["question"] != "who?" || body["top_k"] != float64(3) {
		t.Errorf("body = %v", body)
	}
}

func TestAPIClient_ErrorResponse(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := ts.client().Search(ctx, "x", 0)
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "index unavailable") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestAPIClient_ServerDown(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", httpClient: http.DefaultClient}
	if c.Healthy(ctx) {
		t.Error("Healthy() = true for stopped server")
	}
	_, err := c.Search(ctx, "x", 0)
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestSearchCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"search"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing query")
	}
	if !strings.Contains(err.Error(), "arg") {
		t.Errorf("error = %q, want it to mention args", err.Error())
	}
}

func TestConfigSet_UnknownKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"config", "set", "no.such.key", "1"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "retrieval.top_k") {
		t.Errorf("error = %q, want it to list valid keys", err.Error())
	}
}

func TestConfigSet_WritesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"config", "set", "retrieval.top_k", "6"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "mailrag", "config.yaml"))
	if err != nil {
		t.Fatalf("reading config file: %v", err)
	}
	if !strings.Contains(string(data), "retrieval.top_k: 6") {
		t.Errorf("config file = %q", data)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestStatusOutput(t *testing.T) {
	oldColor, oldOut := noColor, statusOut
	defer func() { noColor, statusOut = oldColor, oldOut }()

	var buf bytes.Buffer
	noColor = true
	statusOut = &buf

	printStep("Fetching %d emails", 3)
	printStatus("Index", "%s", "gen-1")
	printError("boom")

	want := "→ Fetching 3 emails\n  Index: gen-1\n✗ boom\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestPrintResults(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var buf bytes.Buffer
	printResults(&buf, []retrieval.Result{
		{Subject: "Budget", From: "alice@example.com", Date: "Mon, 02 Jan 2006", Snippet: "Numbers attached"},
	})
	out := buf.String()
	for _, want := range []string{"1. Budget", "From: alice@example.com", "Numbers attached"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "To:") {
		t.Errorf("empty To should be omitted:\n%s", out)
	}

	buf.Reset()
	printResults(&buf, nil)
	if !strings.Contains(buf.String(), "No matching emails") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestTruncateLine(t *testing.T) {
	if got := truncateLine("a\n\nb   c", 10); got != "a b c" {
		t.Errorf("truncateLine = %q", got)
	}
	if got := truncateLine(strings.Repeat("ж", 12), 10); got != strings.Repeat("ж", 10)+"..." {
		t.Errorf("truncateLine = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}
