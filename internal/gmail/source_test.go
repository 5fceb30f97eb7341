package gmail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/mailrag/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func fakeGmail(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc, err := gmailapi.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewSource(svc)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestListRecentIDs(t *testing.T) {
	var gotMax string
	src := fakeGmail(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/messages" {
			http.NotFound(w, r)
			return
		}
		gotMax = r.URL.Query().Get("maxResults")
		writeJSON(w, map[string]any{
			"messages": []map[string]string{
				{"id": "m3", "threadId": "t1"},
				{"id": "m2", "threadId": "t1"},
				{"id": "", "threadId": "t2"},
			},
			"resultSizeEstimate": 3,
		})
	})

	ids, err := src.ListRecentIDs(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2"}, ids)
	assert.Equal(t, "500", gotMax)
}

func TestListRecentIDs_Error(t *testing.T) {
	src := fakeGmail(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]any{"error": map[string]any{"code": 401, "message": "invalid credentials"}})
	})

	_, err := src.ListRecentIDs(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing messages")
}

func TestGetMessage_ConvertsPayload(t *testing.T) {
	body := ingest.EncodeData([]byte("Plain body"))
	var gotFormat string
	src := fakeGmail(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/gmail/v1/users/me/messages/") {
			http.NotFound(w, r)
			return
		}
		gotFormat = r.URL.Query().Get("format")
		writeJSON(w, map[string]any{
			"id":       "m1",
			"threadId": "t1",
			"payload": map[string]any{
				"mimeType": "multipart/alternative",
				"headers": []map[string]string{
					{"name": "Subject", "value": "Quarterly report"},
					{"name": "From", "value": "alice@example.com"},
				},
				"body": map[string]any{"size": 0},
				"parts": []map[string]any{
					{"mimeType": "text/html", "body": map[string]any{"data": ingest.EncodeData([]byte("<p>x</p>"))}},
					{"mimeType": "text/plain", "body": map[string]any{"data": body}},
				},
			},
		})
	})

	msg, err := src.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "full", gotFormat)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "t1", msg.ThreadID)
	assert.Equal(t, "Quarterly report", msg.Payload.Header("subject"))
	require.Len(t, msg.Payload.Parts, 2)
	assert.Equal(t, "Plain body", ingest.ExtractBody(msg, nil))
}

func TestGetMessage_NotFound(t *testing.T) {
	src := fakeGmail(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"error": map[string]any{"code": 404, "message": "not found"}})
	})

	_, err := src.GetMessage(context.Background(), "gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone")
}

func TestWithLogger_NilKeepsDefault(t *testing.T) {
	src := NewSource(nil).WithLogger(nil)
	assert.NotNil(t, src.logger)
}
