package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/mailrag/internal/engine"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, text string) ([]float32, error)
}

func (m *mockEngine) Chat(context.Context, string, []engine.Message, engine.ChatOptions) (string, error) {
	return "", errors.New("not implemented")
}
func (m *mockEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}
func (m *mockEngine) IsRunning(context.Context) bool { return true }

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

func TestEmbed_UsesPinnedModel(t *testing.T) {
	var gotModel string
	mock := &mockEngine{
		embedFn: func(_ context.Context, model string, _ string) ([]float32, error) {
			gotModel = model
			return makeVector(1536), nil
		},
	}
	e := NewEmbedder(mock, "")

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 1536 {
		t.Errorf("got %d dimensions, want 1536", len(vec))
	}
	if gotModel != DefaultEmbedModel || e.Model() != DefaultEmbedModel {
		t.Errorf("model = %q, want %q", gotModel, DefaultEmbedModel)
	}
}

func TestEmbed_EngineError(t *testing.T) {
	boom := errors.New("connection refused")
	mock := &mockEngine{
		embedFn: func(context.Context, string, string) ([]float32, error) {
			return nil, boom
		},
	}
	_, err := NewEmbedder(mock, "m").Embed(context.Background(), "hello")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}
