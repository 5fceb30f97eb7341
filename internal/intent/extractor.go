package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/mailrag/internal/engine"
)

const extractionTimeout = 5 * time.Second

// Chatter is the interface for chat completion used by LLMExtractor.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts engine.ChatOptions) (string, error)
}

// LLMExtractor asks a chat model to pull clues out of the query. Any failure
// falls back to the wrapped extractor so retrieval never blocks on it.
type LLMExtractor struct {
	client   Chatter
	model    string
	fallback Extractor
	logger   *slog.Logger
}

// NewLLMExtractor creates an LLMExtractor. A nil fallback uses RegexExtractor.
func NewLLMExtractor(client Chatter, model string, fallback Extractor) *LLMExtractor {
	if fallback == nil {
		fallback = RegexExtractor{}
	}
	return &LLMExtractor{client: client, model: model, fallback: fallback, logger: slog.Default()}
}

func (e *LLMExtractor) Extract(ctx context.Context, query string) Clues {
	if strings.TrimSpace(query) == "" {
		return Clues{}
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	raw, err := e.client.Chat(ctx, e.model, BuildPrompt(query), engine.ChatOptions{
		MaxTokens:  100,
		Schema:     cluesSchema(),
		SchemaName: "email_clues",
	})
	if err != nil {
		e.logger.Warn("clue extraction chat failed", "error", err)
		return e.fallback.Extract(ctx, query)
	}

	var result Clues
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		e.logger.Warn("failed to unmarshal clues from LLM response", "error", err, "response", raw)
		return e.fallback.Extract(ctx, query)
	}
	result.From = strings.TrimSpace(result.From)
	result.To = strings.TrimSpace(result.To)
	result.Subject = strings.TrimSpace(result.Subject)
	return result
}

func cluesSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"from":    {Type: "string", Description: "Sender name or address fragment, empty if not mentioned"},
			"to":      {Type: "string", Description: "Recipient name or address fragment, empty if not mentioned"},
			"subject": {Type: "string", Description: "Subject phrase, empty if not mentioned"},
		},
		Required: []string{"from", "to", "subject"},
	}
}
