package engine

import (
	"context"
	"fmt"
	"strings"
)

// DefaultSystemPrompt frames the answer generator as an email assistant.
const DefaultSystemPrompt = "You are an AI assistant that helps users understand their emails."

// Completer turns an Engine and a fixed chat configuration into a
// prompt-in, text-out function.
type Completer struct {
	engine      Engine
	model       string
	system      string
	maxTokens   int
	temperature float32
}

// NewCompleter creates a Completer. An empty system prompt uses
// DefaultSystemPrompt.
func NewCompleter(e Engine, model, system string, maxTokens int, temperature float32) *Completer {
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &Completer{
		engine:      e,
		model:       model,
		system:      system,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Complete sends prompt as a single user turn and returns the trimmed reply.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := c.engine.Chat(ctx, c.model, []Message{
		{Role: RoleSystem, Content: c.system},
		{Role: RoleUser, Content: prompt},
	}, ChatOptions{MaxTokens: c.maxTokens, Temperature: c.temperature})
	if err != nil {
		return "", fmt.Errorf("completing prompt: %w", err)
	}
	return strings.TrimSpace(out), nil
}
