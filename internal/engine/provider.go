package engine

import "fmt"

// Supported providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	Provider      string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OllamaBaseURL string
}

// New returns the Engine named by cfg.Provider. An empty provider means
// OpenAI.
func New(cfg ProviderConfig) (Engine, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		return NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), nil
	case ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
