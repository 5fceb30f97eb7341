package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Corpus    CorpusConfig
	Ingest    IngestConfig
	Engine    EngineConfig
	OpenAI    OpenAIConfig
	Ollama    OllamaConfig
	Index     IndexConfig
	Retrieval RetrievalConfig
	Context   ContextConfig
	Gmail     GmailConfig
	Refresh   RefreshConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type CorpusConfig struct {
	MaxEmails int
}

// IngestConfig selects the raw message source: "gmail" or "mailbox".
type IngestConfig struct {
	Source     string
	MaxResults int
	MailboxDir string
}

// EngineConfig.Provider selects the inference backend: "openai" or "ollama".
type EngineConfig struct {
	Provider string
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	EmbedModel  string
	ChatModel   string
	MaxTokens   int
	Temperature float64
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
}

type IndexConfig struct {
	MaxEmbedChars int
	Concurrency   int
}

// RetrievalConfig.Intent selects the clue extractor: "regex" or "llm".
type RetrievalConfig struct {
	TopK   int
	Intent string
}

type ContextConfig struct {
	MaxBodyChars    int
	MaxContextChars int
}

// GmailConfig paths default to files inside the data dir when empty.
type GmailConfig struct {
	CredentialsFile string
	TokenFile       string
}

type RefreshConfig struct {
	Interval string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 8000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Corpus:  CorpusConfig{MaxEmails: 500},
		Ingest:  IngestConfig{Source: "gmail", MaxResults: 500},
		Engine:  EngineConfig{Provider: "openai"},
		OpenAI: OpenAIConfig{
			BaseURL:     "https://api.openai.com/v1",
			EmbedModel:  "text-embedding-3-small",
			ChatModel:   "gpt-4",
			MaxTokens:   500,
			Temperature: 0.3,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			ChatModel:  "llama3.1",
		},
		Index:     IndexConfig{MaxEmbedChars: 16000, Concurrency: 4},
		Retrieval: RetrievalConfig{TopK: 3, Intent: "regex"},
		Context:   ContextConfig{MaxBodyChars: 500, MaxContextChars: 12000},
		Refresh:   RefreshConfig{Interval: "15m"},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads configuration in increasing precedence: compiled defaults, the
// YAML file at $XDG_CONFIG_HOME/mailrag/config.yaml, then MAILRAG_*
// environment variables. A .env file in the working directory is loaded
// first without overriding variables already set.
//
// The OpenAI API key is never read from the config file. It comes from
// MAILRAG_OPENAI_API_KEY, OPENAI_API_KEY or the secrets file, in that order.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}
	return loadWith(newPlatformBackend(), fileSecrets{path: secretsFilePath()})
}

func loadWith(b ConfigBackend, sec secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.OpenAI.APIKey == "" {
		if key, err := sec.Get(secretService, "openai_api_key"); err == nil && key != "" {
			cfg.OpenAI.APIKey = strings.TrimSpace(key)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Corpus.MaxEmails <= 0 {
		errs = append(errs, fmt.Errorf("corpus.max_emails must be positive, got %d", c.Corpus.MaxEmails))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	if c.Context.MaxContextChars <= 0 {
		errs = append(errs, fmt.Errorf("context.max_context_chars must be positive, got %d", c.Context.MaxContextChars))
	}
	switch c.Ingest.Source {
	case "gmail", "mailbox":
	default:
		errs = append(errs, fmt.Errorf("ingest.source must be gmail or mailbox, got %q", c.Ingest.Source))
	}
	switch c.Engine.Provider {
	case "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("engine.provider must be openai or ollama, got %q", c.Engine.Provider))
	}
	switch c.Retrieval.Intent {
	case "regex", "llm":
	default:
		errs = append(errs, fmt.Errorf("retrieval.intent must be regex or llm, got %q", c.Retrieval.Intent))
	}
	if _, err := c.RefreshInterval(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RequireAPIKey reports a helpful error when the OpenAI provider is selected
// and no key is configured.
func (c Config) RequireAPIKey() error {
	if c.Engine.Provider == "ollama" || c.OpenAI.APIKey != "" {
		return nil
	}
	return fmt.Errorf("missing required config: OpenAI API key. " +
		"Set MAILRAG_OPENAI_API_KEY or OPENAI_API_KEY, or run `mailrag config set-secret openai.api_key`")
}

// EmbedModel is the embedding model of the selected provider.
func (c Config) EmbedModel() string {
	if c.Engine.Provider == "ollama" {
		return c.Ollama.EmbedModel
	}
	return c.OpenAI.EmbedModel
}

// ChatModel is the chat model of the selected provider.
func (c Config) ChatModel() string {
	if c.Engine.Provider == "ollama" {
		return c.Ollama.ChatModel
	}
	return c.OpenAI.ChatModel
}

// RefreshInterval parses refresh.interval. Zero disables scheduled refresh.
func (c Config) RefreshInterval() (time.Duration, error) {
	s := strings.TrimSpace(c.Refresh.Interval)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("refresh.interval: invalid duration %q", c.Refresh.Interval)
	}
	return d, nil
}

// IndexDir is where index generations are written.
func (c Config) IndexDir() string {
	return filepath.Join(c.Storage.DataDir, "index")
}

// CredentialsFile resolves gmail.credentials_file.
func (c Config) CredentialsFile() string {
	if c.Gmail.CredentialsFile != "" {
		return c.Gmail.CredentialsFile
	}
	return filepath.Join(c.Storage.DataDir, "credentials.json")
}

// TokenFile resolves gmail.token_file.
func (c Config) TokenFile() string {
	if c.Gmail.TokenFile != "" {
		return c.Gmail.TokenFile
	}
	return filepath.Join(c.Storage.DataDir, "token.json")
}
