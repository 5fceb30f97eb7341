package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/mailrag/internal/assistant"
	"github.com/kalambet/mailrag/internal/composer"
	"github.com/kalambet/mailrag/internal/config"
	"github.com/kalambet/mailrag/internal/corpus"
	"github.com/kalambet/mailrag/internal/engine"
	"github.com/kalambet/mailrag/internal/gmail"
	"github.com/kalambet/mailrag/internal/index"
	"github.com/kalambet/mailrag/internal/ingest"
	"github.com/kalambet/mailrag/internal/intent"
	"github.com/kalambet/mailrag/internal/mailbox"
	"github.com/kalambet/mailrag/internal/refresh"
	"github.com/kalambet/mailrag/internal/retrieval"
	"github.com/kalambet/mailrag/internal/storage"
)

// app wires the components for one CLI invocation.
type app struct {
	cfg       config.Config
	corpus    *corpus.Store
	index     *index.Store
	history   *storage.Store
	engine    engine.Engine
	embedder  *retrieval.Embedder
	builder   *index.Builder
	retriever *retrieval.Retriever
	assistant *assistant.Assistant
}

func newApp(cfg config.Config) (*app, error) {
	history, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	eng, err := engine.New(engine.ProviderConfig{
		Provider:      cfg.Engine.Provider,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OllamaBaseURL: cfg.Ollama.BaseURL,
	})
	if err != nil {
		history.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		corpus:  corpus.NewStore(cfg.Storage.DataDir, cfg.Corpus.MaxEmails),
		index:   index.NewStore(cfg.IndexDir()),
		history: history,
		engine:  eng,
	}
	a.embedder = retrieval.NewEmbedder(a.engine, cfg.EmbedModel())
	a.builder = index.NewBuilder(a.embedder, a.index, cfg.Index.MaxEmbedChars, cfg.Index.Concurrency)
	a.retriever = retrieval.NewRetriever(a.embedder, a.index, a.corpus, a.extractor())

	completer := engine.NewCompleter(a.engine, cfg.ChatModel(), engine.DefaultSystemPrompt,
		cfg.OpenAI.MaxTokens, float32(cfg.OpenAI.Temperature))
	comp := composer.New(cfg.Context.MaxBodyChars, cfg.Context.MaxContextChars)
	a.assistant = assistant.New(a.retriever, comp, completer, history, cfg.Retrieval.TopK)
	return a, nil
}

func (a *app) Close() error {
	return a.history.Close()
}

func (a *app) extractor() intent.Extractor {
	if a.cfg.Retrieval.Intent == "llm" {
		return intent.NewLLMExtractor(a.engine, a.cfg.ChatModel(), intent.NewRegexExtractor())
	}
	return intent.NewRegexExtractor()
}

func (a *app) source(ctx context.Context) (ingest.Source, error) {
	switch a.cfg.Ingest.Source {
	case "mailbox":
		if a.cfg.Ingest.MailboxDir == "" {
			return nil, fmt.Errorf("ingest.mailbox_dir is not set")
		}
		return mailbox.NewSource(a.cfg.Ingest.MailboxDir), nil
	default:
		src, err := gmail.Open(ctx, a.cfg.CredentialsFile(), a.cfg.TokenFile())
		if err != nil {
			return nil, fmt.Errorf("opening gmail: %w", err)
		}
		return src, nil
	}
}

func (a *app) pipeline(ctx context.Context) (*ingest.Pipeline, error) {
	src, err := a.source(ctx)
	if err != nil {
		return nil, err
	}
	return ingest.NewPipeline(src, a.corpus, a.cfg.Ingest.MaxResults), nil
}

func (a *app) coordinator(ctx context.Context) (*refresh.Coordinator, error) {
	p, err := a.pipeline(ctx)
	if err != nil {
		return nil, err
	}
	interval, err := a.cfg.RefreshInterval()
	if err != nil {
		return nil, err
	}
	return refresh.New(p, a.builder, a.corpus, a.index, a.history, interval).
		WithLogger(slog.Default().With("component", "refresh")), nil
}

// withApp loads config, builds the app and closes it after fn.
func withApp(needsAPIKey bool, fn func(a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if needsAPIKey {
		if err := cfg.RequireAPIKey(); err != nil {
			return err
		}
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()
	return fn(a)
}
