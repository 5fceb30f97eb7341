package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MAILRAG_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MAILRAG_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "corpus.max_emails", typ: kInt, env: "MAILRAG_CORPUS_MAX_EMAILS",
		apply:   func(cfg *Config, v any) { cfg.Corpus.MaxEmails = v.(int) },
		extract: func(cfg Config) any { return cfg.Corpus.MaxEmails },
	},
	{
		key: "ingest.source", typ: kString, env: "MAILRAG_INGEST_SOURCE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Source = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.Source },
	},
	{
		key: "ingest.max_results", typ: kInt, env: "MAILRAG_INGEST_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxResults },
	},
	{
		key: "ingest.mailbox_dir", typ: kString, env: "MAILRAG_INGEST_MAILBOX_DIR",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MailboxDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.MailboxDir },
	},
	{
		key: "engine.provider", typ: kString, env: "MAILRAG_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "openai.api_key", typ: kString, env: "MAILRAG_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "MAILRAG_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.embed_model", typ: kString, env: "MAILRAG_OPENAI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedModel },
	},
	{
		key: "openai.chat_model", typ: kString, env: "MAILRAG_OPENAI_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ChatModel },
	},
	{
		key: "openai.max_tokens", typ: kInt, env: "MAILRAG_OPENAI_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.OpenAI.MaxTokens },
	},
	{
		key: "openai.temperature", typ: kFloat, env: "MAILRAG_OPENAI_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.OpenAI.Temperature },
	},
	{
		key: "ollama.base_url", typ: kString, env: "MAILRAG_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "MAILRAG_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "MAILRAG_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "index.max_embed_chars", typ: kInt, env: "MAILRAG_INDEX_MAX_EMBED_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Index.MaxEmbedChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.MaxEmbedChars },
	},
	{
		key: "index.concurrency", typ: kInt, env: "MAILRAG_INDEX_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Index.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.Concurrency },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "MAILRAG_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.intent", typ: kString, env: "MAILRAG_RETRIEVAL_INTENT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Intent = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.Intent },
	},
	{
		key: "context.max_body_chars", typ: kInt, env: "MAILRAG_CONTEXT_MAX_BODY_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Context.MaxBodyChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Context.MaxBodyChars },
	},
	{
		key: "context.max_context_chars", typ: kInt, env: "MAILRAG_CONTEXT_MAX_CONTEXT_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Context.MaxContextChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Context.MaxContextChars },
	},
	{
		key: "gmail.credentials_file", typ: kString, env: "MAILRAG_GMAIL_CREDENTIALS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Gmail.CredentialsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.CredentialsFile },
	},
	{
		key: "gmail.token_file", typ: kString, env: "MAILRAG_GMAIL_TOKEN_FILE",
		apply:   func(cfg *Config, v any) { cfg.Gmail.TokenFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.TokenFile },
	},
	{
		key: "refresh.interval", typ: kString, env: "MAILRAG_REFRESH_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Refresh.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Refresh.Interval },
	},
	{
		key: "log.level", typ: kString, env: "MAILRAG_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
