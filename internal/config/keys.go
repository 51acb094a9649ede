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
		key: "server.port", typ: kInt, env: "DOCQUER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "DOCQUER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "DOCQUER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DOCQUER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DOCQUER_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "DOCQUER_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "embed.dimension", typ: kInt, env: "DOCQUER_EMBED_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Embed.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Embed.Dimension },
	},
	{
		key: "embed.concurrency", typ: kInt, env: "DOCQUER_EMBED_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Embed.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Embed.Concurrency },
	},
	{
		key: "llm.provider", typ: kString, env: "DOCQUER_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.base_url", typ: kString, env: "DOCQUER_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "DOCQUER_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.api_key", typ: kString, env: "DOCQUER_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "DOCQUER_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "gemini.api_key", typ: kString, env: "DOCQUER_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.model", typ: kString, env: "DOCQUER_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "chat.editor_passes", typ: kInt, env: "DOCQUER_CHAT_EDITOR_PASSES",
		apply:   func(cfg *Config, v any) { cfg.Chat.EditorPasses = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.EditorPasses },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "DOCQUER_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.min_score", typ: kFloat, env: "DOCQUER_RETRIEVAL_MIN_SCORE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MinScore = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.MinScore },
	},
	{
		key: "vector.backend", typ: kString, env: "DOCQUER_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Vector.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Backend },
	},
	{
		key: "vector.qdrant_url", typ: kString, env: "DOCQUER_QDRANT_URL",
		apply:   func(cfg *Config, v any) { cfg.Vector.QdrantURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.QdrantURL },
	},
	{
		key: "vector.qdrant_api_key", typ: kString, env: "DOCQUER_QDRANT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Vector.QdrantAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.QdrantAPIKey },
	},
	{
		key: "vector.pgvector_dsn", typ: kString, env: "DOCQUER_PGVECTOR_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Vector.PGVectorDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.PGVectorDSN },
	},
	{
		key: "vector.ready_attempts", typ: kInt, env: "DOCQUER_VECTOR_READY_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Vector.ReadyAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Vector.ReadyAttempts },
	},
	{
		key: "vector.ready_backoff", typ: kString, env: "DOCQUER_VECTOR_READY_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Vector.ReadyBackoff = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.ReadyBackoff },
	},
	{
		key: "vector.batch_size", typ: kInt, env: "DOCQUER_VECTOR_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Vector.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Vector.BatchSize },
	},
	{
		key: "ingest.fetch_timeout", typ: kString, env: "DOCQUER_INGEST_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ingest.FetchTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.FetchTimeout },
	},
	{
		key: "ingest.transcript_lang", typ: kString, env: "DOCQUER_INGEST_TRANSCRIPT_LANG",
		apply:   func(cfg *Config, v any) { cfg.Ingest.TranscriptLang = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.TranscriptLang },
	},
	{
		key: "purge.poll_interval", typ: kString, env: "DOCQUER_PURGE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Purge.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Purge.PollInterval },
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
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
