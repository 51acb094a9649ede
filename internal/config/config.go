package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Ollama    OllamaConfig
	Embed     EmbedConfig
	LLM       LLMConfig
	Gemini    GeminiConfig
	Chat      ChatConfig
	Retrieval RetrievalConfig
	Vector    VectorConfig
	Ingest    IngestConfig
	Purge     PurgeConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type EmbedConfig struct {
	Dimension   int
	Concurrency int
}

type LLMConfig struct {
	Provider    string // "openai" or "gemini"
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type ChatConfig struct {
	EditorPasses int
}

type RetrievalConfig struct {
	TopK     int
	MinScore float64
}

type VectorConfig struct {
	Backend       string // "sqlite", "qdrant" or "pgvector"
	QdrantURL     string
	QdrantAPIKey  string
	PGVectorDSN   string
	ReadyAttempts int
	ReadyBackoff  string
	BatchSize     int
}

type IngestConfig struct {
	FetchTimeout   string
	TranscriptLang string
}

type PurgeConfig struct {
	PollInterval string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "all-minilm",
		},
		Embed: EmbedConfig{
			Dimension:   384,
			Concurrency: 4,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama3-70b-8192",
			Temperature: 0.5,
		},
		Gemini: GeminiConfig{
			Model: "gemini-1.5-flash",
		},
		Chat: ChatConfig{
			EditorPasses: 1,
		},
		Retrieval: RetrievalConfig{
			TopK:     5,
			MinScore: 0.2,
		},
		Vector: VectorConfig{
			Backend:       "sqlite",
			QdrantURL:     "http://localhost:6333",
			ReadyAttempts: 5,
			ReadyBackoff:  "2s",
			BatchSize:     100,
		},
		Ingest: IngestConfig{
			FetchTimeout:   "10s",
			TranscriptLang: "en",
		},
		Purge: PurgeConfig{
			PollInterval: "2s",
		},
	}
}

// Load reads configuration from the YAML config file, a .env file in the
// working directory, and DOCQUER_* environment variables, in increasing
// order of precedence. The config file lives at
// $XDG_CONFIG_HOME/docquer/config.yaml.
//
// Secrets are only read from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), ".env")
}

func loadWith(b ConfigBackend, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		// godotenv never overrides variables already present in the environment.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("invalid config: llm.provider %q (want openai or gemini)", c.LLM.Provider)
	}
	switch c.Vector.Backend {
	case "sqlite", "qdrant":
	case "pgvector":
		if c.Vector.PGVectorDSN == "" {
			return fmt.Errorf("missing required config: vector.pgvector_dsn. Set it via environment variable DOCQUER_PGVECTOR_DSN")
		}
	default:
		return fmt.Errorf("invalid config: vector.backend %q (want sqlite, qdrant or pgvector)", c.Vector.Backend)
	}
	if c.Embed.Dimension <= 0 {
		return fmt.Errorf("invalid config: embed.dimension must be positive, got %d", c.Embed.Dimension)
	}
	return nil
}

// ParseDuration parses raw, returning def (and logging a warning) when raw
// is empty or malformed.
func ParseDuration(key, raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		slog.Warn("invalid duration in config, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return d
}
