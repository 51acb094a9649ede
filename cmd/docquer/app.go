package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docquer/docquer/internal/chunker"
	"github.com/docquer/docquer/internal/config"
	"github.com/docquer/docquer/internal/extract"
	"github.com/docquer/docquer/internal/llm"
	"github.com/docquer/docquer/internal/ollama"
	"github.com/docquer/docquer/internal/pipeline"
	"github.com/docquer/docquer/internal/prompt"
	"github.com/docquer/docquer/internal/retrieval"
	"github.com/docquer/docquer/internal/storage"
	"github.com/docquer/docquer/internal/vectorstore"
)

const ocrPoolSize = 2

// app is the wired service plus everything that must be released on exit.
type app struct {
	cfg     config.Config
	store   *storage.Store
	service *pipeline.Service
	logger  *slog.Logger
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newLogger(level string, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// buildApp opens storage, connects the vector backend, checks Ollama and
// assembles the conversation service. Progress is written to progress.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger, progress io.Writer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	})

	fetchTimeout := config.ParseDuration("ingest.fetch_timeout", cfg.Ingest.FetchTimeout, 10*time.Second)

	backend, err := openBackend(ctx, cfg, store, fetchTimeout, a)
	if err != nil {
		return nil, err
	}
	vectors := vectorstore.New(backend, vectorstore.Options{
		Dimension:     cfg.Embed.Dimension,
		ReadyAttempts: cfg.Vector.ReadyAttempts,
		ReadyBackoff:  config.ParseDuration("vector.ready_backoff", cfg.Vector.ReadyBackoff, 2*time.Second),
		BatchSize:     cfg.Vector.BatchSize,
		Logger:        logger,
	})

	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.EmbedModel, cfg.Embed.Dimension, progress); err != nil {
		return nil, err
	}
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel, cfg.Embed.Dimension, cfg.Embed.Concurrency)

	// Images need tesseract; everything else works without it.
	var ocr extract.OCR
	if t, err := extract.NewTesseract(ocrPoolSize, "eng"); err != nil {
		logger.Warn("OCR unavailable, image uploads will be rejected", "error", err)
	} else {
		ocr = t
		a.closers = append(a.closers, func() { t.Close() })
	}

	chatter, err := newChatter(cfg)
	if err != nil {
		return nil, err
	}

	a.service = pipeline.New(pipeline.Deps{
		Store:       store,
		Extractor:   extract.New(ocr),
		Pages:       extract.NewPageFetcher(fetchTimeout),
		Transcripts: extract.NewTranscriptFetcher("", cfg.Ingest.TranscriptLang, fetchTimeout),
		Chunker:     chunker.New(chunker.DefaultSize, chunker.DefaultOverlap),
		Embedder:    embedder,
		Vectors:     vectors,
		LLM:         chatter,
		Prompts:     prompt.New(0),
		Logger:      logger,
	}, pipeline.Options{
		Model:         llmModel(cfg),
		Temperature:   cfg.LLM.Temperature,
		TopK:          cfg.Retrieval.TopK,
		MinScore:      cfg.Retrieval.MinScore,
		EditorPasses:  cfg.Chat.EditorPasses,
		ServerKey:     llmAPIKey(cfg) != "",
		ServerKeyOnly: cfg.LLM.Provider == "gemini",
	})

	ok = true
	return a, nil
}

func openBackend(ctx context.Context, cfg config.Config, store *storage.Store, timeout time.Duration, a *app) (vectorstore.Backend, error) {
	switch cfg.Vector.Backend {
	case "qdrant":
		return vectorstore.NewQdrant(cfg.Vector.QdrantURL, cfg.Vector.QdrantAPIKey, timeout), nil
	case "pgvector":
		pg, err := vectorstore.NewPGVector(ctx, cfg.Vector.PGVectorDSN)
		if err != nil {
			return nil, fmt.Errorf("connecting to pgvector: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	default:
		return vectorstore.NewSQLite(store.DB()), nil
	}
}

func newChatter(cfg config.Config) (llm.Chatter, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		return llm.NewGemini(cfg.Gemini.APIKey, cfg.Gemini.Model), nil
	case "openai", "":
		return llm.NewOpenAI(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func llmModel(cfg config.Config) string {
	if cfg.LLM.Provider == "gemini" {
		return cfg.Gemini.Model
	}
	return cfg.LLM.Model
}

func llmAPIKey(cfg config.Config) string {
	if cfg.LLM.Provider == "gemini" {
		return cfg.Gemini.APIKey
	}
	return cfg.LLM.APIKey
}

func mustUser(flag string) string {
	if flag != "" {
		return flag
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "default"
}
