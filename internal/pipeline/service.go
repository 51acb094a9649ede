// Package pipeline sequences extraction, chunking, embedding, vector
// storage and generation for each conversation operation.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/docquer/docquer/internal/apperr"
	"github.com/docquer/docquer/internal/chunker"
	"github.com/docquer/docquer/internal/extract"
	"github.com/docquer/docquer/internal/llm"
	"github.com/docquer/docquer/internal/prompt"
	"github.com/docquer/docquer/internal/retrieval"
	"github.com/docquer/docquer/internal/storage"
	"github.com/docquer/docquer/internal/vectorstore"
)

// Extractor turns an uploaded document into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (extract.Result, error)
}

// PageFetcher downloads the visible text of a web page.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (extract.Page, error)
}

// TranscriptFetcher downloads the captions of a video.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoURL string) (extract.Transcript, error)
}

// Deps are the collaborators of a Service. All are required except the
// fetchers, whose operations fail with ServiceUnavailable when nil.
type Deps struct {
	Store       *storage.Store
	Extractor   Extractor
	Pages       PageFetcher
	Transcripts TranscriptFetcher
	Chunker     *chunker.Chunker
	Embedder    *retrieval.Embedder
	Vectors     *vectorstore.Store
	LLM         llm.Chatter
	Prompts     *prompt.Assembler
	Logger      *slog.Logger
}

// Options tune generation and retrieval.
type Options struct {
	Model       string
	Temperature float64
	TopK        int
	// MinScore drops retrieved chunks scoring below it. Zero keeps all.
	MinScore float64
	// EditorPasses is the number of refinement passes after the first
	// answer. Zero returns the first answer unedited.
	EditorPasses int
	// ServerKey reports whether a default LLM key is configured, so users
	// without their own key can still chat.
	ServerKey bool
	// ServerKeyOnly stops stored user keys from being sent to the LLM.
	// User keys are issued by the OpenAI-compatible provider and are
	// meaningless to any other.
	ServerKeyOnly bool
}

// Service is the conversation orchestrator.
type Service struct {
	store       *storage.Store
	extractor   Extractor
	pages       PageFetcher
	transcripts TranscriptFetcher
	chunker     *chunker.Chunker
	embedder    *retrieval.Embedder
	vectors     *vectorstore.Store
	retriever   *retrieval.Retriever
	llm         llm.Chatter
	prompts     *prompt.Assembler
	opts        Options
	logger      *slog.Logger
}

// New creates a Service from explicit dependencies.
func New(d Deps, opts Options) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}
	if opts.EditorPasses < 0 {
		opts.EditorPasses = 0
	}
	ch := d.Chunker
	if ch == nil {
		ch = chunker.New(chunker.DefaultSize, chunker.DefaultOverlap)
	}
	prompts := d.Prompts
	if prompts == nil {
		prompts = prompt.New(0)
	}
	return &Service{
		store:       d.Store,
		extractor:   d.Extractor,
		pages:       d.Pages,
		transcripts: d.Transcripts,
		chunker:     ch,
		embedder:    d.Embedder,
		vectors:     d.Vectors,
		retriever:   retrieval.NewRetriever(d.Embedder, d.Vectors, opts.TopK),
		llm:         d.LLM,
		prompts:     prompts,
		opts:        opts,
		logger:      logger,
	}
}

// VectorBackend names the vector store in use.
func (s *Service) VectorBackend() string {
	return s.vectors.Backend()
}

func (s *Service) conversation(id string) (storage.Conversation, error) {
	if id == "" {
		return storage.Conversation{}, apperr.New(apperr.InvalidInput, "conversation id is required")
	}
	c, err := s.store.GetConversation(id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Conversation{}, apperr.New(apperr.NotFound, "conversation %s not found", id)
	}
	if err != nil {
		return storage.Conversation{}, err
	}
	return c, nil
}

// storeErr maps a storage failure on conversation id to a caller-facing error.
func storeErr(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.New(apperr.NotFound, "conversation %s not found", id)
	}
	return err
}
