package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/docquer/docquer/internal/extract"
	"github.com/docquer/docquer/internal/llm"
	"github.com/docquer/docquer/internal/prompt"
	"github.com/docquer/docquer/internal/retrieval"
	"github.com/docquer/docquer/internal/storage"
	"github.com/docquer/docquer/internal/vectorstore"
)

// keywordEmbedder embeds text as a bag of three keywords so similarity is
// predictable: texts sharing a keyword score near 1, others near 0.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	v := []float32{0.01, 0.01, 0.01}
	lower := strings.ToLower(text)
	for i, w := range []string{"sky", "grass", "python"} {
		if strings.Contains(lower, w) {
			v[i] = 1
		}
	}
	return v, nil
}

// fakeLLM answers by prompt kind and records every request.
type fakeLLM struct {
	mu       sync.Mutex
	requests []llm.Request

	title    string
	subtitle string
	fail     error
}

func (f *fakeLLM) Chat(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.fail != nil {
		return "", f.fail
	}

	system := req.Messages[0].Content
	user := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.Contains(system, "name recommender"):
		return f.title, nil
	case strings.Contains(system, "subtitle recommender"):
		return f.subtitle, nil
	case strings.HasPrefix(user, "troubleshoot this "):
		return strings.TrimPrefix(user, "troubleshoot this ") + " (edited)", nil
	case strings.Contains(user, "According to the uploaded document"):
		if strings.Contains(user, "The sky is blue.") {
			return "The sky is blue, according to your document.", nil
		}
		return "The document does not say.", nil
	default:
		return "General answer to: " + user, nil
	}
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeLLM) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = nil
}

// flakyBackend fails index deletion while deleteErr is set.
type flakyBackend struct {
	vectorstore.Backend
	deleteErr error
}

func (b *flakyBackend) DeleteIndex(ctx context.Context, name string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	return b.Backend.DeleteIndex(ctx, name)
}

type fakePages struct{ page extract.Page }

func (f fakePages) Fetch(_ context.Context, rawURL string) (extract.Page, error) {
	p := f.page
	p.URL = rawURL
	return p, nil
}

type fakeTranscripts struct{ tr extract.Transcript }

func (f fakeTranscripts) Fetch(_ context.Context, _ string) (extract.Transcript, error) {
	return f.tr, nil
}

type testEnv struct {
	svc     *Service
	store   *storage.Store
	vectors *vectorstore.Store
	backend *flakyBackend
	llm     *fakeLLM
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := &flakyBackend{Backend: vectorstore.NewSQLite(st.DB())}
	vectors := vectorstore.New(backend, vectorstore.Options{Dimension: 3, Logger: logger})
	fake := &fakeLLM{title: "Sky Colors", subtitle: "Asking about the sky"}

	svc := New(Deps{
		Store:       st,
		Extractor:   extract.New(nil),
		Pages:       fakePages{page: extract.Page{Title: "Lawn care", Text: "Grass needs water.\nMow weekly."}},
		Transcripts: fakeTranscripts{tr: extract.Transcript{VideoID: "dQw4w9WgXcQ", Text: "python lists are sorted with sorted()"}},
		Embedder:    retrieval.NewEmbedder(keywordEmbedder{}, "test", 3, 2),
		Vectors:     vectors,
		LLM:         fake,
		Prompts:     prompt.New(0),
		Logger:      logger,
	}, opts)
	return &testEnv{svc: svc, store: st, vectors: vectors, backend: backend, llm: fake}
}

func defaultOpts() Options {
	return Options{Temperature: 0.5, MinScore: 0.2, EditorPasses: 1}
}

func (e *testEnv) newConversation(t *testing.T, nc NewConversation) storage.Conversation {
	t.Helper()
	if nc.Username == "" {
		nc.Username = "alice"
	}
	c, err := e.svc.CreateConversation(context.Background(), nc)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return c
}

func (e *testEnv) upload(t *testing.T, convID, name, text string, replace bool) IngestResult {
	t.Helper()
	res, err := e.svc.AttachFile(context.Background(), FileUpload{
		ConversationID: convID,
		FileName:       name,
		MIME:           "text/plain; charset=utf-8",
		Data:           []byte(text),
		Replace:        replace,
	})
	if err != nil {
		t.Fatalf("AttachFile(%s): %v", name, err)
	}
	return res
}
