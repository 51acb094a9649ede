package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/docquer/docquer/internal/apperr"
	"github.com/docquer/docquer/internal/storage"
	"github.com/docquer/docquer/internal/vectorstore"
)

// keywordClient embeds text as a 3-dim bag of the words sky, grass, sea.
type keywordClient struct{}

func (keywordClient) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	v := []float32{0.01, 0.01, 0.01}
	for i, w := range []string{"sky", "grass", "sea"} {
		if strings.Contains(text, w) {
			v[i] = 1
		}
	}
	return v, nil
}

func newTestRetriever(t *testing.T) (*Retriever, *vectorstore.Store, *Embedder) {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	vs := vectorstore.New(vectorstore.NewSQLite(st.DB()), vectorstore.Options{Dimension: 3})
	emb := NewEmbedder(keywordClient{}, "test", 3, 2)
	return NewRetriever(emb, vs, 1), vs, emb
}

func TestRetrieve_FindsRelevantChunk(t *testing.T) {
	ctx := context.Background()
	r, vs, emb := newTestRetriever(t)

	texts := []string{"The sky is blue.", "The grass is green.", "The sea is deep."}
	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	var recs []vectorstore.Record
	for i, text := range texts {
		recs = append(recs, vectorstore.Record{ID: text, Text: text, Embedding: vecs[i]})
	}
	h, err := vs.EnsureIndex(ctx, "C1")
	if err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if _, err := vs.Upsert(ctx, h, recs, false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := r.Retrieve(ctx, "C1", "what color is the sky?")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(matches) != 1 || matches[0].Text != "The sky is blue." {
		t.Errorf("matches = %+v", matches)
	}
}

func TestRetrieve_NoIndex(t *testing.T) {
	r, _, _ := newTestRetriever(t)
	_, err := r.Retrieve(context.Background(), "C9", "anything")
	if !apperr.Is(err, apperr.NotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	ctx := context.Background()
	r, vs, _ := newTestRetriever(t)
	if _, err := vs.EnsureIndex(ctx, "C2"); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}

	matches, err := r.Retrieve(ctx, "C2", "sky")
	if err != nil || len(matches) != 0 {
		t.Errorf("Retrieve on empty index = %v, %v", matches, err)
	}
}
