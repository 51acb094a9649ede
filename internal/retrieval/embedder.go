package retrieval

import (
	"context"
	"fmt"

	"github.com/docquer/docquer/internal/apperr"
	"golang.org/x/sync/errgroup"
)

// DefaultDimension is the output size of the all-minilm embedding model.
const DefaultDimension = 384

// EmbedClient produces an embedding for one text. *ollama.Client satisfies it.
type EmbedClient interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// BatchEmbedClient is an EmbedClient that can embed several texts in one
// request. *ollama.Client satisfies it.
type BatchEmbedClient interface {
	EmbedClient
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// batchSize caps the texts sent in one EmbedMany request.
const batchSize = 16

// Embedder wraps an EmbedClient to generate fixed-size text embeddings.
// The same Embedder must serve ingestion and queries so that vectors are
// comparable.
type Embedder struct {
	client      EmbedClient
	model       string
	dim         int
	concurrency int
}

// NewEmbedder creates an Embedder for model. Zero dim and concurrency take
// the defaults 384 and 4.
func NewEmbedder(c EmbedClient, model string, dim, concurrency int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Embedder{client: c, model: model, dim: dim, concurrency: concurrency}
}

// Dimension returns the vector size every result is checked against.
func (e *Embedder) Dimension() int { return e.dim }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, apperr.Wrap(apperr.ServiceUnavailable, err, "embedding text")
	}
	if len(vec) != e.dim {
		return nil, apperr.New(apperr.ServiceUnavailable, "embedding model %s returned %d dimensions, want %d", e.model, len(vec), e.dim)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently, in
// input order. Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	if bc, ok := e.client.(BatchEmbedClient); ok {
		for start := 0; start < len(texts); start += batchSize {
			end := min(start+batchSize, len(texts))
			g.Go(func() error {
				return e.embedMany(gCtx, bc, texts[start:end], results[start:end], start)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return results, nil
	}

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedMany fills out with the vectors for texts. offset is the index of
// texts[0] in the caller's input, for error messages.
func (e *Embedder) embedMany(ctx context.Context, c BatchEmbedClient, texts []string, out [][]float32, offset int) error {
	vecs, err := c.EmbedMany(ctx, e.model, texts)
	if err != nil {
		return fmt.Errorf("chunks %d-%d: %w", offset, offset+len(texts)-1, apperr.Wrap(apperr.ServiceUnavailable, err, "embedding text"))
	}
	if len(vecs) != len(texts) {
		return apperr.New(apperr.ServiceUnavailable, "embedding model %s returned %d vectors for %d texts", e.model, len(vecs), len(texts))
	}
	for i, vec := range vecs {
		if len(vec) != e.dim {
			return apperr.New(apperr.ServiceUnavailable, "embedding model %s returned %d dimensions, want %d", e.model, len(vec), e.dim)
		}
		out[i] = vec
	}
	return nil
}
