package retrieval

import (
	"context"

	"github.com/docquer/docquer/internal/vectorstore"
)

// DefaultTopK is the number of chunks retrieved per query.
const DefaultTopK = 5

// Retriever combines embedding and vector search to find the chunks of a
// conversation's index most relevant to a query.
type Retriever struct {
	embedder *Embedder
	store    *vectorstore.Store
	topK     int
}

// NewRetriever creates a Retriever backed by the given Embedder and Store.
func NewRetriever(embedder *Embedder, store *vectorstore.Store, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, store: store, topK: topK}
}

// Retrieve embeds the query and returns the top-K most similar chunks from
// the conversation's index. A conversation without an index is NotFound;
// an index without matches yields an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, conversationID, query string) ([]vectorstore.Match, error) {
	h, err := r.store.Open(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.Query(ctx, h, vec, r.topK)
}
