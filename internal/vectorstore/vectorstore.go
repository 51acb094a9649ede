// Package vectorstore keeps one vector index per conversation on top of a
// pluggable backend (SQLite, Qdrant or Postgres with pgvector).
package vectorstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/docquer/docquer/internal/apperr"
	"github.com/docquer/docquer/internal/metrics"
)

// IndexPrefix is prepended to the conversation id to name its index. The
// name is the only link between a conversation and its vectors.
const IndexPrefix = "docquer"

// ErrIndexNotFound is returned by backends when the named index does not exist.
var ErrIndexNotFound = errors.New("index not found")

// IndexName returns the index name for a conversation.
func IndexName(conversationID string) string {
	return IndexPrefix + "-" + conversationID
}

// Record is a chunk of text and its embedding.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
}

// Match is a record returned by a similarity query, scored by cosine similarity.
type Match struct {
	ID    string
	Text  string
	Score float32
}

// Backend is a vector database holding named indexes.
type Backend interface {
	Name() string
	IndexExists(ctx context.Context, name string) (bool, error)
	// CreateIndex creates a cosine index of the given dimension. An index
	// that already exists is not an error.
	CreateIndex(ctx context.Context, name string, dim int) error
	Ready(ctx context.Context, name string) (bool, error)
	Upsert(ctx context.Context, name string, records []Record) error
	DeleteAll(ctx context.Context, name string) error
	Query(ctx context.Context, name string, vector []float32, topK int) ([]Match, error)
	// DeleteIndex returns ErrIndexNotFound when the index does not exist.
	DeleteIndex(ctx context.Context, name string) error
}

// Options tune a Store.
type Options struct {
	Dimension     int
	ReadyAttempts int
	ReadyBackoff  time.Duration
	BatchSize     int
	Logger        *slog.Logger
}

// Handle identifies an index known to exist.
type Handle struct {
	Name string
}

// UpsertResult reports the outcome of an upsert. PurgeFailed is set when a
// requested purge of the previous records failed and stale records may
// remain in the index.
type UpsertResult struct {
	Upserted    int
	PurgeFailed bool
	PurgeErr    error
}

// ReplaceResult reports the outcome of Replace.
type ReplaceResult struct {
	UpsertResult
	Handle Handle
}

// Store is the adapter between the pipeline and a Backend.
type Store struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New wraps backend. Zero options take the defaults: 384 dimensions,
// 5 readiness polls 2s apart, batches of 100.
func New(backend Backend, opts Options) *Store {
	if opts.Dimension <= 0 {
		opts.Dimension = 384
	}
	if opts.ReadyAttempts <= 0 {
		opts.ReadyAttempts = 5
	}
	if opts.ReadyBackoff <= 0 {
		opts.ReadyBackoff = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, opts: opts, logger: logger, sleep: sleepCtx}
}

// Backend returns the name of the underlying backend.
func (s *Store) Backend() string { return s.backend.Name() }

// EnsureIndex returns a handle to the conversation's index, creating it when
// absent and waiting until the backend reports it ready.
func (s *Store) EnsureIndex(ctx context.Context, conversationID string) (Handle, error) {
	name := IndexName(conversationID)
	exists, err := s.backend.IndexExists(ctx, name)
	if err != nil {
		return Handle{}, s.unavailable("ensure_index", err, "checking index %s", name)
	}
	if !exists {
		if err := s.backend.CreateIndex(ctx, name, s.opts.Dimension); err != nil {
			return Handle{}, s.unavailable("create_index", err, "creating index %s", name)
		}
		s.logger.Info("vector index created", "index", name, "backend", s.backend.Name(), "dimension", s.opts.Dimension)
	}

	for attempt := 1; ; attempt++ {
		ready, err := s.backend.Ready(ctx, name)
		if err != nil {
			s.logger.Warn("index readiness check failed", "index", name, "attempt", attempt, "error", err)
		}
		if ready {
			return Handle{Name: name}, nil
		}
		if attempt >= s.opts.ReadyAttempts {
			metrics.VectorErrors.WithLabelValues("ensure_index").Inc()
			return Handle{}, apperr.New(apperr.ServiceUnavailable, "index %s not ready after %d attempts", name, attempt)
		}
		if err := s.sleep(ctx, s.opts.ReadyBackoff); err != nil {
			return Handle{}, apperr.Wrap(apperr.ServiceUnavailable, err, "waiting for index %s", name)
		}
	}
}

// Open returns a handle to an existing index without creating it.
func (s *Store) Open(ctx context.Context, conversationID string) (Handle, error) {
	name := IndexName(conversationID)
	exists, err := s.backend.IndexExists(ctx, name)
	if err != nil {
		return Handle{}, s.unavailable("open_index", err, "checking index %s", name)
	}
	if !exists {
		return Handle{}, apperr.New(apperr.NotFound, "no vector index for conversation %s", conversationID)
	}
	return Handle{Name: name}, nil
}

// Upsert writes records in batches. With replace, existing records are
// deleted first; a failed purge is logged, reported in the result, and
// the upsert proceeds. Batches committed before a failure stay committed.
func (s *Store) Upsert(ctx context.Context, h Handle, records []Record, replace bool) (UpsertResult, error) {
	var res UpsertResult
	if len(records) == 0 {
		return res, nil
	}
	if replace {
		if err := s.backend.DeleteAll(ctx, h.Name); err != nil {
			metrics.VectorErrors.WithLabelValues("delete_all").Inc()
			s.logger.Warn("purging index before upsert failed; stale records may remain", "index", h.Name, "error", err)
			res.PurgeFailed, res.PurgeErr = true, err
		}
	}
	for start := 0; start < len(records); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(records))
		if err := s.backend.Upsert(ctx, h.Name, records[start:end]); err != nil {
			return res, s.unavailable("upsert", err, "upserting records %d-%d into %s", start, end-1, h.Name)
		}
		res.Upserted = end
	}
	return res, nil
}

// Query returns up to topK records nearest to vector. A missing index is
// NotFound; an empty result is not an error.
func (s *Store) Query(ctx context.Context, h Handle, vector []float32, topK int) ([]Match, error) {
	matches, err := s.backend.Query(ctx, h.Name, vector, topK)
	if errors.Is(err, ErrIndexNotFound) {
		return nil, apperr.New(apperr.NotFound, "vector index %s does not exist", h.Name)
	}
	if err != nil {
		return nil, s.unavailable("query", err, "querying %s", h.Name)
	}
	return matches, nil
}

// DeleteIndex drops the conversation's index. A missing index is not an
// error; existed reports whether there was one.
func (s *Store) DeleteIndex(ctx context.Context, conversationID string) (existed bool, err error) {
	name := IndexName(conversationID)
	err = s.backend.DeleteIndex(ctx, name)
	if errors.Is(err, ErrIndexNotFound) {
		s.logger.Info("vector index already absent", "index", name)
		return false, nil
	}
	if err != nil {
		return false, s.unavailable("delete_index", err, "deleting index %s", name)
	}
	return true, nil
}

// Replace rebuilds the conversation's index with records: the index is
// deleted, recreated and filled. When the delete fails the old records are
// purged in place instead, and PurgeFailed reports if that failed as well.
func (s *Store) Replace(ctx context.Context, conversationID string, records []Record) (ReplaceResult, error) {
	var res ReplaceResult
	_, delErr := s.DeleteIndex(ctx, conversationID)
	if delErr != nil {
		s.logger.Warn("deleting index before replace failed; purging records instead", "conversation_id", conversationID, "error", delErr)
	}

	h, err := s.EnsureIndex(ctx, conversationID)
	if err != nil {
		return res, err
	}
	res.Handle = h

	up, err := s.Upsert(ctx, h, records, delErr != nil)
	res.UpsertResult = up
	if delErr != nil && len(records) == 0 {
		// Nothing to upsert, so no purge ran.
		res.PurgeFailed, res.PurgeErr = true, delErr
	}
	return res, err
}

func (s *Store) unavailable(op string, err error, format string, args ...any) error {
	metrics.VectorErrors.WithLabelValues(op).Inc()
	return apperr.Wrap(apperr.ServiceUnavailable, err, "%s: "+format, append([]any{s.backend.Name()}, args...)...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
