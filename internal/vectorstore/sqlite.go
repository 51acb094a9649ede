package vectorstore

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var _ Backend = (*SQLite)(nil)

// SQLite stores vectors in the application database and answers queries
// with a brute-force cosine scan. It suits the per-conversation index sizes
// this service sees; larger deployments should use Qdrant or pgvector.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an existing *sql.DB. The vector_indexes and
// vector_records tables must already exist (created via migrations).
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) IndexExists(ctx context.Context, name string) (bool, error) {
	_, err := s.dimension(ctx, name)
	if errors.Is(err, ErrIndexNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLite) dimension(ctx context.Context, name string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM vector_indexes WHERE name = ?`, name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrIndexNotFound
	}
	return dim, err
}

func (s *SQLite) CreateIndex(ctx context.Context, name string, dim int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO vector_indexes (name, dimension, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING`, name, dim, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Ready reports whether the index exists; SQLite indexes are usable as
// soon as they are created.
func (s *SQLite) Ready(ctx context.Context, name string) (bool, error) {
	return s.IndexExists(ctx, name)
}

func (s *SQLite) Upsert(ctx context.Context, name string, records []Record) error {
	dim, err := s.dimension(ctx, name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_records (index_name, id, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(index_name, id) DO UPDATE SET text_chunk = excluded.text_chunk, embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		if len(r.Embedding) != dim {
			return fmt.Errorf("record %s has %d dimensions, index %s expects %d", r.ID, len(r.Embedding), name, dim)
		}
		if _, err := stmt.ExecContext(ctx, name, r.ID, r.Text, encodeFloat32s(r.Embedding), now); err != nil {
			return fmt.Errorf("upserting record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) DeleteAll(ctx context.Context, name string) error {
	if _, err := s.dimension(ctx, name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM vector_records WHERE index_name = ?`, name)
	return err
}

func (s *SQLite) DeleteIndex(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM vector_indexes WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrIndexNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_records WHERE index_name = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Query.
// Chunk text is fetched only for the top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Query scans every vector of the index and returns the topK most similar
// records by cosine similarity, best first.
func (s *SQLite) Query(ctx context.Context, name string, vector []float32, topK int) ([]Match, error) {
	if _, err := s.dimension(ctx, name); err != nil {
		return nil, err
	}
	queryNorm := norm(vector)
	if queryNorm == 0 || topK <= 0 {
		return nil, nil
	}

	top, err := s.scan(ctx, name, vector, queryNorm, topK)
	if err != nil || len(top) == 0 {
		return nil, err
	}

	args := make([]any, 0, len(top)+1)
	args = append(args, name)
	scores := make(map[string]float32, len(top))
	for _, c := range top {
		args = append(args, c.ID)
		scores[c.ID] = c.Score
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, text_chunk FROM vector_records
		WHERE index_name = ? AND id IN (?`+strings.Repeat(",?", len(top)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, len(top))
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Text); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		m.Score = scores[m.ID]
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	// IN does not preserve order.
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

func (s *SQLite) scan(ctx context.Context, name string, vector []float32, queryNorm float32, topK int) ([]idScore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM vector_records WHERE index_name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	// Reused across rows to avoid per-row allocations.
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	top := make([]idScore, h.Len())
	for i := len(top) - 1; i >= 0; i-- {
		top[i] = heap.Pop(h).(idScore)
	}
	return top, nil
}

// Count returns the number of records in the index.
func (s *SQLite) Count(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_records WHERE index_name = ?`, name).Scan(&n)
	return n, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into buf, growing it when
// needed. A length that is not a multiple of 4 means the blob is corrupt.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed norm of a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * math.Sqrt(bNormSq)))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
