package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var _ Backend = (*PGVector)(nil)

const pgvectorSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS docquer_indexes (
    name       TEXT PRIMARY KEY,
    dimension  INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS docquer_vectors (
    index_name TEXT NOT NULL REFERENCES docquer_indexes(name) ON DELETE CASCADE,
    id         TEXT NOT NULL,
    text       TEXT NOT NULL,
    embedding  vector NOT NULL,
    PRIMARY KEY (index_name, id)
);
`

// PGVector stores every index in a shared Postgres table, keyed by index
// name, and ranks by the pgvector cosine distance operator.
type PGVector struct {
	pool *pgxpool.Pool
}

// NewPGVector connects to dsn and creates the schema when missing.
func NewPGVector(ctx context.Context, dsn string) (*PGVector, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing pgvector dsn: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating pgvector pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging pgvector database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgvectorSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating pgvector schema: %w", err)
	}
	return &PGVector{pool: pool}, nil
}

func (p *PGVector) Name() string { return "pgvector" }

// Close releases the connection pool.
func (p *PGVector) Close() {
	p.pool.Close()
}

func (p *PGVector) dimension(ctx context.Context, name string) (int, error) {
	var dim int
	err := p.pool.QueryRow(ctx, `SELECT dimension FROM docquer_indexes WHERE name = $1`, name).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrIndexNotFound
	}
	return dim, err
}

func (p *PGVector) IndexExists(ctx context.Context, name string) (bool, error) {
	_, err := p.dimension(ctx, name)
	if errors.Is(err, ErrIndexNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (p *PGVector) CreateIndex(ctx context.Context, name string, dim int) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO docquer_indexes (name, dimension) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		name, dim)
	return err
}

func (p *PGVector) Ready(ctx context.Context, name string) (bool, error) {
	return p.IndexExists(ctx, name)
}

func (p *PGVector) Upsert(ctx context.Context, name string, records []Record) error {
	dim, err := p.dimension(ctx, name)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		if len(r.Embedding) != dim {
			return fmt.Errorf("record %s has %d dimensions, index %s expects %d", r.ID, len(r.Embedding), name, dim)
		}
		batch.Queue(
			`INSERT INTO docquer_vectors (index_name, id, text, embedding)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (index_name, id) DO UPDATE SET text = EXCLUDED.text, embedding = EXCLUDED.embedding`,
			name, r.ID, r.Text, pgvector.NewVector(r.Embedding),
		)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upserting record %s: %w", records[i].ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PGVector) DeleteAll(ctx context.Context, name string) error {
	if _, err := p.dimension(ctx, name); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM docquer_vectors WHERE index_name = $1`, name)
	return err
}

// Query ranks by cosine distance and reports similarity as 1 - distance.
func (p *PGVector) Query(ctx context.Context, name string, vector []float32, topK int) ([]Match, error) {
	if _, err := p.dimension(ctx, name); err != nil {
		return nil, err
	}
	if topK <= 0 || norm(vector) == 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, text, 1 - (embedding <=> $2) AS score
		 FROM docquer_vectors
		 WHERE index_name = $1
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		name, pgvector.NewVector(vector), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", name, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var score float64
		if err := rows.Scan(&m.ID, &m.Text, &score); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (p *PGVector) DeleteIndex(ctx context.Context, name string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM docquer_indexes WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIndexNotFound
	}
	return nil
}
