package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/docquer/docquer/internal/storage"
)

func openSQLite(t *testing.T) *SQLite {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSQLite(st.DB())
}

func TestSQLite_IndexLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	if ok, err := s.IndexExists(ctx, "docquer-a"); err != nil || ok {
		t.Fatalf("IndexExists before create = %v, %v", ok, err)
	}
	if err := s.CreateIndex(ctx, "docquer-a", 3); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	// Creating twice is fine.
	if err := s.CreateIndex(ctx, "docquer-a", 3); err != nil {
		t.Fatalf("CreateIndex again: %v", err)
	}
	if ok, _ := s.Ready(ctx, "docquer-a"); !ok {
		t.Error("Ready = false after create")
	}
	if err := s.DeleteIndex(ctx, "docquer-a"); err != nil {
		t.Fatalf("DeleteIndex: %v", err)
	}
	if err := s.DeleteIndex(ctx, "docquer-a"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("second DeleteIndex = %v, want ErrIndexNotFound", err)
	}
}

func TestSQLite_QueryRanksByCosine(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	s.CreateIndex(ctx, "docquer-a", 2)

	err := s.Upsert(ctx, "docquer-a", []Record{
		{ID: "x", Text: "east", Embedding: []float32{1, 0}},
		{ID: "y", Text: "north", Embedding: []float32{0, 1}},
		{ID: "z", Text: "north-east", Embedding: []float32{1, 1}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := s.Query(ctx, "docquer-a", []float32{1, 0.1}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 || matches[0].Text != "east" || matches[1].Text != "north-east" {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].Score <= matches[1].Score {
		t.Errorf("scores not descending: %v, %v", matches[0].Score, matches[1].Score)
	}
}

func TestSQLite_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	s.CreateIndex(ctx, "docquer-a", 2)

	s.Upsert(ctx, "docquer-a", []Record{{ID: "x", Text: "old", Embedding: []float32{1, 0}}})
	s.Upsert(ctx, "docquer-a", []Record{{ID: "x", Text: "new", Embedding: []float32{1, 0}}})

	if n, _ := s.Count(ctx, "docquer-a"); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	matches, _ := s.Query(ctx, "docquer-a", []float32{1, 0}, 5)
	if len(matches) != 1 || matches[0].Text != "new" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestSQLite_UpsertDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	s.CreateIndex(ctx, "docquer-a", 3)

	err := s.Upsert(ctx, "docquer-a", []Record{{ID: "x", Text: "t", Embedding: []float32{1, 0}}})
	if err == nil {
		t.Fatal("expected dimension error")
	}
	if n, _ := s.Count(ctx, "docquer-a"); n != 0 {
		t.Errorf("Count = %d after failed upsert, want 0", n)
	}
}

func TestSQLite_IndexesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	s.CreateIndex(ctx, "docquer-a", 2)
	s.CreateIndex(ctx, "docquer-b", 2)
	s.Upsert(ctx, "docquer-a", []Record{{ID: "1", Text: "from a", Embedding: []float32{1, 0}}})
	s.Upsert(ctx, "docquer-b", []Record{{ID: "1", Text: "from b", Embedding: []float32{1, 0}}})

	matches, _ := s.Query(ctx, "docquer-b", []float32{1, 0}, 5)
	if len(matches) != 1 || matches[0].Text != "from b" {
		t.Errorf("matches = %+v", matches)
	}

	if err := s.DeleteAll(ctx, "docquer-a"); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n, _ := s.Count(ctx, "docquer-b"); n != 1 {
		t.Errorf("DeleteAll(a) touched b: count = %d", n)
	}
}

func TestSQLite_MissingIndex(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	if _, err := s.Query(ctx, "docquer-none", []float32{1}, 5); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("Query = %v", err)
	}
	if err := s.Upsert(ctx, "docquer-none", records(1)); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("Upsert = %v", err)
	}
	if err := s.DeleteAll(ctx, "docquer-none"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("DeleteAll = %v", err)
	}
}

func TestSQLite_ZeroQueryVector(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	s.CreateIndex(ctx, "docquer-a", 2)
	s.Upsert(ctx, "docquer-a", []Record{{ID: "x", Text: "t", Embedding: []float32{1, 0}}})

	matches, err := s.Query(ctx, "docquer-a", []float32{0, 0}, 5)
	if err != nil || len(matches) != 0 {
		t.Errorf("Query(zero) = %v, %v", matches, err)
	}
}

func TestSQLite_TopKOfMany(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	s.CreateIndex(ctx, "docquer-a", 2)

	var recs []Record
	for i := range 50 {
		recs = append(recs, Record{ID: fmt.Sprint(i), Text: fmt.Sprint("chunk ", i), Embedding: []float32{1, float32(i)}})
	}
	s.Upsert(ctx, "docquer-a", recs)

	matches, err := s.Query(ctx, "docquer-a", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 5 || matches[0].ID != "0" || matches[4].ID != "4" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out, err := decodeFloat32sInto(nil, encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("out = %v", out)
		}
	}
	if _, err := decodeFloat32sInto(nil, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
