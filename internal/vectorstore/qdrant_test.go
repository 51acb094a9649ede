package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQdrant_IndexExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("api-key header = %q", r.Header.Get("api-key"))
		}
		if r.URL.Path == "/collections/docquer-a" {
			fmt.Fprint(w, `{"result":{"status":"green"}}`)
			return
		}
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL+"/", "secret", 0)
	if ok, err := q.IndexExists(context.Background(), "docquer-a"); err != nil || !ok {
		t.Errorf("IndexExists(a) = %v, %v", ok, err)
	}
	if ok, err := q.IndexExists(context.Background(), "docquer-b"); err != nil || ok {
		t.Errorf("IndexExists(b) = %v, %v", ok, err)
	}
}

func TestQdrant_CreateIndex(t *testing.T) {
	var body map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprint(w, `{"result":true}`)
	}))
	defer srv.Close()

	if err := NewQdrant(srv.URL, "", 0).CreateIndex(context.Background(), "docquer-a", 384); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if body["vectors"]["size"] != float64(384) || body["vectors"]["distance"] != "Cosine" {
		t.Errorf("body = %v", body)
	}
}

func TestQdrant_CreateIndex_AlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Collection docquer-a already exists!"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewQdrant(srv.URL, "", 0).CreateIndex(context.Background(), "docquer-a", 384); err != nil {
		t.Errorf("CreateIndex on existing collection = %v", err)
	}
}

func TestQdrant_Ready(t *testing.T) {
	status := "yellow"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"result":{"status":%q}}`, status)
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "", 0)
	if ok, _ := q.Ready(context.Background(), "docquer-a"); ok {
		t.Error("Ready = true for yellow collection")
	}
	status = "green"
	if ok, _ := q.Ready(context.Background(), "docquer-a"); !ok {
		t.Error("Ready = false for green collection")
	}
}

func TestQdrant_UpsertAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/docquer-a/points":
			var req struct {
				Points []struct {
					ID      string            `json:"id"`
					Vector  []float32         `json:"vector"`
					Payload map[string]string `json:"payload"`
				} `json:"points"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if r.URL.Query().Get("wait") != "true" {
				t.Error("upsert did not wait")
			}
			if len(req.Points) != 2 || req.Points[1].Payload["text"] != "second" {
				t.Errorf("points = %+v", req.Points)
			}
			fmt.Fprint(w, `{"result":{"status":"completed"}}`)
		case "/collections/docquer-a/points/search":
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			if req["limit"] != float64(5) || req["with_payload"] != true {
				t.Errorf("search = %v", req)
			}
			fmt.Fprint(w, `{"result":[
				{"id":"8c6a7b1e-0000-4000-8000-000000000001","score":0.91,"payload":{"text":"first"}},
				{"id":"8c6a7b1e-0000-4000-8000-000000000002","score":0.42,"payload":{"text":"second"}}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "", 0)
	err := q.Upsert(context.Background(), "docquer-a", []Record{
		{ID: "8c6a7b1e-0000-4000-8000-000000000001", Text: "first", Embedding: []float32{1, 0}},
		{ID: "8c6a7b1e-0000-4000-8000-000000000002", Text: "second", Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := q.Query(context.Background(), "docquer-a", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 || matches[0].Text != "first" || matches[0].Score != 0.91 {
		t.Errorf("matches = %+v", matches)
	}
}

func TestQdrant_MissingCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "", 0)
	ctx := context.Background()
	if _, err := q.Query(ctx, "docquer-x", []float32{1}, 5); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("Query = %v", err)
	}
	if err := q.Upsert(ctx, "docquer-x", records(1)); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("Upsert = %v", err)
	}
	if err := q.DeleteAll(ctx, "docquer-x"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("DeleteAll = %v", err)
	}
	if err := q.DeleteIndex(ctx, "docquer-x"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("DeleteIndex = %v", err)
	}
}

func TestQdrant_DeleteIndex(t *testing.T) {
	result := "true"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		fmt.Fprintf(w, `{"result":%s}`, result)
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "", 0)
	if err := q.DeleteIndex(context.Background(), "docquer-a"); err != nil {
		t.Errorf("DeleteIndex = %v", err)
	}
	result = "false"
	if err := q.DeleteIndex(context.Background(), "docquer-a"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("DeleteIndex(result=false) = %v", err)
	}
}

func TestQdrant_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewQdrant(srv.URL, "", 0).IndexExists(context.Background(), "docquer-a")
	var se *qdrantStatusError
	if !errors.As(err, &se) || se.status != http.StatusServiceUnavailable {
		t.Errorf("err = %v, want 503 status error", err)
	}
}
