package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var _ Backend = (*Qdrant)(nil)

// Qdrant is a minimal REST client mapping each index to a Qdrant collection
// with cosine distance. Record ids must be UUIDs, as Qdrant requires.
type Qdrant struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewQdrant returns a Qdrant backend for the server at baseURL.
func NewQdrant(baseURL, apiKey string, timeout time.Duration) *Qdrant {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Qdrant{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (q *Qdrant) Name() string { return "qdrant" }

type qdrantStatusError struct {
	method, path string
	status       int
	body         string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s: status %d: %s", e.method, e.path, e.status, e.body)
}

func (q *Qdrant) collectionPath(name string, suffix string) string {
	return "/collections/" + url.PathEscape(name) + suffix
}

// do sends body as JSON and decodes the response into out when non-nil.
func (q *Qdrant) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &qdrantStatusError{method: method, path: path, status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func isStatus(err error, status int) bool {
	var se *qdrantStatusError
	return errors.As(err, &se) && se.status == status
}

func (q *Qdrant) IndexExists(ctx context.Context, name string) (bool, error) {
	err := q.do(ctx, http.MethodGet, q.collectionPath(name, ""), nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (q *Qdrant) CreateIndex(ctx context.Context, name string, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	err := q.do(ctx, http.MethodPut, q.collectionPath(name, ""), body, nil)
	// A concurrent ingestion may have created it first.
	if isStatus(err, http.StatusConflict) {
		return nil
	}
	var se *qdrantStatusError
	if errors.As(err, &se) && se.status == http.StatusBadRequest && strings.Contains(se.body, "already exists") {
		return nil
	}
	return err
}

func (q *Qdrant) Ready(ctx context.Context, name string) (bool, error) {
	var resp struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, q.collectionPath(name, ""), nil, &resp); err != nil {
		return false, err
	}
	return resp.Result.Status == "green", nil
}

func (q *Qdrant) Upsert(ctx context.Context, name string, records []Record) error {
	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     r.ID,
			"vector": r.Embedding,
			"payload": map[string]any{
				"text": r.Text,
			},
		}
	}
	err := q.do(ctx, http.MethodPut, q.collectionPath(name, "/points?wait=true"), map[string]any{"points": points}, nil)
	if isStatus(err, http.StatusNotFound) {
		return ErrIndexNotFound
	}
	return err
}

func (q *Qdrant) DeleteAll(ctx context.Context, name string) error {
	// An empty filter matches every point.
	body := map[string]any{"filter": map[string]any{}}
	err := q.do(ctx, http.MethodPost, q.collectionPath(name, "/points/delete?wait=true"), body, nil)
	if isStatus(err, http.StatusNotFound) {
		return ErrIndexNotFound
	}
	return err
}

func (q *Qdrant) Query(ctx context.Context, name string, vector []float32, topK int) ([]Match, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any     `json:"id"`
			Score   float32 `json:"score"`
			Payload struct {
				Text string `json:"text"`
			} `json:"payload"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, q.collectionPath(name, "/points/search"), req, &resp)
	if isStatus(err, http.StatusNotFound) {
		return nil, ErrIndexNotFound
	}
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		matches = append(matches, Match{ID: fmt.Sprint(r.ID), Text: r.Payload.Text, Score: r.Score})
	}
	return matches, nil
}

func (q *Qdrant) DeleteIndex(ctx context.Context, name string) error {
	var resp struct {
		Result bool `json:"result"`
	}
	err := q.do(ctx, http.MethodDelete, q.collectionPath(name, ""), nil, &resp)
	if isStatus(err, http.StatusNotFound) {
		return ErrIndexNotFound
	}
	if err != nil {
		return err
	}
	// Qdrant answers 200 with result=false for a missing collection.
	if !resp.Result {
		return ErrIndexNotFound
	}
	return nil
}
