package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docquer/docquer/internal/apperr"
)

func newTestOpenAI(url, key string) *OpenAI {
	c := NewOpenAI(url, key, "llama3-70b-8192")
	c.backoff = time.Millisecond
	return c
}

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer default-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "llama3-70b-8192" || req.Temperature != 0.5 || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"The sky is blue."}}]}`)
	}))
	defer srv.Close()

	reply, err := newTestOpenAI(srv.URL+"/", "default-key").Chat(context.Background(), Request{
		Messages:    []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "color?"}},
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "The sky is blue." {
		t.Errorf("reply = %q", reply)
	}
}

func TestOpenAIChat_RequestKeyOverrides(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer user-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "mixtral" {
			t.Errorf("model = %q", req.Model)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL, "default-key").Chat(context.Background(), Request{
		Model: "mixtral", APIKey: "user-key", Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

func TestOpenAIChat_NoKey(t *testing.T) {
	_, err := newTestOpenAI("http://unused", "").Chat(context.Background(), Request{})
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Errorf("err = %v, want InvalidInput", err)
	}
}

func TestOpenAIChat_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"finally"}}]}`)
	}))
	defer srv.Close()

	reply, err := newTestOpenAI(srv.URL, "k").Chat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "finally" || calls.Load() != 3 {
		t.Errorf("reply = %q after %d calls", reply, calls.Load())
	}
}

func TestOpenAIChat_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL, "k").Chat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("err = %v", err)
	}
	if calls.Load() != maxRetries {
		t.Errorf("calls = %d, want %d", calls.Load(), maxRetries)
	}
}

func TestOpenAIChat_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
		}, "invalid api key"},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"choices":[]}`)
		}, "no choices"},
		{"garbage", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html>`)
		}, "decoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestOpenAI(srv.URL, "k").Chat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}
