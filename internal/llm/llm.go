// Package llm talks to hosted chat-completion providers.
package llm

import (
	"context"
	"time"

	"github.com/docquer/docquer/internal/metrics"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single chat completion call. An empty Model or APIKey
// falls back to the provider's configured default.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	APIKey      string
}

// Chatter returns the assistant reply for a transcript.
type Chatter interface {
	Chat(ctx context.Context, req Request) (string, error)
}

func observe(provider string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.LLMDuration.WithLabelValues(provider, outcome).Observe(time.Since(start).Seconds())
}
