package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/docquer/docquer/internal/apperr"
)

const defaultGeminiModel = "gemini-1.5-flash"

var _ Chatter = (*Gemini)(nil)

// Gemini sends chats to Google's Generative Language API. A client is
// opened per call because requests may carry their own API key.
type Gemini struct {
	apiKey string
	model  string
	opts   []option.ClientOption
}

// NewGemini creates a Gemini chatter. Extra client options (such as an
// endpoint override) are applied after the API key.
func NewGemini(apiKey, model string, opts ...option.ClientOption) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{apiKey: apiKey, model: model, opts: opts}
}

// Chat maps the system message to the model's system instruction, replays
// the rest as history and sends the final user message.
func (g *Gemini) Chat(ctx context.Context, req Request) (reply string, err error) {
	start := time.Now()
	defer func() { observe("gemini", start, err) }()

	key := req.APIKey
	if key == "" {
		key = g.apiKey
	}
	if key == "" {
		return "", apperr.New(apperr.InvalidInput, "no Gemini API key configured")
	}
	system, history, last, err := toGemini(req.Messages)
	if err != nil {
		return "", err
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(key)}, g.opts...)...)
	if err != nil {
		return "", fmt.Errorf("creating gemini client: %w", err)
	}
	defer client.Close()

	name := req.Model
	if name == "" {
		name = g.model
	}
	model := client.GenerativeModel(name)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	temp := float32(req.Temperature)
	model.GenerationConfig = genai.GenerationConfig{Temperature: &temp}

	session := model.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", fmt.Errorf("gemini SendMessage: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if text.Len() == 0 {
		return "", errors.New("gemini returned an empty response")
	}
	return text.String(), nil
}

// toGemini splits a transcript into the system instruction, prior turns
// with Gemini roles, and the final user message.
func toGemini(msgs []Message) (system string, history []*genai.Content, last string, err error) {
	var systems []string
	var turns []Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			systems = append(systems, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != RoleUser {
		return "", nil, "", errors.New("transcript must end with a user message")
	}

	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return strings.Join(systems, "\n\n"), history, turns[len(turns)-1].Content, nil
}
