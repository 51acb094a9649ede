package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/docquer/docquer/internal/apperr"
	"github.com/docquer/docquer/internal/llm"
	"github.com/docquer/docquer/internal/storage"
	"github.com/docquer/docquer/internal/vectorstore"
)

// Chat modes.
const (
	ModeAuto     = "auto"
	ModePlain    = "plain"
	ModeDocument = "document"
)

// Title limits and fallbacks.
const (
	MaxTitleRunes    = 18
	MaxSubtitleRunes = 36
	DefaultTitle     = "New chat"
	DefaultSubtitle  = "nothing mentioned"
)

// ChatRequest is one user turn.
type ChatRequest struct {
	ConversationID string
	// Username, when set, must own the conversation.
	Username string
	Query    string
	// Mode is plain, document or auto (document when the conversation has
	// ingested content). Empty means auto.
	Mode string
}

// ChatResult is the stored outcome of a turn.
type ChatResult struct {
	Response   string   `json:"response"`
	MessageIDs []string `json:"messageIds"`
	Grounded   bool     `json:"grounded"`
	Chunks     int      `json:"chunks"`
	Title      string   `json:"title,omitempty"`
	Subtitle   string   `json:"subtitle,omitempty"`
}

// Chat answers a query, grounded in the conversation's index in document
// mode. The user message and the answer are stored only after generation
// succeeds.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return ChatResult{}, apperr.New(apperr.InvalidInput, "query is required")
	}
	conv, err := s.conversation(req.ConversationID)
	if err != nil {
		return ChatResult{}, err
	}
	if req.Username != "" && req.Username != conv.Username {
		return ChatResult{}, apperr.New(apperr.NotFound, "conversation %s not found", conv.ID)
	}

	mode := req.Mode
	switch mode {
	case "", ModeAuto:
		mode = ModePlain
		if conv.HasContent() {
			mode = ModeDocument
		}
	case ModePlain, ModeDocument:
	default:
		return ChatResult{}, apperr.New(apperr.InvalidInput, "unknown chat mode %q", req.Mode)
	}

	prior, err := s.store.GetMessages(conv.MessageIDs)
	if err != nil {
		return ChatResult{}, err
	}
	history := toHistory(prior)
	apiKey := s.userKey(conv.Username)

	var (
		msgs   []llm.Message
		result ChatResult
	)
	if mode == ModeDocument {
		matches, err := s.relevant(ctx, conv.ID, query)
		if err != nil {
			return ChatResult{}, err
		}
		if msgs, err = s.prompts.Grounded(conv.Username, history, query, matches); err != nil {
			return ChatResult{}, err
		}
		result.Grounded, result.Chunks = true, len(matches)
	} else {
		msgs = s.prompts.Plain(conv.Username, history, query)
	}

	answer, err := s.generate(ctx, msgs, apiKey)
	if err != nil {
		return ChatResult{}, err
	}

	now := time.Now().UTC()
	userMsg := storage.Message{ID: uuid.NewString(), ConversationID: conv.ID, Sender: storage.SenderUser, Text: query, CreatedAt: now}
	botMsg := storage.Message{ID: uuid.NewString(), ConversationID: conv.ID, Sender: storage.SenderAssistant, Text: answer, CreatedAt: now}
	if err := s.store.AppendMessages(conv.ID, userMsg, botMsg); err != nil {
		return ChatResult{}, storeErr(err, conv.ID)
	}
	result.Response = answer
	result.MessageIDs = []string{userMsg.ID, botMsg.ID}

	if len(prior) == 0 && conv.FirstMessage == "" {
		title, subtitle := s.titles(ctx, apiKey, query, conv.FileName, conv.Title)
		if err := s.store.SetConversationTitle(conv.ID, title, subtitle, query); err != nil {
			s.logger.Warn("saving conversation title failed", "conversation_id", conv.ID, "error", err)
		} else {
			result.Title, result.Subtitle = title, subtitle
		}
	}

	s.logger.Debug("chat turn complete", "conversation_id", conv.ID, "mode", mode, "chunks", result.Chunks)
	return result, nil
}

// relevant retrieves the chunks for query, dropping those under MinScore.
// A conversation without an index has no context.
func (s *Service) relevant(ctx context.Context, conversationID, query string) ([]vectorstore.Match, error) {
	matches, err := s.retriever.Retrieve(ctx, conversationID, query)
	if apperr.Is(err, apperr.NotFound) {
		return nil, apperr.New(apperr.NoContext, "no documents have been added to this conversation")
	}
	if err != nil {
		return nil, err
	}
	kept := matches[:0]
	for _, m := range matches {
		if float64(m.Score) >= s.opts.MinScore {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

// generate runs the first pass and then the editor passes. Every editor
// pass refines the first draft; the last output is returned.
func (s *Service) generate(ctx context.Context, msgs []llm.Message, apiKey string) (string, error) {
	draft, err := s.complete(ctx, msgs, apiKey)
	if err != nil {
		return "", err
	}
	answer := draft
	if s.opts.EditorPasses > 0 {
		editor := s.prompts.Editor(draft)
		for range s.opts.EditorPasses {
			if answer, err = s.complete(ctx, editor, apiKey); err != nil {
				return "", err
			}
		}
	}
	if strings.TrimSpace(answer) == "" {
		return "", apperr.New(apperr.ServiceUnavailable, "model returned an empty response")
	}
	return answer, nil
}

func (s *Service) complete(ctx context.Context, msgs []llm.Message, apiKey string) (string, error) {
	reply, err := s.llm.Chat(ctx, llm.Request{
		Model:       s.opts.Model,
		Messages:    msgs,
		Temperature: s.opts.Temperature,
		APIKey:      apiKey,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.ServiceUnavailable, err, "generating response")
	}
	return reply, nil
}

// titles derives a title and subtitle from a conversation's first message.
// Model output over the length limits, or a failed call, falls back to
// defaultTitle (or "New chat") and "nothing mentioned"; output is never
// truncated.
func (s *Service) titles(ctx context.Context, apiKey, firstMessage, fileName, defaultTitle string) (title, subtitle string) {
	fallback := defaultTitle
	if fallback == "" {
		fallback = DefaultTitle
	}
	if firstMessage == "" {
		title = fallback
		if about := "About " + fileName; fileName != "" && utf8.RuneCountInString(about) <= MaxTitleRunes {
			title = about
		}
		return title, DefaultSubtitle
	}

	generated, err := s.complete(ctx, s.prompts.Title(firstMessage), apiKey)
	if err != nil {
		s.logger.Warn("title generation failed", "error", err)
	}
	generated = cleanName(generated)
	title = generated
	if err != nil || title == "" || utf8.RuneCountInString(title) > MaxTitleRunes {
		title = fallback
	}
	if generated == "" {
		generated = title
	}

	subtitle, err = s.complete(ctx, s.prompts.Subtitle(generated, firstMessage), apiKey)
	if err != nil {
		s.logger.Warn("subtitle generation failed", "error", err)
	}
	subtitle = cleanName(subtitle)
	if err != nil || subtitle == "" || utf8.RuneCountInString(subtitle) > MaxSubtitleRunes {
		subtitle = DefaultSubtitle
	}
	return title, subtitle
}

func cleanName(s string) string {
	return strings.Trim(s, "\"'\n\r\t .")
}

// userKey returns the user's own LLM key, or "" to use the server's.
func (s *Service) userKey(username string) string {
	if s.opts.ServerKeyOnly {
		return ""
	}
	u, err := s.store.GetUser(username)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("loading user failed", "username", username, "error", err)
		}
		return ""
	}
	return u.LLMAPIKey
}

func toHistory(msgs []storage.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Sender == storage.SenderAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Text})
	}
	return out
}
