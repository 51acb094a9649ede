package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docquer/docquer/internal/apperr"
	"github.com/docquer/docquer/internal/storage"
	"github.com/docquer/docquer/internal/vectorstore"
)

// NewConversation describes a conversation to create. FirstMessage seeds
// the generated title; Title is the fallback when generation fails.
type NewConversation struct {
	Username     string
	FirstMessage string
	Title        string
	FileName     string
	FileMIME     string
}

// CreateConversation stores a new, empty conversation for the user, with a
// title and subtitle derived from the first message.
func (s *Service) CreateConversation(ctx context.Context, nc NewConversation) (storage.Conversation, error) {
	username := strings.TrimSpace(nc.Username)
	if username == "" {
		return storage.Conversation{}, apperr.New(apperr.InvalidInput, "username is required")
	}
	if err := s.store.EnsureUser(username); err != nil {
		return storage.Conversation{}, err
	}

	first := strings.TrimSpace(nc.FirstMessage)
	title, subtitle := s.titles(ctx, s.userKey(username), first, nc.FileName, nc.Title)

	c := storage.Conversation{
		ID:           uuid.NewString(),
		Username:     username,
		Title:        title,
		Subtitle:     subtitle,
		FirstMessage: first,
		FileName:     nc.FileName,
		FileMIME:     nc.FileMIME,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := s.store.CreateConversation(c); err != nil {
		return storage.Conversation{}, err
	}
	s.logger.Info("conversation created", "conversation_id", c.ID, "username", username)
	return c, nil
}

// GetConversation returns a conversation by id.
func (s *Service) GetConversation(_ context.Context, id string) (storage.Conversation, error) {
	return s.conversation(id)
}

// ListConversations returns the user's conversations, newest first.
func (s *Service) ListConversations(_ context.Context, username string) ([]storage.Conversation, error) {
	if username == "" {
		return nil, apperr.New(apperr.InvalidInput, "username is required")
	}
	return s.store.ListConversations(username)
}

// DeleteResult reports what a conversation deletion removed.
type DeleteResult struct {
	IndexDeleted bool `json:"indexDeleted"`
	// PurgeQueued is set when the vector index could not be deleted now and
	// a background job will retry.
	PurgeQueued bool `json:"purgeQueued"`
}

// DeleteConversation removes the conversation, its messages and its vector
// index. A failed index deletion is queued for retry rather than failing
// the request.
func (s *Service) DeleteConversation(ctx context.Context, id string) (DeleteResult, error) {
	if _, err := s.conversation(id); err != nil {
		return DeleteResult{}, err
	}

	// The index may exist without recorded content when an earlier
	// ingestion failed after creating it.
	var res DeleteResult
	existed, err := s.vectors.DeleteIndex(ctx, id)
	if err != nil {
		s.logger.Warn("deleting vector index failed; queueing purge", "conversation_id", id, "error", err)
		if err := s.queuePurge(id); err != nil {
			return DeleteResult{}, err
		}
		res.PurgeQueued = true
	}
	res.IndexDeleted = existed

	if err := s.store.DeleteConversation(id); err != nil {
		return DeleteResult{}, storeErr(err, id)
	}
	s.logger.Info("conversation deleted", "conversation_id", id, "index_deleted", res.IndexDeleted, "purge_queued", res.PurgeQueued)
	return res, nil
}

func (s *Service) queuePurge(conversationID string) error {
	payload, err := json.Marshal(storage.PurgePayload{
		IndexName:      vectorstore.IndexName(conversationID),
		ConversationID: conversationID,
	})
	if err != nil {
		return err
	}
	return s.store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        storage.JobPurgeIndex,
		PayloadJSON: string(payload),
		MaxAttempts: 5,
	})
}

// FileInfo describes the document attached to a conversation.
type FileInfo struct {
	FileName string `json:"fileName"`
	FileMIME string `json:"fileMime"`
}

// Transcript is a conversation's messages and ingestion state.
type Transcript struct {
	Conversation storage.Conversation
	Messages     []storage.Message
	File         *FileInfo
	APIKeySet    bool
	LinkUploaded bool
}

// Messages returns the conversation's messages in order. When username is
// set it must own the conversation.
func (s *Service) Messages(_ context.Context, id, username string) (Transcript, error) {
	conv, err := s.conversation(id)
	if err != nil {
		return Transcript{}, err
	}
	if username != "" && username != conv.Username {
		return Transcript{}, apperr.New(apperr.NotFound, "conversation %s not found", id)
	}
	msgs, err := s.store.GetMessages(conv.MessageIDs)
	if err != nil {
		return Transcript{}, err
	}

	t := Transcript{
		Conversation: conv,
		Messages:     msgs,
		APIKeySet:    s.opts.ServerKey || s.userKey(conv.Username) != "",
		LinkUploaded: len(conv.Links) > 0,
	}
	if conv.FileName != "" {
		t.File = &FileInfo{FileName: conv.FileName, FileMIME: conv.FileMIME}
	}
	return t, nil
}

// ConversationStat is the activity summary of one conversation.
type ConversationStat struct {
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"messageCount"`
}

// Stats summarises a user's conversations.
type Stats struct {
	Conversations []ConversationStat `json:"convData"`
	TotalMessages int                `json:"totalMessages"`
	TotalFiles    int                `json:"totalFiles"`
}

// Stats counts messages and attached files across the user's conversations.
func (s *Service) Stats(ctx context.Context, username string) (Stats, error) {
	convs, err := s.ListConversations(ctx, username)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Conversations: make([]ConversationStat, 0, len(convs))}
	for _, c := range convs {
		st.Conversations = append(st.Conversations, ConversationStat{Timestamp: c.CreatedAt, MessageCount: len(c.MessageIDs)})
		st.TotalMessages += len(c.MessageIDs)
		if c.FileName != "" {
			st.TotalFiles++
		}
	}
	return st, nil
}

// SetAPIKey stores the user's own LLM API key, creating the user if needed.
// An empty key clears it.
func (s *Service) SetAPIKey(_ context.Context, username, key string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return apperr.New(apperr.InvalidInput, "username is required")
	}
	if err := s.store.SetUserAPIKey(username, strings.TrimSpace(key)); err != nil {
		return err
	}
	s.logger.Info("user API key updated", "username", username, "set", key != "")
	return nil
}

// PurgeIndex deletes an index left behind by a failed conversation
// deletion. It is called by the purge worker.
func (s *Service) PurgeIndex(ctx context.Context, p storage.PurgePayload) error {
	if p.ConversationID == "" {
		return errors.New("purge payload has no conversation id")
	}
	if want := vectorstore.IndexName(p.ConversationID); p.IndexName != "" && p.IndexName != want {
		return fmt.Errorf("purge payload index %s does not belong to conversation %s", p.IndexName, p.ConversationID)
	}
	_, err := s.vectors.DeleteIndex(ctx, p.ConversationID)
	return err
}
