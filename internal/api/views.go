package api

import (
	"time"

	"github.com/docquer/docquer/internal/pipeline"
	"github.com/docquer/docquer/internal/storage"
)

type conversationView struct {
	ID           string         `json:"id"`
	Username     string         `json:"username"`
	Title        string         `json:"title"`
	Subtitle     string         `json:"subtitle"`
	FirstMessage string         `json:"firstMessage"`
	FileName     string         `json:"fileName,omitempty"`
	FileMIME     string         `json:"fileMime,omitempty"`
	Links        []storage.Link `json:"links"`
	MessageIDs   []string       `json:"messageIds"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func newConversationView(c storage.Conversation) conversationView {
	v := conversationView{
		ID:           c.ID,
		Username:     c.Username,
		Title:        c.Title,
		Subtitle:     c.Subtitle,
		FirstMessage: c.FirstMessage,
		FileName:     c.FileName,
		FileMIME:     c.FileMIME,
		Links:        c.Links,
		MessageIDs:   c.MessageIDs,
		CreatedAt:    c.CreatedAt,
	}
	if v.Links == nil {
		v.Links = []storage.Link{}
	}
	if v.MessageIDs == nil {
		v.MessageIDs = []string{}
	}
	return v
}

type messageView struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type transcriptView struct {
	Conversation conversationView   `json:"conversation"`
	Messages     []messageView      `json:"messages"`
	File         *pipeline.FileInfo `json:"file"`
	APIKeySet    bool               `json:"apiKeySet"`
	LinkUploaded bool               `json:"linkUploaded"`
}

func newTranscriptView(t pipeline.Transcript) transcriptView {
	msgs := make([]messageView, len(t.Messages))
	for i, m := range t.Messages {
		msgs[i] = messageView{ID: m.ID, Sender: m.Sender, Text: m.Text, CreatedAt: m.CreatedAt}
	}
	return transcriptView{
		Conversation: newConversationView(t.Conversation),
		Messages:     msgs,
		File:         t.File,
		APIKeySet:    t.APIKeySet,
		LinkUploaded: t.LinkUploaded,
	}
}
