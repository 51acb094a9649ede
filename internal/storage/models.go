package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Sender values for Message.Sender.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Link types recorded on a conversation.
const (
	LinkWebPage           = "web_page"
	LinkYouTubeTranscript = "youtube_transcript"
)

type User struct {
	Username  string
	LLMAPIKey string
	CreatedAt time.Time
}

// Link is a web page or video transcript ingested into a conversation's index.
type Link struct {
	Name string `json:"linkName"`
	URL  string `json:"link"`
	Type string `json:"linkType"`
}

type Conversation struct {
	ID           string
	Username     string
	Title        string
	Subtitle     string
	FirstMessage string
	FileName     string
	FileMIME     string
	Links        []Link
	MessageIDs   []string
	CreatedAt    time.Time
}

// HasContent reports whether anything has been ingested into the
// conversation's vector index.
func (c Conversation) HasContent() bool {
	return c.FileName != "" || len(c.Links) > 0
}

type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Text           string
	CreatedAt      time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
