package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// --- Users ---

// SetUserAPIKey stores the LLM API key for username, creating the user if needed.
func (s *Store) SetUserAPIKey(username, key string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO users (username, llm_api_key, created_at) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET llm_api_key = excluded.llm_api_key`,
		username, key, now,
	)
	return err
}

// EnsureUser creates username with no API key if it does not exist yet.
func (s *Store) EnsureUser(username string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`INSERT INTO users (username, created_at) VALUES (?, ?) ON CONFLICT(username) DO NOTHING`, username, now)
	return err
}

func (s *Store) GetUser(username string) (User, error) {
	var u User
	var createdAt string
	err := s.db.QueryRow(`SELECT username, llm_api_key, created_at FROM users WHERE username = ?`, username).
		Scan(&u.Username, &u.LLMAPIKey, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return User{}, fmt.Errorf("parsing created_at for user %s: %w", username, err)
	}
	return u, nil
}

// --- Conversations ---

const conversationColumns = `id, username, title, subtitle, first_message, file_name, file_mime, links, message_ids, created_at`

func (s *Store) CreateConversation(c Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	links, err := marshalList(c.Links)
	if err != nil {
		return err
	}
	ids, err := marshalList(c.MessageIDs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Username, c.Title, c.Subtitle, c.FirstMessage, c.FileName, c.FileMIME,
		links, ids, c.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetConversation(id string) (Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return c, err
}

// ListConversations returns username's conversations, newest first.
func (s *Store) ListConversations(username string) ([]Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations
		WHERE username = ? ORDER BY created_at DESC, rowid DESC`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *Store) SetConversationTitle(id, title, subtitle, firstMessage string) error {
	return s.execOne(`UPDATE conversations SET title = ?, subtitle = ?, first_message = ? WHERE id = ?`,
		title, subtitle, firstMessage, id)
}

func (s *Store) SetConversationFile(id, fileName, fileMIME string) error {
	return s.execOne(`UPDATE conversations SET file_name = ?, file_mime = ? WHERE id = ?`, fileName, fileMIME, id)
}

// AddConversationLink appends link to the conversation's link list.
func (s *Store) AddConversationLink(id string, link Link) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning link transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT links FROM conversations WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var links []Link
	if err := json.Unmarshal([]byte(raw), &links); err != nil {
		return fmt.Errorf("decoding links for %s: %w", id, err)
	}
	encoded, err := marshalList(append(links, link))
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE conversations SET links = ? WHERE id = ?`, encoded, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendMessages stores msgs and appends their ids to the conversation in a
// single transaction.
func (s *Store) AppendMessages(conversationID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning message transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT message_ids FROM conversations WHERE id = ?`, conversationID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return fmt.Errorf("decoding message ids for %s: %w", conversationID, err)
	}

	for _, m := range msgs {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.Exec(`INSERT INTO messages (id, conversation_id, sender, text, created_at) VALUES (?, ?, ?, ?, ?)`,
			m.ID, conversationID, m.Sender, m.Text, createdAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
		ids = append(ids, m.ID)
	}

	encoded, err := marshalList(ids)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE conversations SET message_ids = ? WHERE id = ?`, encoded, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetMessages returns the messages with the given ids in the order of ids.
// Unknown ids are skipped.
func (s *Store) GetMessages(ids []string) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(`SELECT id, conversation_id, sender, text, created_at FROM messages
		WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]Message, len(ids))
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Text, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(byID))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

// DeleteConversation removes the conversation and its messages.
func (s *Store) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) execOne(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (Conversation, error) {
	var c Conversation
	var links, ids, createdAt string
	if err := r.Scan(&c.ID, &c.Username, &c.Title, &c.Subtitle, &c.FirstMessage, &c.FileName, &c.FileMIME,
		&links, &ids, &createdAt); err != nil {
		return Conversation{}, err
	}
	if err := json.Unmarshal([]byte(links), &c.Links); err != nil {
		return Conversation{}, fmt.Errorf("decoding links for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(ids), &c.MessageIDs); err != nil {
		return Conversation{}, fmt.Errorf("decoding message ids for %s: %w", c.ID, err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at for %s: %w", c.ID, err)
	}
	c.CreatedAt = t
	return c, nil
}

// marshalList encodes a slice as a JSON array, writing [] for nil.
func marshalList[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
