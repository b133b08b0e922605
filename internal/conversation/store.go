// Package conversation keeps chat history in memory. Nothing survives a restart.
package conversation

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is used when a conversation is created without a title.
const DefaultTitle = "New Conversation"

// ErrNotFound is returned for unknown conversation ids.
var ErrNotFound = errors.New("conversation not found")

// Role of a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment references an uploaded file that accompanied a user message.
type Attachment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	URL          string `json:"url,omitempty"`
	Content      string `json:"content,omitempty"`
	IsProcessed  bool   `json:"isProcessed"`
	OriginalName string `json:"originalName,omitempty"`
}

// Message is a durable conversation turn. Content is plain text.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Conversation is a titled sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is a concurrency-safe in-memory conversation store.
// Returned values are copies; mutating them does not affect the store.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	now           func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*Conversation),
		now:           time.Now,
	}
}

// Create adds a conversation. A blank title becomes DefaultTitle.
func (s *Store) Create(title string) Conversation {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	now := s.now()
	c := &Conversation{
		ID:        "conv_" + uuid.NewString(),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.conversations[c.ID] = c
	s.mu.Unlock()

	return c.clone()
}

// Get returns a copy of the conversation.
func (s *Store) Get(id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c.clone(), nil
}

// List returns every conversation, most recently updated first.
func (s *Store) List() []Conversation {
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// AddMessage appends a message and bumps the conversation's UpdatedAt.
func (s *Store) AddMessage(conversationID string, role Role, content string, attachments []Attachment) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return Message{}, ErrNotFound
	}

	now := s.now()
	msg := Message{
		ID:          "msg_" + uuid.NewString(),
		Role:        role,
		Content:     content,
		Timestamp:   now,
		Attachments: cloneAttachments(attachments),
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = now

	out := msg
	out.Attachments = cloneAttachments(msg.Attachments)
	return out, nil
}

// Delete removes a conversation.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

// Clear removes every conversation.
func (s *Store) Clear() {
	s.mu.Lock()
	s.conversations = make(map[string]*Conversation)
	s.mu.Unlock()
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Attachments = cloneAttachments(m.Attachments)
		out.Messages[i] = m
	}
	return out
}

func cloneAttachments(in []Attachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attachment, len(in))
	copy(out, in)
	return out
}
