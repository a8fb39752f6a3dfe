// Package conversation holds the chat message model and the reducer that
// folds protocol events into it.
package conversation

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the lifecycle of an assistant message. User messages carry the
// zero Status and are always terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further mutation may happen to a message in s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// PlaceholderContent is the initial text of the assistant placeholder.
const PlaceholderContent = "Thinking..."

// Message is one entry of a Conversation.
type Message struct {
	ID            uuid.UUID       `json:"id"`
	Role          Role            `json:"role"`
	Content       string          `json:"content"`
	Status        Status          `json:"status,omitempty"`
	Agent         string          `json:"agent,omitempty"`
	Visualization json.RawMessage `json:"visualization,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Terminal reports whether m can no longer change. User messages are always
// terminal.
func (m Message) Terminal() bool {
	return m.Role == RoleUser || m.Status.Terminal()
}

// Conversation is the chronological list of messages.
type Conversation []Message

// NewExchange creates the user message for question and its paired assistant
// placeholder. IDs are UUIDv7, so they sort in creation order.
func NewExchange(question string, now time.Time) (user, placeholder Message) {
	user = Message{
		ID:        newID(),
		Role:      RoleUser,
		Content:   question,
		CreatedAt: now,
	}
	placeholder = Message{
		ID:        newID(),
		Role:      RoleAssistant,
		Content:   PlaceholderContent,
		Status:    StatusPending,
		CreatedAt: now,
	}
	return user, placeholder
}

// Append returns a new conversation with the exchange for question added.
func (c Conversation) Append(question string, now time.Time) Conversation {
	user, placeholder := NewExchange(question, now)
	next := make(Conversation, 0, len(c)+2)
	next = append(next, c...)
	return append(next, user, placeholder)
}

// Last returns the most recent message, or false when c is empty.
func (c Conversation) Last() (Message, bool) {
	if len(c) == 0 {
		return Message{}, false
	}
	return c[len(c)-1], true
}

// Clone returns a copy that shares nothing mutable with c.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := slices.Clone(c)
	for i := range out {
		out[i].Visualization = bytes.Clone(out[i].Visualization)
	}
	return out
}

// Pending reports whether the last message is an assistant message that has
// not reached a terminal status.
func (c Conversation) Pending() bool {
	last, ok := c.Last()
	return ok && last.Role == RoleAssistant && !last.Status.Terminal()
}

func newID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
