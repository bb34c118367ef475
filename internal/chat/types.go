package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	DefaultTitle   = "New Chat"
	maxTitleLength = 50
)

// Message is one role-tagged turn. Messages are never edited after creation.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Conversation is a titled, append-only list of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
}

// NewConversation returns an empty conversation with a fresh id.
func NewConversation(now time.Time) Conversation {
	ms := now.UnixMilli()
	return Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: ms,
		UpdatedAt: ms,
	}
}

func NewUserMessage(content string, now time.Time) Message {
	return newMessage(RoleUser, content, now)
}

func NewAssistantMessage(content string, now time.Time) Message {
	return newMessage(RoleAssistant, content, now)
}

func newMessage(role Role, content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: now.UnixMilli(),
	}
}

// DeriveTitle turns the first user message into a conversation title:
// trimmed, and cut to 50 characters plus "..." when longer.
func DeriveTitle(firstMessage string) string {
	cleaned := strings.TrimSpace(firstMessage)
	runes := []rune(cleaned)
	if len(runes) <= maxTitleLength {
		return cleaned
	}
	return string(runes[:maxTitleLength]) + "..."
}

// Clone returns a copy whose message slice can be appended to freely.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// HasUserMessage reports whether any user turn exists yet.
func (c Conversation) HasUserMessage() bool {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}
