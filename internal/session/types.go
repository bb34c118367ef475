package session

import (
	"errors"

	"github.com/antoniostano/monadchat/internal/chat"
)

// State is where a send currently is in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateQuotaCheck State = "quota_check"
	StateSending    State = "sending"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StateBlocked    State = "blocked"
	StateFailed     State = "failed"
)

var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrInFlight             = errors.New("a reply is already streaming for this conversation")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrQuotaExceeded        = errors.New("daily message limit reached")
)

// SendRequest is one user message submitted to a conversation.
type SendRequest struct {
	Identity       string
	ConversationID string
	Content        string
}

// Result is the outcome of a send that got past validation.
//
// Failed is set when the completion broke; Reply then holds the apology that
// was persisted in place of the answer. Failed sends return a nil error.
type Result struct {
	State        State
	Conversation chat.Conversation
	Reply        chat.Message
	Failed       bool
}

// FragmentHandler receives each streamed fragment together with the text
// accumulated so far, fragment included.
type FragmentHandler func(fragment, accumulated string)
