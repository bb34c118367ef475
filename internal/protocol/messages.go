package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl  MessageType = "client_control"
	TypeUsageChanged   MessageType = "usage_changed"
	TypePremiumChanged MessageType = "premium_changed"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

// Client control actions.
const (
	ActionPing    = "ping"
	ActionRefresh = "refresh"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl is the only message a client sends on the events socket.
type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

// UsageChanged carries the identity's fresh quota after a counted message.
type UsageChanged struct {
	Type       MessageType `json:"type"`
	Address    string      `json:"address"`
	Count      int         `json:"count"`
	Remaining  int         `json:"remaining"`
	Unlimited  bool        `json:"unlimited"`
	DailyLimit int         `json:"daily_limit"`
	ResetIn    string      `json:"reset_in"`
}

type PremiumChanged struct {
	Type    MessageType `json:"type"`
	Address string      `json:"address"`
	Premium bool        `json:"premium"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		switch msg.Action {
		case ActionPing, ActionRefresh:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
