package chat

import (
	"errors"
	"fmt"
	"time"
)

// message types
const (
	TypeText   = "text"
	TypeSystem = "system"
	TypeReply  = "reply"
)

const (
	MaxBodyLength    = 5000
	DefaultRetention = 500
	DefaultPageSize  = 50
	MaxPageSize      = 100
)

// ErrInvalidMessage is wrapped by every validation failure.
var ErrInvalidMessage = errors.New("invalid chat message")

var (
	ErrEmptyMessage   = fmt.Errorf("%w: message is empty", ErrInvalidMessage)
	ErrMessageTooLong = fmt.Errorf("%w: message too long", ErrInvalidMessage)
	ErrInvalidType    = fmt.Errorf("%w: invalid message type", ErrInvalidMessage)
	ErrReplyNotFound  = fmt.Errorf("%w: reply target not found in this session", ErrInvalidMessage)
	ErrUnknownCursor  = errors.New("unknown history cursor")
)

// Message is an immutable chat entry.
type Message struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	UserID      string            `json:"user_id,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	Body        string            `json:"message"`
	Type        string            `json:"message_type"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Seq         uint64            `json:"seq"`
	Timestamp   time.Time         `json:"timestamp"`
}

// SendRequest is a message as submitted.
type SendRequest struct {
	SessionID   string
	UserID      string
	DisplayName string
	Body        string
	Type        string
	ReplyTo     string
	Metadata    map[string]string
}

// Page is one slice of history, oldest first.
type Page struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"has_more"`
	NextBefore string    `json:"next_before,omitempty"`
}
