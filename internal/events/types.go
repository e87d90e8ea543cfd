package events

import (
	"errors"
	"time"
)

// Kind identifies what happened in a session.
type Kind int

const (
	// a participant joined a session
	KindUserJoined Kind = iota + 1

	// a participant left a session
	KindUserLeft

	// an operation batch was applied to a document
	KindOperationApplied

	// a participant's cursor, selection or viewport changed
	KindPresenceUpdated

	// a chat message was appended
	KindChatMessage

	// the conflict resolver produced a record
	KindConflictResolved

	// the last participant left and the session was torn down
	KindSessionClosed
)

var kindNames = map[Kind]string{
	KindUserJoined:       "user_joined",
	KindUserLeft:         "user_left",
	KindOperationApplied: "operation_applied",
	KindPresenceUpdated:  "presence_updated",
	KindChatMessage:      "chat_message",
	KindConflictResolved: "conflict_resolved",
	KindSessionClosed:    "session_closed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Lossy kinds may be dropped when a subscriber falls behind.
// Everything else is reliable: a subscriber that cannot keep up is cut off.
func (k Kind) Lossy() bool {
	return k == KindPresenceUpdated
}

// AllKinds lists every kind, for subscribers that want the full stream.
func AllKinds() []Kind {
	return []Kind{
		KindUserJoined,
		KindUserLeft,
		KindOperationApplied,
		KindPresenceUpdated,
		KindChatMessage,
		KindConflictResolved,
		KindSessionClosed,
	}
}

// Event is one notification published on the bus.
type Event struct {
	Kind      Kind
	SessionID string
	UserID    string    // who caused it
	ClientID  string    // originating connection, when known
	Exclude   string    // user id that must not receive it
	Payload   any       // kind-specific value owned by the publisher
	Timestamp time.Time
}

var (
	ErrBusClosed      = errors.New("event bus closed")
	ErrSlowSubscriber = errors.New("subscriber fell behind on reliable events")
)
