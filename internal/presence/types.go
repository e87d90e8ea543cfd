package presence

import (
	"time"

	"codeberg.org/algopatterns/cowrite/internal/sessions"
)

// DefaultTimeout is how long an entry stays active without updates.
const DefaultTimeout = 30 * time.Second

// Viewport is the visible range of lines.
type Viewport struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
}

// Entry is the latest known presence of one user in one session.
type Entry struct {
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id"`
	FileID    string          `json:"file_id,omitempty"`
	Cursor    int             `json:"cursor_position"`
	Selection *sessions.Range `json:"selection,omitempty"`
	Viewport  *Viewport       `json:"viewport,omitempty"`
	IsTyping  bool            `json:"is_typing"`
	Timestamp time.Time       `json:"timestamp"`
}

// Fields is a partial update; nil fields keep their previous value.
type Fields struct {
	FileID    *string
	Cursor    *int
	Selection *sessions.Range
	Viewport  *Viewport
	IsTyping  *bool
}

// Membership is the slice of the session registry presence relies on.
type Membership interface {
	IsParticipant(sessionID, userID string) bool
	SetPresence(sessionID, userID string, state sessions.PresenceState) error
}
