package sessions

import "time"

// Settings configures a session when it is first created.
type Settings struct {
	MaxParticipants int  `json:"max_participants"`
	ReadOnly        bool `json:"read_only"`
	ChatEnabled     bool `json:"chat_enabled"`
}

// DefaultSettings are used when a join carries no room settings.
func DefaultSettings() Settings {
	return Settings{
		MaxParticipants: 50,
		ChatEnabled:     true,
	}
}

// Info is the display data a participant brings to a session.
type Info struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Color       string `json:"color,omitempty"`
}

// Permissions are resolved once per join.
type Permissions struct {
	CanEdit    bool `json:"can_edit"`
	CanComment bool `json:"can_comment"`
	CanShare   bool `json:"can_share"`
	CanManage  bool `json:"can_manage"`
}

// Range is a half-open span of code points.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Participant is one user's membership in a session.
type Participant struct {
	UserID       string      `json:"user_id"`
	Info         Info        `json:"user_info"`
	JoinedAt     time.Time   `json:"joined_at"`
	LastActivity time.Time   `json:"last_activity"`
	Permissions  Permissions `json:"permissions"`
	Cursor       int         `json:"cursor_position"`
	Selection    *Range      `json:"selection,omitempty"`
	CurrentFile  string      `json:"current_file,omitempty"`
}

// Session is a live collaboration scope. Participants are owned by it.
type Session struct {
	ID           string
	CreatedAt    time.Time
	Settings     Settings
	Participants map[string]*Participant
}

// JoinRequest carries everything Join needs.
type JoinRequest struct {
	SessionID string
	UserID    string
	Info      Info

	// applied only when the join creates the session
	Settings *Settings
}

// JoinResult is returned to the joining user.
type JoinResult struct {
	SessionID    string
	Participant  Participant
	Participants []Participant
	Settings     Settings
	Created      bool // the join created the session
	Rejoined     bool // the user was already a participant
}

// PresenceState mirrors the presence fields kept on a participant.
type PresenceState struct {
	Cursor      *int
	Selection   *Range
	CurrentFile *string
}
