package collab

import (
	"context"
	"errors"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/document"
	"codeberg.org/algopatterns/cowrite/internal/presence"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrChatDisabled     = errors.New("chat is disabled in this room")
)

const (
	defaultCheckpointInterval = 5 * time.Second
	defaultChatPreload        = 50
	persistTimeout            = 10 * time.Second
)

// Checkpointer persists documents and chat outside the process.
type Checkpointer interface {
	// LoadDocument returns the last saved state, or nil when there is none.
	LoadDocument(ctx context.Context, roomID string) (*document.Seed, error)
	LoadChat(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
	SaveDocument(ctx context.Context, snap document.Snapshot) error
	AppendChat(ctx context.Context, msg chat.Message) error
}

// NopCheckpointer keeps everything in memory.
type NopCheckpointer struct{}

func (NopCheckpointer) LoadDocument(context.Context, string) (*document.Seed, error) { return nil, nil }
func (NopCheckpointer) LoadChat(context.Context, string, int) ([]chat.Message, error) {
	return nil, nil
}
func (NopCheckpointer) SaveDocument(context.Context, document.Snapshot) error { return nil }
func (NopCheckpointer) AppendChat(context.Context, chat.Message) error        { return nil }

// AppliedEdit is the payload of an operation_applied event.
type AppliedEdit struct {
	FileID string
	Entry  document.HistoryEntry
}

// ConflictNotice is the payload of a conflict_resolved event. It is
// addressed to the record's authors only.
type ConflictNotice struct {
	FileID string
	Record conflict.Record
}

// Joined is what a joining user receives.
type Joined struct {
	*sessions.JoinResult
	State RoomState
}

// RoomState is everything a client needs to (re)build its view of a room.
type RoomState struct {
	Document      document.Snapshot       `json:"document"`
	Participants  []sessions.Participant  `json:"participants"`
	Presences     []presence.Entry        `json:"presences"`
	ChatMessages  []chat.Message          `json:"chat_messages"`
	Operations    []document.HistoryEntry `json:"operations,omitempty"`
	Replayable    bool                    `json:"replayable"`
	LastClientSeq uint64                  `json:"last_client_seq"`
}

// SubmitResult is returned for an edit batch. Conflict is set when a stale
// batch was escalated to the resolver.
type SubmitResult struct {
	Applied  *document.ApplyResult
	Conflict *conflict.Record
}

// ChatRequest is a chat message as sent by a participant.
type ChatRequest struct {
	Body     string
	Type     string
	ReplyTo  string
	Metadata map[string]string
}
