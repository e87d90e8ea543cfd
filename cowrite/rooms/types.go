package rooms

import (
	"context"
	"errors"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrInvalidRoom  = errors.New("project id and creator are required")
)

// repository interface for room database operations
type Repository interface {
	// room operations
	CreateRoom(ctx context.Context, req *CreateRoomRequest) (*Room, error)
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	ListRooms(ctx context.Context, projectID string, limit, offset int) ([]*Room, int, error)

	// membership operations; MemberRole returns auth.ErrNotMember for strangers
	SetMemberRole(ctx context.Context, roomID, userID, role string) (*Member, error)
	MemberRole(ctx context.Context, roomID, userID string) (string, error)
	ListMembers(ctx context.Context, roomID string) ([]*Member, error)

	// document checkpoints; an older version never replaces a newer one
	SaveDocument(ctx context.Context, doc *Document) error
	LoadDocument(ctx context.Context, roomID string) (*Document, error)

	// chat operations; appends are idempotent by message id
	AppendMessages(ctx context.Context, msgs []chat.Message) error
	ListMessages(ctx context.Context, roomID string, limit int, before string) ([]chat.Message, error)
}

// represents a collaboration room: one shared document plus its chat
type Room struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	Title     string            `json:"title"`
	CreatedBy string            `json:"created_by"`
	Settings  sessions.Settings `json:"settings"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// represents a user's role in a room
type Member struct {
	RoomID  string    `json:"room_id"`
	UserID  string    `json:"user_id"`
	Role    string    `json:"role"`
	AddedAt time.Time `json:"added_at"`
}

// is the last checkpoint of a room's document
type Document struct {
	RoomID         string    `json:"room_id"`
	Content        string    `json:"content"`
	Version        int64     `json:"version"`
	LastModified   time.Time `json:"last_modified"`
	LastModifiedBy string    `json:"last_modified_by,omitempty"`
}

// request body for creating a room
type CreateRoomRequest struct {
	ProjectID string             `json:"project_id" binding:"required,max=200"`
	Title     string             `json:"title" binding:"max=200"`
	Settings  *sessions.Settings `json:"settings,omitempty"`

	// set from the authenticated user, never from the body
	CreatedBy string `json:"-"`
}
