package rooms

import (
	"context"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/document"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
	"codeberg.org/algopatterns/cowrite/api/rest/pagination"
)

const (
	defaultRoomsLimit = 20
	maxRoomsLimit     = 100
)

// LiveRooms is the slice of the collaboration service REST reads from.
type LiveRooms interface {
	Participants(sessionID string) []sessions.Participant
	Snapshot(ctx context.Context, sessionID string) (document.Snapshot, error)
	ChatHistory(sessionID string, limit int, before string) (chat.Page, error)
}

// RoleCache forgets cached roles after a membership change.
type RoleCache interface {
	Invalidate(roomID, userID string)
}

// request body for granting a role
type SetMemberRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=owner editor commenter viewer"`
}

// a room plus whoever is in it right now
type RoomResponse struct {
	*rooms.Room
	Participants []sessions.Participant `json:"participants"`
	Live         bool                   `json:"live"`
}

type ListRoomsResponse struct {
	Rooms      []*rooms.Room   `json:"rooms"`
	Pagination pagination.Meta `json:"pagination"`
}

type DocumentResponse struct {
	RoomID         string `json:"room_id"`
	Content        string `json:"content"`
	Version        int64  `json:"version"`
	LastModifiedBy string `json:"last_modified_by,omitempty"`
	Live           bool   `json:"live"`
}
