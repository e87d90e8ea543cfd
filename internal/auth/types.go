package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// represents JWT claims
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// actions checked against a room
const (
	ActionEdit    = "edit"
	ActionComment = "comment"
	ActionShare   = "share"
	ActionManage  = "manage"
)

// resources an action applies to
const (
	ResourceDocument = "document"
	ResourceChat     = "chat"
	ResourceRoom     = "room"
)

// room membership roles, most to least privileged
const (
	RoleOwner     = "owner"
	RoleEditor    = "editor"
	RoleCommenter = "commenter"
	RoleViewer    = "viewer"
)

var (
	ErrMissingSecret = errors.New("jwt secret not set")
	ErrInvalidToken  = errors.New("invalid token")
	ErrNotMember     = errors.New("user is not a member of this room")
	ErrUnknownRole   = errors.New("unknown role")
)

// Authorizer yields an allow/deny decision for one action.
// Callers treat a non-nil error as deny.
type Authorizer interface {
	Authorize(ctx context.Context, userID, roomID, resource, action string) (bool, error)
}

// RoleLookup resolves a user's role in a room.
// Implementations return ErrNotMember when the user has no role.
type RoleLookup interface {
	MemberRole(ctx context.Context, roomID, userID string) (string, error)
}
