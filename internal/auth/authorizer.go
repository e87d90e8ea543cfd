package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var roleCapabilities = map[string]map[string]bool{
	RoleOwner:     {ActionEdit: true, ActionComment: true, ActionShare: true, ActionManage: true},
	RoleEditor:    {ActionEdit: true, ActionComment: true, ActionShare: true},
	RoleCommenter: {ActionComment: true},
	RoleViewer:    {},
}

// ValidRole reports whether role is one of the known room roles.
func ValidRole(role string) bool {
	_, ok := roleCapabilities[role]
	return ok
}

// RoleAllows reports whether role grants action.
func RoleAllows(role, action string) bool {
	return roleCapabilities[role][action]
}

type cachedRole struct {
	role      string
	expiresAt time.Time
}

// RoleAuthorizer answers from room membership roles, caching lookups briefly.
type RoleAuthorizer struct {
	lookup RoleLookup
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cachedRole
}

func NewRoleAuthorizer(lookup RoleLookup, ttl time.Duration) *RoleAuthorizer {
	return &RoleAuthorizer{
		lookup: lookup,
		ttl:    ttl,
		cache:  make(map[string]cachedRole),
	}
}

func (a *RoleAuthorizer) Authorize(ctx context.Context, userID, roomID, resource, action string) (bool, error) {
	if userID == "" || roomID == "" {
		return false, nil
	}

	role, err := a.role(ctx, roomID, userID)
	if errors.Is(err, ErrNotMember) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to resolve role for %s on %s: %w", action, resource, err)
	}

	return RoleAllows(role, action), nil
}

// drops a cached role so the next check sees a membership change
func (a *RoleAuthorizer) Invalidate(roomID, userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, roomID+"/"+userID)
}

func (a *RoleAuthorizer) role(ctx context.Context, roomID, userID string) (string, error) {
	key := roomID + "/" + userID
	now := time.Now()

	a.mu.Lock()
	if cached, ok := a.cache[key]; ok && now.Before(cached.expiresAt) {
		a.mu.Unlock()
		return cached.role, nil
	}
	a.mu.Unlock()

	role, err := a.lookup.MemberRole(ctx, roomID, userID)
	if err != nil {
		return "", err
	}

	if !ValidRole(role) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	if a.ttl > 0 {
		a.mu.Lock()
		a.cache[key] = cachedRole{role: role, expiresAt: now.Add(a.ttl)}
		a.mu.Unlock()
	}

	return role, nil
}

// StaticAuthorizer grants every user the same role. Used for local runs
// without a database and in tests.
type StaticAuthorizer struct {
	Role string
}

func (a StaticAuthorizer) Authorize(_ context.Context, userID, _, _, action string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	return RoleAllows(a.Role, action), nil
}
