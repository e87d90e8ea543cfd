package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/auth"
	"codeberg.org/algopatterns/cowrite/internal/events"
)

// Registry tracks live sessions and their participants. Sessions are
// kept in a dense slice with an id index; freed slots are reused.
type Registry struct {
	mu    sync.RWMutex
	slots []*Session
	index map[string]int
	free  []int

	authz    auth.Authorizer
	bus      *events.Bus
	defaults Settings

	teardownMu sync.RWMutex
	onTeardown []func(sessionID string)

	now func() time.Time
}

func NewRegistry(authz auth.Authorizer, bus *events.Bus, defaults Settings) *Registry {
	if defaults.MaxParticipants <= 0 {
		defaults.MaxParticipants = DefaultSettings().MaxParticipants
	}

	return &Registry{
		index:    make(map[string]int),
		authz:    authz,
		bus:      bus,
		defaults: defaults,
		now:      time.Now,
	}
}

// registers a callback run after an empty session is removed
func (r *Registry) OnTeardown(callback func(sessionID string)) {
	r.teardownMu.Lock()
	defer r.teardownMu.Unlock()
	r.onTeardown = append(r.onTeardown, callback)
}

// Join adds a user to a session, creating it if needed. Permissions are
// resolved through the authorizer before any state changes; a provider
// error denies that capability.
func (r *Registry) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if req.SessionID == "" || req.UserID == "" {
		return nil, ErrInvalidJoin
	}

	perms := r.resolvePermissions(ctx, req.UserID, req.SessionID)
	now := r.now()

	r.mu.Lock()

	session, created := r.lookupOrCreate(req, now)

	if existing, ok := session.Participants[req.UserID]; ok {
		existing.LastActivity = now
		existing.Permissions = perms
		if req.Info.DisplayName != "" {
			existing.Info = req.Info
		}

		result := r.result(session, existing, false, true)
		r.mu.Unlock()

		return result, nil
	}

	if len(session.Participants) >= session.Settings.MaxParticipants {
		r.mu.Unlock()
		return nil, ErrCapacityExceeded
	}

	if session.Settings.ReadOnly {
		perms.CanEdit = false
	}

	participant := &Participant{
		UserID:       req.UserID,
		Info:         req.Info,
		JoinedAt:     now,
		LastActivity: now,
		Permissions:  perms,
	}
	session.Participants[req.UserID] = participant

	result := r.result(session, participant, created, false)
	r.mu.Unlock()

	r.bus.Publish(events.Event{
		Kind:      events.KindUserJoined,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Exclude:   req.UserID,
		Payload:   result.Participant,
		Timestamp: now,
	})

	return result, nil
}

// Leave removes a user. Leaving a session the user is not in is a no-op.
// When the last participant leaves the session is torn down.
func (r *Registry) Leave(sessionID, userID string) {
	r.mu.Lock()

	idx, ok := r.index[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}

	session := r.slots[idx]
	participant, ok := session.Participants[userID]
	if !ok {
		r.mu.Unlock()
		return
	}

	delete(session.Participants, userID)
	empty := len(session.Participants) == 0

	if empty {
		r.slots[idx] = nil
		delete(r.index, sessionID)
		r.free = append(r.free, idx)
	}
	r.mu.Unlock()

	now := r.now()

	r.bus.Publish(events.Event{
		Kind:      events.KindUserLeft,
		SessionID: sessionID,
		UserID:    userID,
		Exclude:   userID,
		Payload:   *participant,
		Timestamp: now,
	})

	if !empty {
		return
	}

	r.teardownMu.RLock()
	callbacks := append([]func(string){}, r.onTeardown...)
	r.teardownMu.RUnlock()

	for _, callback := range callbacks {
		callback(sessionID)
	}

	r.bus.Publish(events.Event{
		Kind:      events.KindSessionClosed,
		SessionID: sessionID,
		Timestamp: now,
	})
}

// Participants returns a stable, join-ordered copy of the session's members.
func (r *Registry) Participants(sessionID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session := r.get(sessionID)
	if session == nil {
		return []Participant{}
	}

	return sortedParticipants(session)
}

// Participant returns a copy of one member.
func (r *Registry) Participant(sessionID, userID string) (Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session := r.get(sessionID)
	if session == nil {
		return Participant{}, ErrSessionNotFound
	}

	p, ok := session.Participants[userID]
	if !ok {
		return Participant{}, ErrNotInSession
	}

	return *p, nil
}

// IsParticipant reports whether userID is currently in the session.
func (r *Registry) IsParticipant(sessionID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session := r.get(sessionID)
	if session == nil {
		return false
	}

	_, ok := session.Participants[userID]
	return ok
}

// Settings returns the session's settings.
func (r *Registry) Settings(sessionID string) (Settings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session := r.get(sessionID)
	if session == nil {
		return Settings{}, false
	}

	return session.Settings, true
}

// Touch refreshes a participant's last activity.
func (r *Registry) Touch(sessionID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session := r.get(sessionID); session != nil {
		if p, ok := session.Participants[userID]; ok {
			p.LastActivity = r.now()
		}
	}
}

// SetPresence copies the non-nil presence fields onto the participant.
func (r *Registry) SetPresence(sessionID, userID string, state PresenceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := r.get(sessionID)
	if session == nil {
		return ErrNotInSession
	}

	p, ok := session.Participants[userID]
	if !ok {
		return ErrNotInSession
	}

	if state.Cursor != nil {
		p.Cursor = *state.Cursor
	}
	if state.Selection != nil {
		sel := *state.Selection
		p.Selection = &sel
	}
	if state.CurrentFile != nil {
		p.CurrentFile = *state.CurrentFile
	}
	p.LastActivity = r.now()

	return nil
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// SessionIDs lists live sessions.
func (r *Registry) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.index))
	for id := range r.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// caller holds r.mu
func (r *Registry) get(sessionID string) *Session {
	idx, ok := r.index[sessionID]
	if !ok {
		return nil
	}
	return r.slots[idx]
}

// caller holds r.mu for writing
func (r *Registry) lookupOrCreate(req JoinRequest, now time.Time) (*Session, bool) {
	if session := r.get(req.SessionID); session != nil {
		return session, false
	}

	settings := r.defaults
	if req.Settings != nil {
		settings = *req.Settings
		if settings.MaxParticipants <= 0 {
			settings.MaxParticipants = r.defaults.MaxParticipants
		}
	}

	session := &Session{
		ID:           req.SessionID,
		CreatedAt:    now,
		Settings:     settings,
		Participants: make(map[string]*Participant),
	}

	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[idx] = session
		r.index[req.SessionID] = idx
	} else {
		r.slots = append(r.slots, session)
		r.index[req.SessionID] = len(r.slots) - 1
	}

	return session, true
}

// caller holds r.mu
func (r *Registry) result(session *Session, p *Participant, created, rejoined bool) *JoinResult {
	return &JoinResult{
		SessionID:    session.ID,
		Participant:  *p,
		Participants: sortedParticipants(session),
		Settings:     session.Settings,
		Created:      created,
		Rejoined:     rejoined,
	}
}

func (r *Registry) resolvePermissions(ctx context.Context, userID, sessionID string) Permissions {
	check := func(resource, action string) bool {
		ok, err := r.authz.Authorize(ctx, userID, sessionID, resource, action)
		return err == nil && ok
	}

	return Permissions{
		CanEdit:    check(auth.ResourceDocument, auth.ActionEdit),
		CanComment: check(auth.ResourceChat, auth.ActionComment),
		CanShare:   check(auth.ResourceRoom, auth.ActionShare),
		CanManage:  check(auth.ResourceRoom, auth.ActionManage),
	}
}

func sortedParticipants(session *Session) []Participant {
	out := make([]Participant, 0, len(session.Participants))
	for _, p := range session.Participants {
		out = append(out, *p)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})

	return out
}
