package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/events"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
)

// Tracker keeps ephemeral cursor and selection state per session.
// Broadcasts go out on the bus's lossy lane.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]map[string]*Entry

	members Membership
	bus     *events.Bus
	timeout time.Duration
	now     func() time.Time
}

func NewTracker(members Membership, bus *events.Bus, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Tracker{
		entries: make(map[string]map[string]*Entry),
		members: members,
		bus:     bus,
		timeout: timeout,
		now:     time.Now,
	}
}

// Update merges the given fields into the user's entry. Last write wins
// per field. Only participants of the session may publish presence.
func (t *Tracker) Update(sessionID, userID string, f Fields) (Entry, error) {
	if !t.members.IsParticipant(sessionID, userID) {
		return Entry{}, sessions.ErrNotInSession
	}

	now := t.now()

	t.mu.Lock()
	bySession := t.entries[sessionID]
	if bySession == nil {
		bySession = make(map[string]*Entry)
		t.entries[sessionID] = bySession
	}

	entry := bySession[userID]
	if entry == nil {
		entry = &Entry{UserID: userID, SessionID: sessionID}
		bySession[userID] = entry
	}

	if f.FileID != nil {
		entry.FileID = *f.FileID
	}
	if f.Cursor != nil {
		entry.Cursor = *f.Cursor
	}
	if f.Selection != nil {
		sel := *f.Selection
		entry.Selection = &sel
	}
	if f.Viewport != nil {
		vp := *f.Viewport
		entry.Viewport = &vp
	}
	if f.IsTyping != nil {
		entry.IsTyping = *f.IsTyping
	}
	entry.Timestamp = now

	out := *entry
	t.mu.Unlock()

	// a leave can race with the update; the registry has the final say
	_ = t.members.SetPresence(sessionID, userID, sessions.PresenceState{ //nolint:errcheck // best effort mirror
		Cursor:      f.Cursor,
		Selection:   f.Selection,
		CurrentFile: f.FileID,
	})

	t.bus.Publish(events.Event{
		Kind:      events.KindPresenceUpdated,
		SessionID: sessionID,
		UserID:    userID,
		Exclude:   userID,
		Payload:   out,
		Timestamp: now,
	})

	return out, nil
}

// Active returns entries updated within the staleness timeout, by user id.
func (t *Tracker) Active(sessionID string) []Entry {
	cutoff := t.now().Add(-t.timeout)

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.entries[sessionID]))
	for _, e := range t.entries[sessionID] {
		if e.Timestamp.After(cutoff) {
			out = append(out, *e)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Remove drops a user's entry, e.g. on leave.
func (t *Tracker) Remove(sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if bySession, ok := t.entries[sessionID]; ok {
		delete(bySession, userID)
		if len(bySession) == 0 {
			delete(t.entries, sessionID)
		}
	}
}

// DropSession forgets every entry of a torn down session.
func (t *Tracker) DropSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, sessionID)
}

// Sweep removes stale entries and returns how many were dropped.
func (t *Tracker) Sweep() int {
	cutoff := t.now().Add(-t.timeout)
	removed := 0

	t.mu.Lock()
	defer t.mu.Unlock()

	for sessionID, bySession := range t.entries {
		for userID, e := range bySession {
			if !e.Timestamp.After(cutoff) {
				delete(bySession, userID)
				removed++
			}
		}

		if len(bySession) == 0 {
			delete(t.entries, sessionID)
		}
	}

	return removed
}

// Run sweeps periodically until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
