package presence

import (
	"context"
	"testing"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/auth"
	"codeberg.org/algopatterns/cowrite/internal/events"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*Tracker, *sessions.Registry, *events.Subscription, *clock) {
	t.Helper()

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	reg := sessions.NewRegistry(auth.StaticAuthorizer{Role: auth.RoleEditor}, bus, sessions.DefaultSettings())
	for _, u := range []string{"a", "b"} {
		_, err := reg.Join(context.Background(), sessions.JoinRequest{SessionID: "s1", UserID: u})
		require.NoError(t, err)
	}

	sub, err := bus.Subscribe(16, events.KindPresenceUpdated)
	require.NoError(t, err)

	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewTracker(reg, bus, 30*time.Second)
	tracker.now = c.now

	return tracker, reg, sub, c
}

func intPtr(v int) *int { return &v }

func TestUpdate_MergesFieldsAndBroadcasts(t *testing.T) {
	tracker, reg, sub, _ := setup(t)

	_, err := tracker.Update("s1", "a", Fields{Cursor: intPtr(4), Selection: &sessions.Range{Start: 1, End: 3}})
	require.NoError(t, err)

	typing := true
	entry, err := tracker.Update("s1", "a", Fields{IsTyping: &typing})
	require.NoError(t, err)

	assert.Equal(t, 4, entry.Cursor)
	assert.Equal(t, &sessions.Range{Start: 1, End: 3}, entry.Selection)
	assert.True(t, entry.IsTyping)

	p, err := reg.Participant("s1", "a")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Cursor)

	e := <-sub.C()
	assert.Equal(t, "a", e.Exclude)
	assert.Len(t, sub.C(), 1)
}

func TestUpdate_LastWriteWins(t *testing.T) {
	tracker, _, _, c := setup(t)

	_, err := tracker.Update("s1", "a", Fields{Cursor: intPtr(1)})
	require.NoError(t, err)

	c.t = c.t.Add(time.Second)
	_, err = tracker.Update("s1", "a", Fields{Cursor: intPtr(9)})
	require.NoError(t, err)

	active := tracker.Active("s1")
	require.Len(t, active, 1)
	assert.Equal(t, 9, active[0].Cursor)
}

func TestUpdate_RejectsNonParticipant(t *testing.T) {
	tracker, _, _, _ := setup(t)

	_, err := tracker.Update("s1", "mallory", Fields{Cursor: intPtr(1)})
	assert.ErrorIs(t, err, sessions.ErrNotInSession)
	assert.Empty(t, tracker.Active("s1"))
}

func TestActive_ExcludesStaleEntries(t *testing.T) {
	tracker, _, _, c := setup(t)

	_, err := tracker.Update("s1", "a", Fields{Cursor: intPtr(1)})
	require.NoError(t, err)

	c.t = c.t.Add(20 * time.Second)
	_, err = tracker.Update("s1", "b", Fields{Cursor: intPtr(2)})
	require.NoError(t, err)

	c.t = c.t.Add(15 * time.Second)

	active := tracker.Active("s1")
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].UserID)

	assert.Equal(t, 1, tracker.Sweep())
	c.t = c.t.Add(time.Minute)
	assert.Equal(t, 1, tracker.Sweep())
	assert.Empty(t, tracker.entries)
}

func TestRemoveAndDropSession(t *testing.T) {
	tracker, _, _, _ := setup(t)

	_, err := tracker.Update("s1", "a", Fields{Cursor: intPtr(1)})
	require.NoError(t, err)
	_, err = tracker.Update("s1", "b", Fields{Cursor: intPtr(1)})
	require.NoError(t, err)

	tracker.Remove("s1", "a")
	assert.Len(t, tracker.Active("s1"), 1)

	tracker.DropSession("s1")
	assert.Empty(t, tracker.Active("s1"))
}

func TestUpdate_SlowSubscriberNeverBlocks(t *testing.T) {
	tracker, _, sub, _ := setup(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			tracker.Update("s1", "a", Fields{Cursor: intPtr(i)}) //nolint:errcheck // load test
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("presence updates blocked on a full subscriber")
	}

	assert.NoError(t, sub.Err())
	assert.Len(t, sub.C(), 16)
}
