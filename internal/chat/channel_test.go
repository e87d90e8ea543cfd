package chat

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChannel(t *testing.T, retention int) (*Channel, *events.Bus) {
	t.Helper()

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	return NewChannel(bus, retention), bus
}

func TestSend_BroadcastsToEveryone(t *testing.T) {
	ch, bus := newChannel(t, 0)

	sub, err := bus.Subscribe(4, events.KindChatMessage)
	require.NoError(t, err)

	msg, err := ch.Send(SendRequest{SessionID: "s1", UserID: "a", Body: "  hello  "})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, TypeText, msg.Type)
	assert.Equal(t, uint64(1), msg.Seq)

	select {
	case e := <-sub.C():
		assert.Equal(t, "s1", e.SessionID)
		assert.Empty(t, e.Exclude)
		assert.Equal(t, msg, e.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected chat event")
	}
}

func TestSend_Validation(t *testing.T) {
	ch, _ := newChannel(t, 0)

	tests := []struct {
		name string
		req  SendRequest
		err  error
	}{
		{"empty", SendRequest{SessionID: "s1", Body: "   "}, ErrEmptyMessage},
		{"too long", SendRequest{SessionID: "s1", Body: strings.Repeat("é", MaxBodyLength+1)}, ErrMessageTooLong},
		{"bad type", SendRequest{SessionID: "s1", Body: "x", Type: "shout"}, ErrInvalidType},
		{"reply without target", SendRequest{SessionID: "s1", Body: "x", Type: TypeReply}, ErrInvalidType},
		{"reply to missing", SendRequest{SessionID: "s1", Body: "x", ReplyTo: "nope"}, ErrReplyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ch.Send(tt.req)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	_, err := ch.Send(SendRequest{SessionID: "s1", Body: strings.Repeat("é", MaxBodyLength)})
	assert.NoError(t, err)
}

func TestSend_ReplyMustBeInSameSession(t *testing.T) {
	ch, _ := newChannel(t, 0)

	first, err := ch.Send(SendRequest{SessionID: "s1", UserID: "a", Body: "question"})
	require.NoError(t, err)

	reply, err := ch.Send(SendRequest{SessionID: "s1", UserID: "b", Body: "answer", ReplyTo: first.ID})
	require.NoError(t, err)
	assert.Equal(t, TypeReply, reply.Type)

	_, err = ch.Send(SendRequest{SessionID: "s2", UserID: "b", Body: "answer", ReplyTo: first.ID})
	assert.ErrorIs(t, err, ErrReplyNotFound)
}

func TestHistory_PagesOldestFirst(t *testing.T) {
	ch, _ := newChannel(t, 0)

	for i := range 7 {
		_, err := ch.Send(SendRequest{SessionID: "s1", UserID: "a", Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	page, err := ch.History("s1", 3, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m5", "m6"}, bodies(page.Messages))
	assert.True(t, page.HasMore)

	page, err = ch.History("s1", 3, page.NextBefore)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, bodies(page.Messages))
	assert.True(t, page.HasMore)

	page, err = ch.History("s1", 3, page.NextBefore)
	require.NoError(t, err)
	assert.Equal(t, []string{"m0"}, bodies(page.Messages))
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextBefore)
}

func TestHistory_UnknownCursor(t *testing.T) {
	ch, _ := newChannel(t, 0)

	_, err := ch.History("s1", 10, "missing")
	assert.ErrorIs(t, err, ErrUnknownCursor)

	page, err := ch.History("s1", 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestHistory_RetentionTrimsFront(t *testing.T) {
	ch, _ := newChannel(t, 3)

	var first Message
	for i := range 5 {
		msg, err := ch.Send(SendRequest{SessionID: "s1", UserID: "a", Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		if i == 0 {
			first = msg
		}
	}

	page, err := ch.History("s1", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m4"}, bodies(page.Messages))
	assert.True(t, page.HasMore)

	// trimmed messages still count as reply targets
	_, err = ch.Send(SendRequest{SessionID: "s1", UserID: "b", Body: "late", ReplyTo: first.ID})
	assert.NoError(t, err)
}

func TestLoad_SeedsPersistedHistory(t *testing.T) {
	ch, _ := newChannel(t, 0)

	ch.Load("s1", []Message{
		{ID: "01A", SessionID: "s1", Body: "old1", Type: TypeText, Seq: 11},
		{ID: "01B", SessionID: "s1", Body: "old2", Type: TypeText, Seq: 12},
	})

	msg, err := ch.Send(SendRequest{SessionID: "s1", UserID: "a", Body: "new"})
	require.NoError(t, err)
	assert.Equal(t, uint64(13), msg.Seq)

	page, err := ch.History("s1", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"old1", "old2", "new"}, bodies(page.Messages))
	assert.True(t, page.HasMore)

	ch.Drop("s1")
	assert.Empty(t, ch.Recent("s1", 10))
}

func bodies(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}
