package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"codeberg.org/algopatterns/cowrite/internal/events"
	"github.com/oklog/ulid/v2"
)

// Channel holds per-session append-only chat logs.
type Channel struct {
	mu   sync.RWMutex
	logs map[string]*sessionLog

	retention int
	bus       *events.Bus
	now       func() time.Time
}

type sessionLog struct {
	messages []Message
	seqByID  map[string]uint64
	seq      uint64
	trimmed  uint64 // messages dropped from the front of messages
}

func NewChannel(bus *events.Bus, retention int) *Channel {
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &Channel{
		logs:      make(map[string]*sessionLog),
		retention: retention,
		bus:       bus,
		now:       time.Now,
	}
}

// Send validates and appends a message, then broadcasts it to every
// participant including the sender. Order is server receipt order.
func (c *Channel) Send(req SendRequest) (Message, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return Message{}, ErrEmptyMessage
	}

	if utf8.RuneCountInString(body) > MaxBodyLength {
		return Message{}, fmt.Errorf("%w: max %d characters", ErrMessageTooLong, MaxBodyLength)
	}

	msgType := req.Type
	if msgType == "" {
		msgType = TypeText
		if req.ReplyTo != "" {
			msgType = TypeReply
		}
	}

	switch msgType {
	case TypeText, TypeSystem:
	case TypeReply:
		if req.ReplyTo == "" {
			return Message{}, fmt.Errorf("%w: reply without target", ErrInvalidType)
		}
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidType, msgType)
	}

	now := c.now()

	c.mu.Lock()
	l := c.log(req.SessionID)

	if req.ReplyTo != "" {
		if _, ok := l.seqByID[req.ReplyTo]; !ok {
			c.mu.Unlock()
			return Message{}, ErrReplyNotFound
		}
	}

	l.seq++
	msg := Message{
		ID:          ulid.Make().String(),
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Body:        body,
		Type:        msgType,
		ReplyTo:     req.ReplyTo,
		Metadata:    req.Metadata,
		Seq:         l.seq,
		Timestamp:   now,
	}
	l.append(msg, c.retention)
	c.mu.Unlock()

	c.bus.Publish(events.Event{
		Kind:      events.KindChatMessage,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Payload:   msg,
		Timestamp: now,
	})

	return msg, nil
}

// History returns up to limit messages immediately before the message
// with id before (or the newest ones when before is empty), oldest first.
func (c *Channel) History(sessionID string, limit int, before string) (Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	c.mu.RLock()
	defer c.mu.RUnlock()

	l, ok := c.logs[sessionID]
	if !ok {
		if before != "" {
			return Page{}, ErrUnknownCursor
		}
		return Page{Messages: []Message{}}, nil
	}

	end := len(l.messages)
	if before != "" {
		seq, ok := l.seqByID[before]
		if !ok {
			return Page{}, ErrUnknownCursor
		}

		end = int(int64(seq) - 1 - int64(l.trimmed))
		if end < 0 {
			// older than what is held in memory
			return Page{Messages: []Message{}, HasMore: seq > 1, NextBefore: before}, nil
		}
	}

	start := max(0, end-limit)
	page := Page{
		Messages: append([]Message{}, l.messages[start:end]...),
		HasMore:  start > 0 || l.trimmed > 0,
	}

	if page.HasMore && len(page.Messages) > 0 {
		page.NextBefore = page.Messages[0].ID
	}

	return page, nil
}

// Recent is History without a cursor.
func (c *Channel) Recent(sessionID string, limit int) []Message {
	page, _ := c.History(sessionID, limit, "") //nolint:errcheck // no cursor, cannot fail
	return page.Messages
}

// Load seeds a session's log with persisted messages, oldest first.
// Messages already present are skipped.
func (c *Channel) Load(sessionID string, msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.log(sessionID)
	for _, m := range msgs {
		if _, ok := l.seqByID[m.ID]; ok {
			continue
		}

		if l.seq == 0 && m.Seq > 1 {
			// persisted history before the first loaded message is not in memory
			l.trimmed = m.Seq - 1
		} else {
			m.Seq = l.seq + 1
		}
		l.seq = m.Seq

		l.append(m, c.retention)
	}
}

// Drop forgets a torn down session's log.
func (c *Channel) Drop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.logs, sessionID)
}

// caller holds c.mu for writing
func (c *Channel) log(sessionID string) *sessionLog {
	l, ok := c.logs[sessionID]
	if !ok {
		l = &sessionLog{seqByID: make(map[string]uint64)}
		c.logs[sessionID] = l
	}
	return l
}

func (l *sessionLog) append(m Message, retention int) {
	l.messages = append(l.messages, m)
	l.seqByID[m.ID] = m.Seq

	if over := len(l.messages) - retention; over > 0 {
		l.messages = append([]Message(nil), l.messages[over:]...)
		l.trimmed += uint64(over)
	}
}
