package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/collab"
	apperrors "codeberg.org/algopatterns/cowrite/internal/errors"
	"codeberg.org/algopatterns/cowrite/internal/logger"
	"codeberg.org/algopatterns/cowrite/internal/ot"
	"codeberg.org/algopatterns/cowrite/internal/websocket"
)

const eventBuffer = 256

// Manager keeps one replica connected to a room. It reconnects with
// exponential backoff, resynchronizes on every connect and flushes queued
// batches one at a time.
type Manager struct {
	opts   Options
	dialer Dialer
	outbox Outbox
	log    *slog.Logger

	// waits between reconnect attempts; replaced in tests
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	state   State
	failed  bool
	replica *Replica

	// last local presence, sent again after every resync
	presence *websocket.PresenceUpdatePayload

	events   chan Event
	kick     chan struct{}
	outgoing chan *websocket.Message
	retry    chan struct{}
}

// NewManager restores any persisted batches for the room. outbox may be nil.
func NewManager(opts Options, dialer Dialer, outbox Outbox, log *slog.Logger) (*Manager, error) {
	opts = opts.withDefaults()
	if outbox == nil {
		outbox = NewMemoryOutbox()
	}

	replica := NewReplica(opts.ReplicaID, opts.UserID)

	state, found, err := outbox.Load(opts.RoomID)
	if err != nil {
		return nil, err
	}
	if found && (opts.ReplicaID == "" || state.ReplicaID == opts.ReplicaID) {
		// the server deduplicates by replica, so restored batches keep it
		opts.ReplicaID = state.ReplicaID
		replica = NewReplica(state.ReplicaID, opts.UserID)
		replica.Restore(state)
	} else if opts.ReplicaID == "" {
		opts.ReplicaID = uuid.NewString()
		replica = NewReplica(opts.ReplicaID, opts.UserID)
	}

	return &Manager{
		opts:     opts,
		dialer:   dialer,
		outbox:   outbox,
		log:      logger.Or(log).With("room_id", opts.RoomID, "replica_id", opts.ReplicaID),
		after:    time.After,
		replica:  replica,
		events:   make(chan Event, eventBuffer),
		kick:     make(chan struct{}, 1),
		outgoing: make(chan *websocket.Message, 64),
		retry:    make(chan struct{}, 1),
	}, nil
}

// Events delivers notifications for the UI. Slow readers miss events and
// should read Content for the current view.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Content returns the local view and the last confirmed version.
func (m *Manager) Content() (string, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replica.Content(), m.replica.Version()
}

// Pending counts local batches the server has not acknowledged.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replica.Pending()
}

// Edit applies ops locally and queues them. Works while disconnected; the
// batch is sent after the next resync.
func (m *Manager) Edit(ops ...ot.Operation) error {
	m.mu.Lock()
	err := m.replica.Edit(ops...)
	if err == nil {
		m.persistLocked()
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}

	select {
	case m.kick <- struct{}{}:
	default:
	}

	return nil
}

func (m *Manager) SendChat(body string) error {
	return m.enqueue(websocket.TypeChatMessage, websocket.ChatMessagePayload{
		Message:     body,
		MessageType: chat.TypeText,
	})
}

// UpdatePresence shares the local cursor. The latest update is kept and
// shared again after a reconnect, so peers see it without a new keystroke.
func (m *Manager) UpdatePresence(update websocket.PresenceUpdatePayload) error {
	m.mu.Lock()
	m.presence = &update
	m.mu.Unlock()

	return m.enqueue(websocket.TypePresenceUpdate, update)
}

// Retry restarts reconnection after a permanent failure.
func (m *Manager) Retry() {
	m.mu.Lock()
	failed := m.failed
	m.mu.Unlock()

	if !failed {
		return
	}

	select {
	case m.retry <- struct{}{}:
	default:
	}
}

// Run connects and keeps reconnecting until ctx is done. The attempt count
// starts over only once a connection delivers room state, so a server that
// accepts the socket and then drops it still exhausts the schedule.
func (m *Manager) Run(ctx context.Context) error {
	schedule := m.newBackOff()

	for {
		m.setState(StateConnecting)

		m.mu.Lock()
		since := m.replica.Version()
		m.mu.Unlock()

		conn, err := m.dialer.Dial(ctx, m.opts, since)
		switch {
		case err == nil:
			err = m.session(ctx, conn, schedule.Reset)
		case !errors.Is(err, ErrRejected):
			err = fmt.Errorf("%w: %v", ErrTransportLost, err)
		}

		m.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, ErrRejected) {
			m.log.Error("server refused the connection", "error", err)

			if err := m.waitForRetry(ctx, fmt.Errorf("%w: %w", ErrPermanentFailure, err)); err != nil {
				return err
			}
			schedule.Reset()
			continue
		}

		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			m.log.Error("reconnect attempts exhausted", "attempts", m.opts.MaxAttempts, "error", err)

			if err := m.waitForRetry(ctx, ErrPermanentFailure); err != nil {
				return err
			}
			schedule.Reset()
			continue
		}

		m.log.Warn("connection lost, reconnecting", "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.after(delay):
		}
	}
}

// waitForRetry reports a permanent failure and blocks until Retry.
func (m *Manager) waitForRetry(ctx context.Context, cause error) error {
	m.mu.Lock()
	m.failed = true
	m.mu.Unlock()
	m.emit(Event{Kind: EventFailed, Err: cause})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.retry:
	}

	m.mu.Lock()
	m.failed = false
	m.mu.Unlock()

	return nil
}

// base * 2^(attempt-1), no jitter, MaxAttempts tries
func (m *Manager) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = m.opts.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = m.opts.BaseDelay << uint(m.opts.MaxAttempts)
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithMaxRetries(exp, uint64(m.opts.MaxAttempts))
}

// session runs one connection until it fails. synced is called after the
// first room state is applied.
func (m *Manager) session(ctx context.Context, conn Conn, synced func()) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	inbound := make(chan *websocket.Message, 64)
	readErr := make(chan error, 1)

	go func() {
		for {
			var msg websocket.Message
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}

			select {
			case inbound <- &msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	m.mu.Lock()
	m.replica.Requeue()
	m.mu.Unlock()

	m.setState(StateConnected)

	if err := m.requestRoomState(conn); err != nil {
		return err
	}

	heartbeat := time.NewTicker(m.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	var pongDeadline <-chan time.Time

	// joined: the server admitted this connection; ready: a room state
	// answered the latest request, so queued batches may go out
	joined, ready := false, false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("%w: %v", ErrTransportLost, err)

		case <-heartbeat.C:
			if pongDeadline != nil {
				continue
			}
			if err := m.write(conn, websocket.TypePing, nil); err != nil {
				return err
			}
			pongDeadline = time.After(m.opts.HeartbeatTimeout)

		case <-pongDeadline:
			return fmt.Errorf("%w: no pong within %s", ErrTransportLost, m.opts.HeartbeatTimeout)

		case msg := <-inbound:
			if msg.Type == websocket.TypePong {
				pongDeadline = nil
				continue
			}

			resync, err := m.handle(msg, joined)
			if errors.Is(err, ErrTransportLost) || errors.Is(err, ErrRejected) {
				return err
			}
			if err != nil {
				m.log.Warn("dropping unreadable message", "type", msg.Type, "error", err)
			}

			if msg.Type == websocket.TypeRoomState && err == nil {
				if !joined {
					joined = true
					synced()
				}
				ready = true

				if err := m.sharePresence(conn); err != nil {
					return err
				}
			}

			// one outstanding request is enough; its answer is fresh
			if resync && ready {
				ready = false
				if err := m.requestRoomState(conn); err != nil {
					return err
				}
			}

			if ready {
				if err := m.flush(conn); err != nil {
					return err
				}
			}

		case <-m.kick:
			if ready {
				if err := m.flush(conn); err != nil {
					return err
				}
			}

		case msg := <-m.outgoing:
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("%w: %v", ErrTransportLost, err)
			}
		}
	}
}

// handle applies one server message. It reports whether the replica needs
// a fresh room state. Before the connection is joined an error is the
// server's answer to the join.
func (m *Manager) handle(msg *websocket.Message, joined bool) (bool, error) {
	switch msg.Type {
	case websocket.TypeRoomState:
		var state collab.RoomState
		if err := msg.UnmarshalPayload(&state); err != nil {
			return false, err
		}

		m.mu.Lock()
		err := m.replica.Resync(state)
		m.persistLocked()
		content, version := m.replica.Content(), m.replica.Version()
		m.mu.Unlock()

		if errors.Is(err, ErrVersionGap) {
			m.log.Warn("room state behind local replica", "error", err)
			return true, nil
		}
		if err != nil {
			return false, err
		}

		m.emit(Event{Kind: EventRoomState, Room: &state, Content: content, Version: version})

	case websocket.TypeEditApplied:
		var p websocket.EditAppliedPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return false, err
		}

		m.mu.Lock()
		err := m.replica.Ack(p.ClientSeq, p.NewVersion, p.Operations, p.Duplicate)
		m.persistLocked()
		content, version := m.replica.Content(), m.replica.Version()
		m.mu.Unlock()

		if err != nil {
			m.log.Debug("acknowledgement out of step", "client_seq", p.ClientSeq, "error", err)
			return true, nil
		}

		m.emit(Event{Kind: EventDocument, Content: content, Version: version})

	case websocket.TypeFileEdit:
		var p websocket.FileEditPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return false, err
		}

		m.mu.Lock()
		err := m.replica.Remote(p.NewVersion, p.Operations)
		m.persistLocked()
		content, version := m.replica.Content(), m.replica.Version()
		m.mu.Unlock()

		if err != nil {
			m.log.Debug("remote edit out of step", "version", p.NewVersion, "error", err)
			return true, nil
		}

		m.emit(Event{Kind: EventDocument, Content: content, Version: version})

	case websocket.TypeChatMessage:
		var p chat.Message
		if err := msg.UnmarshalPayload(&p); err != nil {
			return false, err
		}
		m.emit(Event{Kind: EventChat, Chat: &p})

	case websocket.TypePresenceUpdate:
		var p websocket.PresenceUpdatePayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return false, err
		}
		m.emit(Event{Kind: EventPresence, Presence: &p})

	case websocket.TypeUserJoined, websocket.TypeUserLeft:
		var p websocket.UserJoinedPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return false, err
		}

		kind := EventUserJoined
		if msg.Type == websocket.TypeUserLeft {
			kind = EventUserLeft
		}
		m.emit(Event{Kind: kind, User: &p})

	case websocket.TypeConflictResolved:
		var p websocket.ConflictResolvedPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return false, err
		}

		m.emit(Event{Kind: EventConflict, Conflict: &p.Record})

		if p.Record.DiscardPending {
			// the server applied nothing; the batch waits for a fresh
			// room state and is reapplied on top of it
			m.mu.Lock()
			m.replica.Requeue()
			m.persistLocked()
			m.mu.Unlock()
			return true, nil
		}

	case websocket.TypeError:
		var p apperrors.ErrorResponse
		if err := msg.UnmarshalPayload(&p); err != nil {
			return false, err
		}

		m.emit(Event{Kind: EventError, Err: fmt.Errorf("%s: %s", p.Error, p.Message)})

		if !joined && apperrors.Refused(p.Error) {
			return false, fmt.Errorf("%w: %s: %s", ErrRejected, p.Error, p.Message)
		}

		if p.Error == apperrors.CodeStaleVersion {
			return true, nil
		}

	case websocket.TypeServerShutdown:
		return false, fmt.Errorf("%w: server shutting down", ErrTransportLost)
	}

	return false, nil
}

// flush sends the next queued batch unless one is already in flight.
func (m *Manager) flush(conn Conn) error {
	m.mu.Lock()
	batch, ok := m.replica.Next()
	m.mu.Unlock()

	if !ok {
		return nil
	}

	return m.write(conn, websocket.TypeEditOperations, websocket.EditOperationsPayload{
		FileID:      m.opts.RoomID,
		Operations:  batch.Operations,
		BaseVersion: batch.BaseVersion,
		ClientSeq:   batch.ClientSeq,
	})
}

// sharePresence repeats the last local presence for a fresh room state.
func (m *Manager) sharePresence(conn Conn) error {
	m.mu.Lock()
	p := m.presence
	m.mu.Unlock()

	if p == nil {
		return nil
	}

	return m.write(conn, websocket.TypePresenceUpdate, *p)
}

func (m *Manager) requestRoomState(conn Conn) error {
	m.mu.Lock()
	since := m.replica.Version()
	m.mu.Unlock()

	payload := websocket.RequestRoomStatePayload{ReplicaID: m.opts.ReplicaID}
	if since > 0 {
		payload.SinceVersion = &since
	}

	return m.write(conn, websocket.TypeRequestRoomState, payload)
}

func (m *Manager) enqueue(msgType string, payload any) error {
	if m.State() != StateConnected {
		return ErrNotConnected
	}

	msg, err := websocket.NewMessage(msgType, m.opts.RoomID, m.opts.UserID, payload)
	if err != nil {
		return err
	}

	select {
	case m.outgoing <- msg:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", ErrNotConnected)
	}
}

func (m *Manager) write(conn Conn, msgType string, payload any) error {
	msg, err := websocket.NewMessage(msgType, m.opts.RoomID, m.opts.UserID, payload)
	if err != nil {
		return err
	}

	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportLost, err)
	}

	return nil
}

func (m *Manager) persistLocked() {
	if err := m.outbox.Store(m.opts.RoomID, m.replica.State()); err != nil {
		m.log.Warn("failed to persist outbox", "error", err)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()

	if changed {
		m.log.Debug("connection state", "state", s.String())
		m.emit(Event{Kind: EventStateChanged, State: s})
	}
}

func (m *Manager) emit(e Event) {
	select {
	case m.events <- e:
	default:
	}
}
