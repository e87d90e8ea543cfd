package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/collab"
	"codeberg.org/algopatterns/cowrite/internal/document"
	apperrors "codeberg.org/algopatterns/cowrite/internal/errors"
	"codeberg.org/algopatterns/cowrite/internal/events"
	"codeberg.org/algopatterns/cowrite/internal/logger"
	"codeberg.org/algopatterns/cowrite/internal/presence"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
)

// Service is the collaboration layer behind the hub.
type Service interface {
	Join(ctx context.Context, req sessions.JoinRequest) (*collab.Joined, error)
	Leave(sessionID, userID string)
	RoomState(ctx context.Context, sessionID, userID string, since *int64, replicaID string) (collab.RoomState, error)
	SubmitOperations(ctx context.Context, sessionID, userID string, sub document.Submission) (*collab.SubmitResult, error)
	UpdatePresence(sessionID, userID string, f presence.Fields) (presence.Entry, error)
	SendChat(ctx context.Context, sessionID, userID string, req collab.ChatRequest) (chat.Message, error)
	ResolveConflict(ctx context.Context, sessionID, userID string, baseVersion int64, content string) (*document.ResolveResult, error)
}

// Hub owns every connection. Its loop is the only place outbound room
// traffic is produced, so each client sees edits in version order.
type Hub struct {
	// registered clients by session ID and client ID
	sessions map[string]map[string]*Client

	// clients whose join is still running, by client ID
	joining map[string]*Client

	// join and leave calls, serialized per room
	work *roomWork

	// register requests from clients
	Register chan *Client

	// unregister requests from clients
	Unregister chan *Client

	// work that must be ordered with event delivery
	tasks chan func()

	// mutex for thread-safe access to sessions
	mu sync.RWMutex

	// message handlers for different message types
	handlers map[string]MessageHandler

	running  atomic.Bool
	shutdown chan struct{}
	stopOnce sync.Once

	// connection tracking: user ID -> count of connections
	userConnections map[string]int

	// connections per user per session, joining ones included; membership
	// follows the first and last
	roomMembers map[string]map[string]int

	// connection tracking: IP address -> count of connections
	ipConnections map[string]int

	// sequence numbers per session for message ordering
	sessionSequences map[string]uint64

	svc Service
	bus *events.Bus
	sub *events.Subscription

	// called after a user's last connection to a room is gone
	onClientDisconnect func(client *Client)
}

func NewHub(svc Service, bus *events.Bus) *Hub {
	return &Hub{
		sessions:         make(map[string]map[string]*Client),
		joining:          make(map[string]*Client),
		work:             newRoomWork(),
		Register:         make(chan *Client),
		Unregister:       make(chan *Client),
		tasks:            make(chan func(), 64),
		handlers:         make(map[string]MessageHandler),
		shutdown:         make(chan struct{}),
		userConnections:  make(map[string]int),
		roomMembers:      make(map[string]map[string]int),
		ipConnections:    make(map[string]int),
		sessionSequences: make(map[string]uint64),
		svc:              svc,
		bus:              bus,
	}
}

// registers a handler for a specific message type
func (h *Hub) RegisterHandler(messageType string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[messageType] = handler
}

// sets callback to be called when a user's last connection to a room closes
func (h *Hub) OnClientDisconnect(callback func(client *Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClientDisconnect = callback
}

// starts the hub's main loop
func (h *Hub) Run() {
	h.running.Store(true)
	defer h.running.Store(false)

	incoming := h.subscribe()

	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case task := <-h.tasks:
			incoming = h.drainEvents(incoming)
			task()

		case e, ok := <-incoming:
			if !ok {
				incoming = h.resubscribe()
				continue
			}
			h.deliver(e)

		case <-h.shutdown:
			h.closeAllConnections()
			return
		}
	}
}

// Do runs task on the hub loop, after every event already delivered.
func (h *Hub) Do(task func()) error {
	select {
	case <-h.shutdown:
		return ErrHubStopped
	default:
	}

	select {
	case h.tasks <- task:
		return nil
	case <-h.shutdown:
		return ErrHubStopped
	}
}

// delivers whatever the bus has already queued
func (h *Hub) drainEvents(incoming <-chan events.Event) <-chan events.Event {
	for {
		select {
		case e, ok := <-incoming:
			if !ok {
				return h.resubscribe()
			}
			h.deliver(e)
		default:
			return incoming
		}
	}
}

func (h *Hub) subscribe() <-chan events.Event {
	if h.bus == nil {
		return nil
	}

	sub, err := h.bus.Subscribe(eventBuffer)
	if err != nil {
		logger.ErrorErr(err, "failed to subscribe to room events")
		return nil
	}

	h.sub = sub
	return sub.C()
}

// a subscription cut off for falling behind loses events, so every client
// is told to resync
func (h *Hub) resubscribe() <-chan events.Event {
	if h.sub != nil {
		logger.Warn("room event subscription closed", "error", h.sub.Err())
	}

	incoming := h.subscribe()
	if incoming == nil {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sessionClients := range h.sessions {
		for _, client := range sessionClients {
			client.SendError(apperrors.CodeStaleVersion, "missed updates, resync required", "")
		}
	}

	return incoming
}

// registerClient reserves the connection and queues the join; persistence
// I/O for one room must not hold up the loop
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.joining[client.ID] = client

	if h.roomMembers[client.SessionID] == nil {
		h.roomMembers[client.SessionID] = make(map[string]int)
	}
	h.roomMembers[client.SessionID][client.UserID]++
	h.userConnections[client.UserID]++
	h.mu.Unlock()

	h.work.run(client.SessionID, func() { h.join(client) })
}

// runs on the room's work queue
func (h *Hub) join(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	_, err := h.svc.Join(ctx, sessions.JoinRequest{
		SessionID: client.SessionID,
		UserID:    client.UserID,
		Info:      sessions.Info{DisplayName: client.DisplayName},
		Settings:  client.Settings,
	})

	if doErr := h.Do(func() { h.admit(client, err) }); doErr != nil {
		client.Close()
	}
}

// admit finishes a join on the loop, so the room state is ordered with
// event delivery
func (h *Hub) admit(client *Client, joinErr error) {
	h.mu.Lock()
	if _, pending := h.joining[client.ID]; !pending {
		// disconnected while joining; unregisterClient released it
		h.mu.Unlock()
		return
	}
	delete(h.joining, client.ID)

	if joinErr != nil {
		last := h.releaseLocked(client)
		h.mu.Unlock()

		resp := apperrors.ToResponse(joinErr)
		logger.Warn("join rejected",
			"client_id", client.ID,
			"session_id", client.SessionID,
			"user_id", client.UserID,
			"error", joinErr,
		)
		client.SendError(resp.Error, resp.Message, resp.Details)
		client.Close()

		if last {
			h.work.run(client.SessionID, func() { h.leave(client) })
		}
		return
	}

	if h.sessions[client.SessionID] == nil {
		h.sessions[client.SessionID] = make(map[string]*Client)
	}
	h.sessions[client.SessionID][client.ID] = client
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	// a reconnecting replica gets the history it missed when retained
	state, err := h.svc.RoomState(ctx, client.SessionID, client.UserID, client.SinceVersion, client.ReplicaID)
	if err != nil {
		logger.ErrorErr(err, "failed to build room state",
			"client_id", client.ID,
			"session_id", client.SessionID,
		)
		client.SendError(apperrors.CodeServerError, "failed to load room state", "")
		return
	}

	logger.Info("client registered",
		"client_id", client.ID,
		"session_id", client.SessionID,
		"user_id", client.UserID,
		"replica_id", client.ReplicaID,
		"version", state.Document.Version,
	)

	msg, err := NewMessage(TypeRoomState, client.SessionID, client.UserID, state)
	if err == nil {
		if sendErr := client.Send(msg); sendErr != nil {
			logger.ErrorErr(sendErr, "failed to send room state",
				"client_id", client.ID,
				"session_id", client.SessionID,
			)
		}
	}
}

// removes a client from the hub; the user leaves the room with its last connection
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()

	if _, pending := h.joining[client.ID]; pending {
		delete(h.joining, client.ID)
	} else {
		sessionClients, exists := h.sessions[client.SessionID]
		if !exists {
			h.mu.Unlock()
			return
		}

		if _, exists := sessionClients[client.ID]; !exists {
			h.mu.Unlock()
			return
		}

		delete(sessionClients, client.ID)

		if len(sessionClients) == 0 {
			delete(h.sessions, client.SessionID)
			delete(h.sessionSequences, client.SessionID)

			logger.Info("session has no more clients, removed",
				"session_id", client.SessionID,
			)
		}
	}

	client.Close()
	last := h.releaseLocked(client)

	h.mu.Unlock()

	logger.Info("client unregistered",
		"client_id", client.ID,
		"session_id", client.SessionID,
	)

	if last {
		h.work.run(client.SessionID, func() { h.leave(client) })
	}
}

// runs on the room's work queue; may checkpoint the document
func (h *Hub) leave(client *Client) {
	h.svc.Leave(client.SessionID, client.UserID)

	h.mu.RLock()
	callback := h.onClientDisconnect
	h.mu.RUnlock()

	if callback != nil {
		callback(client)
	}
}

// drops the client's connection counts and reports whether it was the
// user's last connection to the room (caller holds h.mu)
func (h *Hub) releaseLocked(client *Client) bool {
	h.userConnections[client.UserID]--
	if h.userConnections[client.UserID] <= 0 {
		delete(h.userConnections, client.UserID)
	}

	if client.IPAddress != "" {
		h.ipConnections[client.IPAddress]--

		if h.ipConnections[client.IPAddress] <= 0 {
			delete(h.ipConnections, client.IPAddress)
		}
	}

	members := h.roomMembers[client.SessionID]
	members[client.UserID]--
	last := members[client.UserID] <= 0
	if last {
		delete(members, client.UserID)
	}
	if len(members) == 0 {
		delete(h.roomMembers, client.SessionID)
	}

	return last
}

// runs the handler for an inbound message on the client's read goroutine
func (h *Hub) handleMessage(client *Client, msg *Message) {
	h.mu.RLock()
	handler, exists := h.handlers[msg.Type]
	h.mu.RUnlock()

	if !exists {
		logger.Warn("unhandled message type received",
			"message_type", msg.Type,
			"client_id", client.ID,
			"session_id", msg.SessionID,
		)

		client.SendError(apperrors.CodeBadRequest, "unsupported message type", "message type not recognized")
		return
	}

	if err := handler(h, client, msg); err != nil {
		h.reportError(client, msg, err)
	}
}

// errors go to the originating client only
func (h *Hub) reportError(client *Client, msg *Message, err error) {
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		client.SendError(apperrors.CodeRateLimited, "too many messages, slow down", "")
		return
	case errors.Is(err, ErrInvalidMessage):
		client.SendError(apperrors.CodeBadRequest, "invalid message", err.Error())
		return
	}

	resp := apperrors.ToResponse(err)

	if resp.Error == apperrors.CodeServerError {
		logger.ErrorErr(err, "handler error",
			"message_type", msg.Type,
			"client_id", client.ID,
			"session_id", msg.SessionID,
		)
	} else {
		logger.Debug("message rejected",
			"message_type", msg.Type,
			"client_id", client.ID,
			"session_id", msg.SessionID,
			"code", resp.Error,
		)
	}

	client.SendError(resp.Error, resp.Message, resp.Details)
}

// turns a bus event into outbound messages
func (h *Hub) deliver(e events.Event) {
	switch e.Kind {
	case events.KindUserJoined:
		p, ok := e.Payload.(sessions.Participant)
		if !ok {
			return
		}
		h.broadcastEvent(e, TypeUserJoined, UserJoinedPayload{
			UserID:      p.UserID,
			UserInfo:    &p.Info,
			Permissions: &p.Permissions,
		}, nil)

	case events.KindUserLeft:
		p, ok := e.Payload.(sessions.Participant)
		if !ok {
			return
		}
		h.broadcastEvent(e, TypeUserLeft, UserLeftPayload{UserID: p.UserID, UserInfo: &p.Info}, nil)

	case events.KindOperationApplied:
		edit, ok := e.Payload.(collab.AppliedEdit)
		if ok {
			h.deliverEdit(e.SessionID, edit)
		}

	case events.KindPresenceUpdated:
		entry, ok := e.Payload.(presence.Entry)
		if !ok {
			return
		}
		h.broadcastEvent(e, TypePresenceUpdate, PresenceUpdatePayload{
			UserID:         entry.UserID,
			FileID:         &entry.FileID,
			CursorPosition: &entry.Cursor,
			Selection:      entry.Selection,
			Viewport:       entry.Viewport,
			IsTyping:       &entry.IsTyping,
		}, nil)

	case events.KindChatMessage:
		if msg, ok := e.Payload.(chat.Message); ok {
			h.broadcastEvent(e, TypeChatMessage, msg, nil)
		}

	case events.KindConflictResolved:
		notice, ok := e.Payload.(collab.ConflictNotice)
		if !ok {
			return
		}

		authors := make(map[string]bool, len(notice.Record.Authors))
		for _, a := range notice.Record.Authors {
			authors[a] = true
		}

		h.broadcastEvent(e, TypeConflictResolved, ConflictResolvedPayload{
			FileID:     notice.FileID,
			Record:     notice.Record,
			NewVersion: notice.Record.Version,
		}, func(c *Client) bool { return authors[c.UserID] })

	case events.KindSessionClosed:
		logger.Debug("room closed", "session_id", e.SessionID)
	}
}

// the author's replica gets edit_applied; every other connection gets file_edit
func (h *Hub) deliverEdit(sessionID string, edit collab.AppliedEdit) {
	entry := edit.Entry

	ack, err := NewMessage(TypeEditApplied, sessionID, entry.UserID, EditAppliedPayload{
		FileID:     edit.FileID,
		NewVersion: entry.Version,
		ClientSeq:  entry.ClientSeq,
		Operations: entry.Operations,
	})
	if err != nil {
		logger.ErrorErr(err, "failed to create edit_applied message", "session_id", sessionID)
		return
	}

	broadcast, err := NewMessage(TypeFileEdit, sessionID, entry.UserID, FileEditPayload{
		FileID:     edit.FileID,
		Operations: entry.Operations,
		NewVersion: entry.Version,
		UserID:     entry.UserID,
		ReplicaID:  entry.ReplicaID,
		ClientSeq:  entry.ClientSeq,
	})
	if err != nil {
		logger.ErrorErr(err, "failed to create file_edit message", "session_id", sessionID)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessionSequences[sessionID]++
	ack.Sequence = h.sessionSequences[sessionID]
	broadcast.Sequence = ack.Sequence

	for clientID, client := range h.sessions[sessionID] {
		msg := broadcast
		if entry.ReplicaID != "" && client.ReplicaID == entry.ReplicaID {
			msg = ack
		}

		if err := client.Send(msg); err != nil {
			logger.ErrorErr(err, "failed to send message to client",
				"client_id", clientID,
				"session_id", sessionID,
			)
		}
	}
}

func (h *Hub) broadcastEvent(e events.Event, msgType string, payload any, include func(*Client) bool) {
	msg, err := NewMessage(msgType, e.SessionID, e.UserID, payload)
	if err != nil {
		logger.ErrorErr(err, "failed to create message", "message_type", msgType, "session_id", e.SessionID)
		return
	}
	msg.Timestamp = e.Timestamp

	h.mu.Lock()
	defer h.mu.Unlock()

	h.broadcastToSession(e.SessionID, msg, func(c *Client) bool {
		if e.Exclude != "" && c.UserID == e.Exclude {
			return false
		}
		return include == nil || include(c)
	})
}

// the internal broadcast function (must be called with lock held)
func (h *Hub) broadcastToSession(sessionID string, msg *Message, include func(*Client) bool) {
	sessionClients, exists := h.sessions[sessionID]
	if !exists {
		return
	}

	// assign sequence number to message
	h.sessionSequences[sessionID]++
	msg.Sequence = h.sessionSequences[sessionID]

	for clientID, client := range sessionClients {
		if !include(client) {
			continue
		}

		if err := client.Send(msg); err != nil {
			logger.ErrorErr(err, "failed to send message to client",
				"client_id", clientID,
				"session_id", sessionID,
			)
		}
	}
}

// returns the number of rooms with at least one connection
func (h *Hub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown stops the loop; clients are told and disconnected.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.shutdown)
	})
}

func (h *Hub) closeAllConnections() {
	h.mu.Lock()

	logger.Info("notifying clients of server shutdown")

	for sessionID, sessionClients := range h.sessions {
		shutdownMsg, err := NewMessage(TypeServerShutdown, sessionID, "", ServerShutdownPayload{
			Reason: "server is shutting down for maintenance",
		})
		if err != nil {
			logger.ErrorErr(err, "failed to create shutdown message")
			continue
		}

		for _, client := range sessionClients {
			if err := client.Send(shutdownMsg); err != nil {
				logger.ErrorErr(err, "failed to send shutdown notification",
					"client_id", client.ID,
					"session_id", sessionID,
				)
			}
		}
	}

	h.mu.Unlock()

	// give clients time to receive the shutdown message
	time.Sleep(500 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()

	logger.Info("closing all websocket connections")

	for _, sessionClients := range h.sessions {
		for _, client := range sessionClients {
			client.Close()
		}
	}

	for _, client := range h.joining {
		client.Close()
	}

	if h.sub != nil {
		h.sub.Close()
	}

	h.sessions = make(map[string]map[string]*Client)
	h.joining = make(map[string]*Client)
	h.userConnections = make(map[string]int)
	h.roomMembers = make(map[string]map[string]int)
	h.ipConnections = make(map[string]int)
	h.sessionSequences = make(map[string]uint64)
}

// checks if a new connection should be allowed based on limits
func (h *Hub) CanAcceptConnection(userID, ipAddress string) (bool, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.userConnections[userID] >= maxConnectionsPerUser {
		return false, "Maximum connections per user exceeded"
	}

	if h.ipConnections[ipAddress] >= maxConnectionsPerIP {
		return false, "Maximum connections per IP address exceeded"
	}

	return true, ""
}

// reports whether userID can take part in the room without going over limit.
// Reserved joins count; a user already connected always has a seat.
func (h *Hub) HasSeat(sessionID, userID string, limit int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.roomMembers[sessionID]
	if members[userID] > 0 {
		return true
	}
	return len(members) < limit
}

// increments the connection count for an IP address
func (h *Hub) TrackIPConnection(ipAddress string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ipConnections[ipAddress]++
}

// decrements the connection count for an IP address
func (h *Hub) UntrackIPConnection(ipAddress string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ipConnections[ipAddress]--

	if h.ipConnections[ipAddress] <= 0 {
		delete(h.ipConnections, ipAddress)
	}
}

// Wait blocks until queued room joins and leaves have finished. Call it
// after Shutdown so final checkpoints complete.
func (h *Hub) Wait() {
	h.work.wait()
}
