package client

import (
	"errors"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/collab"
	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/ot"
	"codeberg.org/algopatterns/cowrite/internal/websocket"
)

// State is where the connection manager is in its lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// reconnect and heartbeat defaults
const (
	DefaultBaseDelay         = time.Second
	DefaultMaxAttempts       = 5
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second
)

var (
	// the connection dropped, failed to open or stopped answering heartbeats
	ErrTransportLost = errors.New("transport lost")

	// every reconnect attempt failed; Retry starts over
	ErrPermanentFailure = errors.New("reconnect attempts exhausted")

	ErrNotConnected = errors.New("not connected")

	// the server turned the connection away; reconnecting gives the same answer
	ErrRejected = errors.New("connection rejected")

	// a remote edit or acknowledgement skipped a version; the replica needs room state
	ErrVersionGap = errors.New("version gap, resync required")

	// an acknowledgement named a batch that is not in flight
	ErrUnknownBatch = errors.New("acknowledgement for unknown batch")
)

// Options configure a Manager. Zero values take the defaults above.
type Options struct {
	URL         string // websocket endpoint, e.g. ws://localhost:8080/api/v1/ws
	RoomID      string
	Token       string
	UserID      string
	ReplicaID   string
	DisplayName string

	BaseDelay         time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	return o
}

// Batch is one group of local operations, sent and acknowledged as a unit.
type Batch struct {
	ClientSeq   uint64         `cbor:"1,keyasint"`
	BaseVersion int64          `cbor:"2,keyasint"`
	Operations  []ot.Operation `cbor:"3,keyasint"`
}

// OutboxState is what a replica persists between runs.
type OutboxState struct {
	ReplicaID string  `cbor:"1,keyasint"`
	Version   int64   `cbor:"2,keyasint"`
	Content   string  `cbor:"3,keyasint"`
	LastSeq   uint64  `cbor:"4,keyasint"`
	Batches   []Batch `cbor:"5,keyasint"`
}

// EventKind says what an Event carries.
type EventKind int

const (
	EventStateChanged EventKind = iota + 1
	EventDocument
	EventRoomState
	EventChat
	EventPresence
	EventUserJoined
	EventUserLeft
	EventConflict
	EventError
	EventFailed
)

// Event is a notification for the application driving the manager.
type Event struct {
	Kind    EventKind
	State   State
	Content string
	Version int64

	Room     *collab.RoomState
	Chat     *chat.Message
	Presence *websocket.PresenceUpdatePayload
	User     *websocket.UserJoinedPayload
	Conflict *conflict.Record
	Err      error
}
