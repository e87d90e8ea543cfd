package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/ot"
	"codeberg.org/algopatterns/cowrite/internal/presence"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// message type constants for websocket communication
const (
	// is sent by a client with a batch of operations
	TypeEditOperations = "edit_operations"

	// is sent to the author once its batch is applied
	TypeEditApplied = "edit_applied"

	// is sent to everyone else with the transformed operations
	TypeFileEdit = "file_edit"

	// is sent both ways when a cursor, selection or viewport changes
	TypePresenceUpdate = "presence_update"

	// is sent both ways for chat
	TypeChatMessage = "chat_message"

	// is sent when a new user joins the session
	TypeUserJoined = "user_joined"

	// is sent when a user leaves the session
	TypeUserLeft = "user_left"

	// is sent by a client that needs to rebuild its view
	TypeRequestRoomState = "request_room_state"

	// is sent on connect and in response to request_room_state
	TypeRoomState = "room_state"

	// is sent by a client holding a divergent copy of the document
	TypeResolveConflict = "resolve_conflict"

	// is sent to the authors involved in a conflict
	TypeConflictResolved = "conflict_resolved"

	// is sent when an error occurs
	TypeError = "error"

	// is sent by clients to keep the connection alive
	TypePing = "ping"

	// is sent by server in response to ping
	TypePong = "pong"

	// is sent by idle clients; no response
	TypeKeepalive = "keepalive"

	// is sent by server before shutdown
	TypeServerShutdown = "server_shutdown"
)

// client connection constants
const (
	// time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512 KB

	// outbound messages queued per client before it is cut off
	sendBuffer = 256

	// room events queued for the hub before it is cut off and resyncs
	eventBuffer = 1024

	// time allowed for a service call made on behalf of one message
	handlerTimeout = 10 * time.Second
)

// hub connection limit constants
const (
	maxConnectionsPerUser = 5
	maxConnectionsPerIP   = 10
)

// errors
var (
	ErrInvalidMessage    = errors.New("invalid message format")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrHubStopped        = errors.New("hub stopped")
)

// represents a websocket message with typed payload
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	ClientID  string          `json:"-"` // Internal only, not sent to clients
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  uint64          `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// a batch of operations against base_version
type EditOperationsPayload struct {
	FileID      string         `json:"file_id"`
	Operations  []ot.Operation `json:"operations"`
	BaseVersion int64          `json:"base_version"`
	ClientSeq   uint64         `json:"client_seq"`
}

// acknowledges the author's batch; operations are as applied
type EditAppliedPayload struct {
	FileID     string         `json:"file_id"`
	NewVersion int64          `json:"new_version"`
	ClientSeq  uint64         `json:"client_seq"`
	Operations []ot.Operation `json:"operations"`
	Duplicate  bool           `json:"duplicate,omitempty"`
}

// carries someone else's transformed operations
type FileEditPayload struct {
	FileID     string         `json:"file_id"`
	Operations []ot.Operation `json:"operations"`
	NewVersion int64          `json:"new_version"`
	UserID     string         `json:"user_id"`
	ReplicaID  string         `json:"replica_id,omitempty"`
	ClientSeq  uint64         `json:"client_seq,omitempty"`
}

// partial presence update; absent fields keep their value
type PresenceUpdatePayload struct {
	UserID         string             `json:"user_id,omitempty"`
	FileID         *string            `json:"file_id,omitempty"`
	CursorPosition *int               `json:"cursor_position,omitempty"`
	Selection      *sessions.Range    `json:"selection,omitempty"`
	Viewport       *presence.Viewport `json:"viewport,omitempty"`
	IsTyping       *bool              `json:"is_typing,omitempty"`
}

// a chat message as sent by a client
type ChatMessagePayload struct {
	Message     string            `json:"message"`
	MessageType string            `json:"message_type,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// contains information about a newly joined user
type UserJoinedPayload struct {
	UserID      string                `json:"user_id"`
	UserInfo    *sessions.Info        `json:"user_info,omitempty"`
	Permissions *sessions.Permissions `json:"permissions,omitempty"`
}

// contains information about a user who left
type UserLeftPayload struct {
	UserID   string         `json:"user_id"`
	UserInfo *sessions.Info `json:"user_info,omitempty"`
}

// asks for history since since_version, or a snapshot when omitted
type RequestRoomStatePayload struct {
	SinceVersion *int64 `json:"since_version,omitempty"`
	ReplicaID    string `json:"replica_id,omitempty"`
}

// a client's full copy of the document, branched at base_version
type ResolveConflictPayload struct {
	FileID      string `json:"file_id"`
	BaseVersion int64  `json:"base_version"`
	Content     string `json:"content"`
}

// tells the authors how a conflict ended
type ConflictResolvedPayload struct {
	FileID     string          `json:"file_id"`
	Record     conflict.Record `json:"record"`
	NewVersion int64           `json:"new_version"`
}

// contains information about server shutdown
type ServerShutdownPayload struct {
	Reason string `json:"reason"`
}

// Limits throttle one connection.
type Limits struct {
	EditsPerSecond float64
	EditBurst      int
	ChatPerMinute  int
}

func DefaultLimits() Limits {
	return Limits{
		EditsPerSecond: 30,
		EditBurst:      60,
		ChatPerMinute:  20,
	}
}

// represents a websocket client connection
type Client struct {
	// unique identifier for this client
	ID string

	// session ID this client is connected to
	SessionID string

	// authenticated user ID
	UserID string

	// display name for this client
	DisplayName string

	// the editor replica behind this connection; acks are addressed to it
	ReplicaID string

	// IP address of the client (for connection tracking)
	IPAddress string

	// room settings applied if this connection creates the live room
	Settings *sessions.Settings

	// version a reconnecting replica already has; the first room state
	// replays history from here when it can
	SinceVersion *int64

	// websocket connection
	conn *websocket.Conn

	// hub reference for message routing
	hub *Hub

	// buffered channel of outbound messages
	send chan []byte

	// mutex for thread-safe operations
	mu sync.RWMutex

	// flag indicating if client is closed
	closed bool

	// per-connection throttles
	edits *rate.Limiter
	chats *rate.Limiter
}

// processes a specific message type
type MessageHandler func(hub *Hub, client *Client, msg *Message) error
