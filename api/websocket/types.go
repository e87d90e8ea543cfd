package websocket

import ws "codeberg.org/algopatterns/cowrite/internal/websocket"

type ConnectParams struct {
	RoomID       string `form:"room_id" binding:"required"`
	Token        string `form:"token" binding:"required"`                // jwt token
	ReplicaID    string `form:"replica_id" binding:"max=64"`             // editor replica; defaults to the connection id
	DisplayName  string `form:"display_name" binding:"max=100"`          // overrides the name in the token
	SinceVersion *int64 `form:"since_version" binding:"omitempty,min=0"` // last version a reconnecting replica saw
}

// Options configure the upgrade endpoint.
type Options struct {
	Environment    string
	AllowedOrigins []string
	Limits         ws.Limits

	// MaxParticipants caps rooms without their own setting; zero disables
	// the check before upgrade.
	MaxParticipants int
}
