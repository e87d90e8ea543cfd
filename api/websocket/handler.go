package websocket

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/auth"
	"codeberg.org/algopatterns/cowrite/internal/errors"
	"codeberg.org/algopatterns/cowrite/internal/logger"
	ws "codeberg.org/algopatterns/cowrite/internal/websocket"
)

// handles WebSocket connections for real-time collaboration. roomRepo may be
// nil, in which case rooms are created on first join with default settings.
func WebSocketHandler(hub *ws.Hub, tokens *auth.TokenIssuer, roomRepo rooms.Repository, opts Options) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     ws.NewOriginChecker(opts.Environment, opts.AllowedOrigins),
	}

	return func(c *gin.Context) {
		var params ConnectParams
		if err := c.ShouldBindQuery(&params); err != nil {
			errors.BadRequest(c, "invalid parameters", err)
			return
		}

		claims, err := tokens.Validate(params.Token)
		if err != nil {
			errors.Unauthorized(c, "invalid or expired token")
			return
		}

		// use timeout context for DB operations to prevent hanging
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		var room *rooms.Room
		if roomRepo != nil {
			room, err = roomRepo.GetRoom(ctx, params.RoomID)
			if stderrors.Is(err, rooms.ErrRoomNotFound) {
				errors.SessionNotFound(c)
				return
			}
			if err != nil {
				errors.InternalError(c, "failed to load room", err)
				return
			}
		}

		userID := claims.UserID
		displayName := params.DisplayName
		if displayName == "" {
			displayName = claims.DisplayName
		}
		if displayName == "" {
			displayName = userID
		}

		// check connection limits before accepting new connection
		ipAddress := c.ClientIP()
		if canAccept, reason := hub.CanAcceptConnection(userID, ipAddress); !canAccept {
			errors.TooManyRequests(c, reason)
			return
		}

		limit := opts.MaxParticipants
		if room != nil && room.Settings.MaxParticipants > 0 {
			limit = room.Settings.MaxParticipants
		}
		if limit > 0 && !hub.HasSeat(params.RoomID, userID, limit) {
			errors.CapacityExceeded(c)
			return
		}

		clientID := ws.GenerateClientID()
		replicaID := params.ReplicaID
		if replicaID == "" {
			replicaID = clientID
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.ErrorErr(err, "failed to upgrade connection",
				"room_id", params.RoomID,
				"ip", ipAddress,
			)
			return
		}

		// track IP connection only after successful upgrade
		hub.TrackIPConnection(ipAddress)

		client := ws.NewClient(clientID, params.RoomID, userID, displayName, replicaID, ipAddress, opts.Limits, conn, hub)
		if room != nil {
			settings := room.Settings
			client.Settings = &settings
		}
		client.SinceVersion = params.SinceVersion

		hub.Register <- client

		go client.WritePump()
		go client.ReadPump()

		logger.Info("websocket connection established",
			"client_id", clientID,
			"room_id", params.RoomID,
			"replica_id", replicaID,
			"user_id", userID,
			"ip", ipAddress,
		)
	}
}
