package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const Version = "0.1.0"

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RoomCounter reports how many rooms are live.
type RoomCounter interface {
	SessionCount() int
}

// ConnectionCounter reports how many rooms have open connections.
type ConnectionCounter interface {
	GetSessionCount() int
}

// returns the server health status; a nil db means memory-only mode
func Handler(rooms RoomCounter, conns ConnectionCounter, db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := Response{
			Status:         "healthy",
			Service:        "cowrite",
			Version:        Version,
			Rooms:          rooms.SessionCount(),
			ConnectedRooms: conns.GetSessionCount(),
			Database:       "disabled",
		}

		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()

			resp.Database = "ok"
			if err := db.Ping(ctx); err != nil {
				resp.Status = "degraded"
				resp.Database = "unreachable"
				c.JSON(http.StatusServiceUnavailable, resp)
				return
			}
		}

		c.JSON(http.StatusOK, resp)
	}
}

// responds with pong for testing
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, PingResponse{Message: "pong"})
}
