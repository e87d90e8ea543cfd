package main

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/auth"
	"codeberg.org/algopatterns/cowrite/internal/buffer"
	"codeberg.org/algopatterns/cowrite/internal/collab"
	"codeberg.org/algopatterns/cowrite/internal/config"
	"codeberg.org/algopatterns/cowrite/internal/events"
	"codeberg.org/algopatterns/cowrite/internal/presence"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
	ws "codeberg.org/algopatterns/cowrite/internal/websocket"
)

// holds all dependencies and state for the API server
type Server struct {
	db       *pgxpool.Pool // nil in memory mode
	config   *config.Config
	roomRepo rooms.Repository
	authz    *auth.RoleAuthorizer
	tokens   *auth.TokenIssuer
	bus      *events.Bus
	registry *sessions.Registry
	presence *presence.Tracker
	service  *collab.Service
	hub      *ws.Hub
	router   *gin.Engine
	buffer   *buffer.RoomBuffer // nil unless REDIS_URL is set
	flusher  *buffer.Flusher
}
