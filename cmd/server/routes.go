package main

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/algopatterns/cowrite/api/rest/health"
	restrooms "codeberg.org/algopatterns/cowrite/api/rest/rooms"
	"codeberg.org/algopatterns/cowrite/api/websocket"
	ws "codeberg.org/algopatterns/cowrite/internal/websocket"
)

// sets up all API routes and middleware
func RegisterRoutes(router *gin.Engine, server *Server) error {
	rateLimit, err := RateLimitMiddleware(server.config.RateLimit.REST)
	if err != nil {
		return err
	}

	router.Use(CORSMiddleware(server.config))

	var db health.Pinger
	if server.db != nil {
		db = server.db
	}
	router.GET("/health", health.Handler(server.registry, server.hub, db))

	v1 := router.Group("/api/v1")

	{
		v1.GET("/ping", health.PingHandler)

		// the websocket applies its own per-connection limits
		websocket.RegisterRoutes(v1, server.hub, server.tokens, server.roomRepo, websocket.Options{
			Environment:    server.config.Environment,
			AllowedOrigins: server.config.AllowedOrigins,
			Limits: ws.Limits{
				EditsPerSecond: server.config.RateLimit.EditsPerSecond,
				EditBurst:      server.config.RateLimit.EditBurst,
				ChatPerMinute:  server.config.RateLimit.ChatPerMinute,
			},
			MaxParticipants: server.config.Session.MaxParticipants,
		})

		rest := v1.Group("", rateLimit)
		restrooms.RegisterRoutes(rest, server.tokens, server.roomRepo, server.service, server.authz, server.authz)
	}

	return nil
}
