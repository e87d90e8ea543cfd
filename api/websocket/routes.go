package websocket

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/auth"
	ws "codeberg.org/algopatterns/cowrite/internal/websocket"
)

func RegisterRoutes(router *gin.RouterGroup, hub *ws.Hub, tokens *auth.TokenIssuer, roomRepo rooms.Repository, opts Options) {
	router.GET("/ws", WebSocketHandler(hub, tokens, roomRepo, opts))
}
