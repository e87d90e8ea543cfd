package rooms

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/auth"
)

func RegisterRoutes(router *gin.RouterGroup, tokens *auth.TokenIssuer, roomRepo rooms.Repository, live LiveRooms, authz auth.Authorizer, roles RoleCache) {
	authed := router.Group("", auth.AuthMiddleware(tokens))

	authed.POST("/rooms", CreateRoomHandler(roomRepo))
	authed.GET("/rooms", ListRoomsHandler(roomRepo))
	authed.GET("/rooms/:id", GetRoomHandler(roomRepo, live))
	authed.GET("/rooms/:id/messages", GetMessagesHandler(roomRepo, live))
	authed.GET("/rooms/:id/document", GetDocumentHandler(roomRepo, live))
	authed.PUT("/rooms/:id/members/:user_id", SetMemberRoleHandler(roomRepo, authz, roles))
}
