package rooms

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"codeberg.org/algopatterns/cowrite/api/rest/pagination"
	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/auth"
	"codeberg.org/algopatterns/cowrite/internal/chat"
	apperrors "codeberg.org/algopatterns/cowrite/internal/errors"
	"codeberg.org/algopatterns/cowrite/internal/logger"
)

// creates a room; the caller becomes its owner
func CreateRoomHandler(roomRepo rooms.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			apperrors.Unauthorized(c, "")
			return
		}

		var req rooms.CreateRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperrors.ValidationError(c, err)
			return
		}

		if req.Settings != nil && req.Settings.MaxParticipants <= 0 {
			apperrors.BadRequest(c, "max_participants must be positive", nil)
			return
		}

		req.CreatedBy = userID

		room, err := roomRepo.CreateRoom(c.Request.Context(), &req)
		if err != nil {
			apperrors.InternalError(c, "failed to create room", err)
			return
		}

		logger.Info("room created",
			"room_id", room.ID,
			"project_id", room.ProjectID,
			"user_id", userID,
		)

		c.JSON(http.StatusCreated, room)
	}
}

// lists a project's rooms
func ListRoomsHandler(roomRepo rooms.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Query("project_id")
		if projectID == "" {
			apperrors.BadRequest(c, "project_id is required", nil)
			return
		}

		params := pagination.FromQuery(c, defaultRoomsLimit, maxRoomsLimit)

		list, total, err := roomRepo.ListRooms(c.Request.Context(), projectID, params.Limit, params.Offset)
		if err != nil {
			apperrors.InternalError(c, "failed to list rooms", err)
			return
		}

		c.JSON(http.StatusOK, ListRoomsResponse{
			Rooms:      list,
			Pagination: pagination.NewMeta(params, total),
		})
	}
}

// returns a room and its live participants; members only
func GetRoomHandler(roomRepo rooms.Repository, live LiveRooms) gin.HandlerFunc {
	return func(c *gin.Context) {
		room, ok := memberRoom(c, roomRepo)
		if !ok {
			return
		}

		participants := live.Participants(room.ID)

		c.JSON(http.StatusOK, RoomResponse{
			Room:         room,
			Participants: participants,
			Live:         len(participants) > 0,
		})
	}
}

// pages through chat history, oldest first, from the live room when it is
// active and from the database otherwise
func GetMessagesHandler(roomRepo rooms.Repository, live LiveRooms) gin.HandlerFunc {
	return func(c *gin.Context) {
		room, ok := memberRoom(c, roomRepo)
		if !ok {
			return
		}

		limit, _ := strconv.Atoi(c.Query("limit"))
		if limit <= 0 {
			limit = chat.DefaultPageSize
		}
		limit = min(limit, chat.MaxPageSize)
		before := c.Query("before")

		if len(live.Participants(room.ID)) > 0 {
			page, err := live.ChatHistory(room.ID, limit, before)
			if err == nil {
				c.JSON(http.StatusOK, page)
				return
			}
			if !errors.Is(err, chat.ErrUnknownCursor) {
				apperrors.Respond(c, err)
				return
			}
			// the cursor may be older than what the live room holds
		}

		// one extra row tells whether there is an older page
		msgs, err := roomRepo.ListMessages(c.Request.Context(), room.ID, limit+1, before)
		if err != nil {
			apperrors.InternalError(c, "failed to load messages", err)
			return
		}

		page := chat.Page{Messages: msgs}
		if len(msgs) > limit {
			page.Messages = msgs[1:]
			page.HasMore = true
			page.NextBefore = page.Messages[0].ID
		}

		c.JSON(http.StatusOK, page)
	}
}

// returns the live document, or the last checkpoint when nobody is editing
func GetDocumentHandler(roomRepo rooms.Repository, live LiveRooms) gin.HandlerFunc {
	return func(c *gin.Context) {
		room, ok := memberRoom(c, roomRepo)
		if !ok {
			return
		}

		if len(live.Participants(room.ID)) > 0 {
			snap, err := live.Snapshot(c.Request.Context(), room.ID)
			if err == nil {
				c.JSON(http.StatusOK, DocumentResponse{
					RoomID:         room.ID,
					Content:        snap.Content,
					Version:        snap.Version,
					LastModifiedBy: snap.LastModifiedBy,
					Live:           true,
				})
				return
			}
		}

		doc, err := roomRepo.LoadDocument(c.Request.Context(), room.ID)
		if err != nil {
			apperrors.InternalError(c, "failed to load document", err)
			return
		}

		resp := DocumentResponse{RoomID: room.ID}
		if doc != nil {
			resp.Content = doc.Content
			resp.Version = doc.Version
			resp.LastModifiedBy = doc.LastModifiedBy
		}

		c.JSON(http.StatusOK, resp)
	}
}

// grants a role; needs the manage permission
func SetMemberRoleHandler(roomRepo rooms.Repository, authz auth.Authorizer, roles RoleCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			apperrors.Unauthorized(c, "")
			return
		}

		roomID, ok := apperrors.ValidatePathUUID(c, "id")
		if !ok {
			return
		}

		target := c.Param("user_id")

		var req SetMemberRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperrors.ValidationError(c, err)
			return
		}

		allowed, err := authz.Authorize(c.Request.Context(), userID, roomID, auth.ResourceRoom, auth.ActionManage)
		if err != nil {
			apperrors.InternalError(c, "failed to check permissions", err)
			return
		}
		if !allowed {
			apperrors.Forbidden(c, "only room managers can change roles")
			return
		}

		member, err := roomRepo.SetMemberRole(c.Request.Context(), roomID, target, req.Role)
		if errors.Is(err, rooms.ErrRoomNotFound) {
			apperrors.NotFound(c, "room")
			return
		}
		if err != nil {
			apperrors.InternalError(c, "failed to update role", err)
			return
		}

		if roles != nil {
			roles.Invalidate(roomID, target)
		}

		logger.Info("room role changed",
			"room_id", roomID,
			"user_id", target,
			"role", req.Role,
			"changed_by", userID,
		)

		c.JSON(http.StatusOK, member)
	}
}

// loads the room at :id if the caller is a member; writes the error otherwise
func memberRoom(c *gin.Context, roomRepo rooms.Repository) (*rooms.Room, bool) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		apperrors.Unauthorized(c, "")
		return nil, false
	}

	roomID, ok := apperrors.ValidatePathUUID(c, "id")
	if !ok {
		return nil, false
	}

	room, err := roomRepo.GetRoom(c.Request.Context(), roomID)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		apperrors.NotFound(c, "room")
		return nil, false
	}
	if err != nil {
		apperrors.InternalError(c, "failed to load room", err)
		return nil, false
	}

	if _, err := roomRepo.MemberRole(c.Request.Context(), roomID, userID); err != nil {
		if errors.Is(err, auth.ErrNotMember) {
			// strangers cannot tell a private room from a missing one
			apperrors.NotFound(c, "room")
			return nil, false
		}
		apperrors.InternalError(c, "failed to check membership", err)
		return nil, false
	}

	return room, true
}
