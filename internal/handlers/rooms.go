package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"room-chat/internal/apperr"
	"room-chat/internal/auth"
	"room-chat/internal/models"
	"room-chat/internal/services"
)

// MessageSender accepts a message into the realtime path.
type MessageSender interface {
	Send(ctx context.Context, sender auth.Identity, roomID int64, content string) (models.Envelope, error)
}

// RoomHandler serves room lifecycle, membership, send and history routes.
type RoomHandler struct {
	rooms   *services.RoomService
	history *services.HistoryService
	sender  MessageSender
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(rooms *services.RoomService, history *services.HistoryService, sender MessageSender) *RoomHandler {
	return &RoomHandler{rooms: rooms, history: history, sender: sender}
}

// CreateRoom handles POST /rooms/create.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	var req struct {
		Name      string `json:"name"`
		IsPrivate bool   `json:"is_private"`
		Password  string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), identity.UserID, req.Name, req.IsPrivate, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

// JoinRoom handles POST /rooms/join.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	var req struct {
		RoomID   int64  `json:"room_id"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID <= 0 {
		respondError(c, apperr.Validation("room_id required"))
		return
	}

	room, err := h.rooms.JoinRoom(c.Request.Context(), identity.UserID, req.RoomID, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "joined room", "room": room})
}

// DeleteRoom handles DELETE /rooms/del/:id.
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	if err := h.rooms.DeleteRoom(c.Request.Context(), identity.UserID, roomID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "room deleted"})
}

// LeaveRoom handles POST /rooms/leave/:id.
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	if err := h.rooms.LeaveRoom(c.Request.Context(), identity.UserID, roomID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left room"})
}

// ListRooms handles GET /rooms.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	c.JSON(http.StatusOK, gin.H{"total": len(rooms), "rooms": rooms})
}

// IsMember handles GET /rooms/:id/is_member.
func (h *RoomHandler) IsMember(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	member, err := h.rooms.IsMember(c.Request.Context(), identity.UserID, roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_member": member})
}

// PostMessage handles POST /rooms/:id/messages through the realtime send
// path, so REST and websocket sends share ordering and fan-out.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	env, err := h.sender.Send(c.Request.Context(), identity, roomID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": env})
}

// GetHistory handles GET /rooms/:id/history?page&page_size.
func (h *RoomHandler) GetHistory(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", services.DefaultPageSize)

	result, err := h.history.GetHistory(c.Request.Context(), roomID, identity.UserID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
