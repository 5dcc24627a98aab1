package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studybuddy-chat/internal/middleware"
	"studybuddy-chat/internal/repositories"
	"studybuddy-chat/internal/telemetry"
)

// RoomNotifier reaches the sockets of a room; ws.Registry implements it.
type RoomNotifier interface {
	RoomDeleted(ctx context.Context, room string) error
}

// RoomHandler serves room listing, creation from a post, detail and leave.
type RoomHandler struct {
	roomRepo     repositories.RoomRepository
	messageRepo  repositories.MessageRepository
	notifier     RoomNotifier
	audit        *telemetry.AuditEmitter
	historyLimit int
}

// NewRoomHandler constructs a RoomHandler.
func NewRoomHandler(roomRepo repositories.RoomRepository, messageRepo repositories.MessageRepository, notifier RoomNotifier, audit *telemetry.AuditEmitter, historyLimit int) *RoomHandler {
	if historyLimit <= 0 {
		historyLimit = repositories.DefaultHistoryLimit
	}
	return &RoomHandler{
		roomRepo:     roomRepo,
		messageRepo:  messageRepo,
		notifier:     notifier,
		audit:        audit,
		historyLimit: historyLimit,
	}
}

// ListRooms handles GET /studybuddy/rooms.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.roomRepo.ListRoomsForUser(c.Request.Context(), middleware.UserEmail(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// AddRoom handles POST /studybuddy/rooms: the caller asks to message a post's author.
func (h *RoomHandler) AddRoom(c *gin.Context) {
	var req struct {
		PostPK int `json:"post_pk" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, telemetry.LevelError, "invalid request payload", nil)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.roomRepo.AddRoomForPost(c.Request.Context(), req.PostPK, middleware.UserEmail(c))
	switch {
	case errors.Is(err, repositories.ErrPostNotFound):
		h.emitAudit(c, telemetry.LevelError, "post not found", gin.H{"post_pk": req.PostPK})
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	case errors.Is(err, repositories.ErrUserNotFound):
		h.emitAudit(c, telemetry.LevelError, "unknown user", nil)
		c.JSON(http.StatusForbidden, gin.H{"error": "unknown user"})
		return
	case err != nil:
		h.emitAudit(c, telemetry.LevelError, "internal error", nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open room"})
		return
	}

	h.emitAudit(c, telemetry.LevelInfo, "Room opened", gin.H{"room_pk": room.ID, "post_pk": req.PostPK})
	c.JSON(http.StatusCreated, gin.H{"room_pk": room.ID})
}

// GetRoom handles GET /studybuddy/rooms/:room_id and replays recent history.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	room, err := h.roomRepo.GetRoom(ctx, roomID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}

	member, err := h.roomRepo.IsMember(ctx, roomID, middleware.UserEmail(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		h.emitAudit(c, telemetry.LevelError, "not allowed", gin.H{"room_pk": roomID})
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}

	members, err := h.roomRepo.ListMembers(ctx, roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load members"})
		return
	}
	messages, err := h.messageRepo.ListRecentMessages(ctx, roomID, h.historyLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":     room,
		"members":  members,
		"messages": messages,
		"socket":   "/studybuddy/chat/rooms/" + strconv.Itoa(room.ID) + "/",
	})
}

// LeaveRoom handles POST /studybuddy/rooms/:room_id/leave. When the caller was the
// last member the room is gone and its open sockets are closed.
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}

	deleted, err := h.roomRepo.LeaveRoom(c.Request.Context(), roomID, middleware.UserEmail(c))
	switch {
	case errors.Is(err, repositories.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	case errors.Is(err, repositories.ErrNotMember):
		h.emitAudit(c, telemetry.LevelError, "not allowed", gin.H{"room_pk": roomID})
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	case err != nil:
		h.emitAudit(c, telemetry.LevelError, "internal error", nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not leave room"})
		return
	}

	if deleted && h.notifier != nil {
		// the room is already gone; a failed notification only delays socket cleanup
		if err := h.notifier.RoomDeleted(c.Request.Context(), strconv.Itoa(roomID)); err != nil {
			h.emitAudit(c, telemetry.LevelWarn, "room deletion broadcast failed", gin.H{"room_pk": roomID, "error": err.Error()})
		}
	}

	text := "Room left"
	if deleted {
		text = "Room deleted"
	}
	h.emitAudit(c, telemetry.LevelInfo, text, gin.H{"room_pk": roomID})
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *RoomHandler) emitAudit(c *gin.Context, level, text string, fields gin.H) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userEmailFromContext(c), fields)
}

func parseRoomID(c *gin.Context) (int, bool) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil || roomID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return 0, false
	}
	return roomID, true
}
