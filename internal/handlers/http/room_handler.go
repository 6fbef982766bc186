package http

import (
	"net/http"

	"huddle/internal/core/domain"
	"huddle/internal/core/services"
	"huddle/internal/infrastructure/middleware"
	"huddle/pkg/errors"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	roomService services.RoomService
}

func NewRoomHandler(roomService services.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	api := router.Group("/api/v1/rooms", auth)
	{
		api.POST("", h.CreateRoom)
		api.GET("", h.ListRooms)
		api.GET("/:id", h.GetRoom)
		api.DELETE("/:id", h.DeleteRoom)
		api.GET("/:id/members", h.GetMembers)
	}
}

// participantFrom reads the identity the auth middleware stored on the
// request. Routes behind AuthMiddleware can rely on it being present.
func participantFrom(c *gin.Context) (domain.ParticipantID, bool) {
	v, ok := c.Get(middleware.ParticipantKey)
	if !ok {
		c.Error(errors.NewUnauthorizedError("missing identity"))
		return "", false
	}
	return v.(domain.ParticipantID), true
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required,max=100"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	creator, ok := participantFrom(c)
	if !ok {
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), req.Name, creator)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"room": room})
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.roomService.ListRooms(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	room, err := h.roomService.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if err == domain.ErrRoomNotFound {
			c.Error(errors.NewNotFoundError("room"))
			return
		}
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	requester, ok := participantFrom(c)
	if !ok {
		return
	}

	if err := h.roomService.DeleteRoom(c.Request.Context(), roomID, requester); err != nil {
		switch err {
		case domain.ErrRoomNotFound:
			c.Error(errors.NewNotFoundError("room"))
		case services.ErrUnauthorized:
			c.Error(errors.NewForbiddenError("only the creator can delete a room"))
		default:
			c.Error(err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *RoomHandler) GetMembers(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	members, err := h.roomService.CallMembers(c.Request.Context(), roomID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}
