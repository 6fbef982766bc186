package http

import (
	"net/http"

	"huddle/internal/core/domain"
	"huddle/internal/core/services"
	"huddle/pkg/errors"

	"github.com/gin-gonic/gin"
)

// CallHandler drives the local client's room sessions: entering and leaving
// rooms, starting and ending the call, device toggles, and room chat.
type CallHandler struct {
	sessions *services.SessionManager
}

func NewCallHandler(sessions *services.SessionManager) *CallHandler {
	return &CallHandler{sessions: sessions}
}

func (h *CallHandler) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	api := router.Group("/api/v1/rooms/:id", auth)
	{
		api.POST("/join", h.JoinRoom)
		api.POST("/leave", h.LeaveRoom)

		api.POST("/call/start", h.StartCall)
		api.POST("/call/end", h.EndCall)
		api.POST("/call/reconnect", h.Reconnect)
		api.POST("/call/mic", h.ToggleMic)
		api.POST("/call/camera", h.ToggleCamera)
		api.GET("/call/state", h.CallState)

		api.POST("/chat", h.SendChat)
		api.POST("/chat/typing", h.NotifyTyping)
		api.GET("/chat/history", h.ChatHistory)
	}
}

func (h *CallHandler) session(c *gin.Context) (*services.RoomSession, bool) {
	roomID := domain.RoomID(c.Param("id"))
	session, ok := h.sessions.Get(roomID)
	if !ok {
		c.Error(errors.NewConflictError("room not joined"))
		return nil, false
	}
	return session, true
}

func (h *CallHandler) JoinRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	session, err := h.sessions.Open(c.Request.Context(), roomID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id": session.RoomID,
		"status":  "joined",
	})
}

func (h *CallHandler) LeaveRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	h.sessions.Close(c.Request.Context(), roomID)
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *CallHandler) StartCall(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	if err := session.Orchestrator.StartCall(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"call": session.Orchestrator.Snapshot()})
}

func (h *CallHandler) EndCall(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	session.Orchestrator.EndCall(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"call": session.Orchestrator.Snapshot()})
}

func (h *CallHandler) Reconnect(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	if err := session.Orchestrator.ReconnectPeerSession(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"call": session.Orchestrator.Snapshot()})
}

func (h *CallHandler) ToggleMic(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"mic_enabled": session.Orchestrator.ToggleMic()})
}

func (h *CallHandler) ToggleCamera(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"camera_enabled": session.Orchestrator.ToggleCamera()})
}

func (h *CallHandler) CallState(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"call": session.Orchestrator.Snapshot()})
}

func (h *CallHandler) SendChat(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	msg, err := session.Chat.Send(c.Request.Context(), req.Body)
	if err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *CallHandler) NotifyTyping(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	session.Chat.NotifyTyping(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *CallHandler) ChatHistory(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	messages, err := session.Chat.History(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
