package chat

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/middleware"
	"lexhub-backend/internal/service/chat"
	"lexhub-backend/pkg/response"
)

// Handler handles chat HTTP requests
type Handler struct {
	chatService *chat.Service
}

// NewHandler creates a new chat handler
func NewHandler(chatService *chat.Service) *Handler {
	return &Handler{
		chatService: chatService,
	}
}

func principal(c *gin.Context) (domain.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
	}
	return p, ok
}

// CreateSession opens a support chat for the caller
// POST /v1/chat/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req domain.CreateChatSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	session, err := h.chatService.CreateSession(c.Request.Context(), p, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, session)
}

// GetSession returns one session the caller may view
// GET /v1/chat/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	session, err := h.chatService.GetSession(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// WaitingSessions lists the queue of unassigned sessions
// GET /v1/chat/sessions/waiting
func (h *Handler) WaitingSessions(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	sessions, err := h.chatService.WaitingSessions(c.Request.Context(), p)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.ChatSession{}
	}
	response.Success(c, http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// JoinSession assigns the calling staff member to a waiting session
// POST /v1/chat/sessions/:id/join
func (h *Handler) JoinSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	session, err := h.chatService.JoinSession(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// CloseSession ends a session and archives its transcript
// POST /v1/chat/sessions/:id/close
func (h *Handler) CloseSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	session, err := h.chatService.CloseSession(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}
