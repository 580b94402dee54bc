package chat

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lexhub-backend/internal/domain"
	"lexhub-backend/pkg/response"
)

// SendMessage posts a message to a session
// POST /v1/chat/sessions/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.chatService.SendMessage(c.Request.Context(), p, c.Param("id"), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, msg)
}

// GetMessages returns the session history oldest first
// GET /v1/chat/sessions/:id/messages
func (h *Handler) GetMessages(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	messages, err := h.chatService.ListMessages(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}
	response.Success(c, http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

// AttachmentUploadURL returns a presigned PUT for a file message
// POST /v1/chat/sessions/:id/attachments
func (h *Handler) AttachmentUploadURL(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req domain.AttachmentUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	out, err := h.chatService.AttachmentUploadURL(c.Request.Context(), p, c.Param("id"), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// AttachmentDownloadURL returns a presigned GET for an attachment of the session
// GET /v1/chat/sessions/:id/attachments?key=...
func (h *Handler) AttachmentDownloadURL(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	key := c.Query("key")
	if key == "" {
		response.ValidationError(c, "key is required")
		return
	}

	url, err := h.chatService.AttachmentDownloadURL(c.Request.Context(), p, c.Param("id"), key)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"download_url": url,
		"generated_at": time.Now().UTC(),
	})
}
