package ws

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/middleware"
	"lexhub-backend/internal/service/chat"
	apperrors "lexhub-backend/pkg/errors"
	"lexhub-backend/pkg/metrics"
	"lexhub-backend/pkg/response"
)

// Chat stream event types
const (
	EventChatMessage = "message"
	EventChatSession = "session"
	EventChatQueue   = "queue"
	EventChatError   = "error"
)

// inboundFrame is a message sent by the client over the chat stream
type inboundFrame struct {
	Type          string             `json:"type"` // "message"
	Text          string             `json:"text"`
	Kind          domain.MessageKind `json:"kind,omitempty"`
	AttachmentKey string             `json:"attachment_key,omitempty"`
}

// ChatHub streams chat sessions and the staff queue
type ChatHub struct {
	chat     *chat.Service
	upgrader *websocket.Upgrader
}

// NewChatHub creates a new chat hub
func NewChatHub(chatService *chat.Service, upgrader *websocket.Upgrader) *ChatHub {
	return &ChatHub{chat: chatService, upgrader: upgrader}
}

// ServeWS streams one session (?session_id=) or, for staff, the waiting
// queue (?queue=true). Session streams also accept outgoing messages.
// GET /v1/chat/ws
func (h *ChatHub) ServeWS(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	sessionID := c.Query("session_id")
	queue := c.Query("queue") == "true"
	if sessionID == "" && !queue {
		response.ValidationError(c, "session_id or queue required")
		return
	}

	// Authorize before upgrading so failures are plain HTTP errors
	if queue {
		if !p.Role.IsStaff() {
			response.Forbidden(c, "Staff role required")
			return
		}
	} else if _, err := h.chat.GetSession(c.Request.Context(), p, sessionID); err != nil {
		response.FromError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		metrics.WebSocketErrorsTotal.WithLabelValues("chat", "upgrade").Inc()
		return
	}

	log := logFor("chat", p.ID).With(zap.String("session_id", sessionID))
	cl := newClient(conn, "chat", log)
	ctx, cancel := context.WithCancel(context.Background())

	var unsubs []func()
	fail := func(err error) {
		log.Error("Failed to open chat stream", zap.Error(err))
		for _, u := range unsubs {
			u()
		}
		cancel()
		cl.conn.Close()
	}

	var onFrame func([]byte)
	if queue {
		unsub, err := h.chat.WatchQueue(ctx, p, func(e chat.QueueEvent) {
			cl.push(EventChatQueue, e)
		})
		if err != nil {
			fail(err)
			return
		}
		unsubs = append(unsubs, unsub)
	} else {
		unsub, err := h.chat.WatchSession(ctx, p, sessionID, func(s *domain.ChatSession) {
			cl.push(EventChatSession, s)
		})
		if err != nil {
			fail(err)
			return
		}
		unsubs = append(unsubs, unsub)

		unsub, err = h.chat.WatchMessages(ctx, p, sessionID, func(m *domain.ChatMessage) {
			cl.push(EventChatMessage, m)
		})
		if err != nil {
			fail(err)
			return
		}
		unsubs = append(unsubs, unsub)
		onFrame = func(raw []byte) { h.handleFrame(ctx, cl, p, sessionID, raw) }
	}

	metrics.ChatWebSocketConnections.Inc()
	go cl.writePump()
	go func() {
		defer func() {
			for _, u := range unsubs {
				u()
			}
			cancel()
			metrics.ChatWebSocketConnections.Dec()
		}()
		cl.readPump(onFrame)
	}()
}

// handleFrame sends a client frame as a chat message. The message itself
// comes back through the message subscription.
func (h *ChatHub) handleFrame(ctx context.Context, cl *client, p domain.Principal, sessionID string, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "message" {
		cl.push(EventChatError, gin.H{"code": string(apperrors.ErrCodeInvalidInput), "message": "unsupported frame"})
		return
	}
	_, err := h.chat.SendMessage(ctx, p, sessionID, &domain.SendMessageRequest{
		Text:          frame.Text,
		Kind:          frame.Kind,
		AttachmentKey: frame.AttachmentKey,
	})
	if err != nil {
		appErr := apperrors.GetAppError(err)
		cl.push(EventChatError, gin.H{"code": string(appErr.Code), "message": appErr.Message})
	}
}
