package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/middleware"
	"lexhub-backend/internal/service/call"
	"lexhub-backend/internal/signaling"
	"lexhub-backend/pkg/metrics"
	"lexhub-backend/pkg/response"
)

// Incoming call stream event types
const (
	EventIncomingCall  = "incoming_call"
	EventCallCancelled = "call_cancelled"
)

// IncomingCallListener is satisfied by call.Listener
type IncomingCallListener interface {
	Listen(ctx context.Context, targetUserID string, h call.Handlers) (signaling.Unsubscribe, error)
}

// Presence marks stream holders online while they are connected. A
// principal goes offline when its last stream closes.
type Presence interface {
	Heartbeat(ctx context.Context, userID string) error
	GoOffline(ctx context.Context, userID string) error
}

// CallHub streams incoming-call events to connected principals
type CallHub struct {
	listener IncomingCallListener
	presence Presence
	upgrader *websocket.Upgrader

	// semaphore bounds concurrent connections
	semaphore chan struct{}

	mu    sync.Mutex
	conns map[string]int // streams per principal
}

// NewCallHub creates a hub; presence may be nil
func NewCallHub(listener IncomingCallListener, presence Presence, upgrader *websocket.Upgrader, maxConnections int) *CallHub {
	if maxConnections <= 0 {
		maxConnections = 1000
	}
	return &CallHub{
		listener:  listener,
		presence:  presence,
		upgrader:  upgrader,
		semaphore: make(chan struct{}, maxConnections),
		conns:     make(map[string]int),
	}
}

// ServeWS upgrades the request and streams incoming_call and call_cancelled
// events for the authenticated principal
// GET /v1/calls/ws/incoming
func (h *CallHub) ServeWS(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	select {
	case h.semaphore <- struct{}{}:
	default:
		metrics.WebSocketErrorsTotal.WithLabelValues("calls", "connection_limit").Inc()
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Too many connections")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		metrics.WebSocketErrorsTotal.WithLabelValues("calls", "upgrade").Inc()
		return
	}

	log := logFor("calls", p.ID)
	cl := newClient(conn, "calls", log)
	ctx, cancel := context.WithCancel(context.Background())

	unsub, err := h.listener.Listen(ctx, p.ID, call.Handlers{
		OnIncoming: func(in domain.IncomingCall) {
			cl.push(EventIncomingCall, in)
		},
		OnCancelled: func(callID string) {
			cl.push(EventCallCancelled, gin.H{"callId": callID})
		},
	})
	if err != nil {
		log.Error("Failed to listen for incoming calls", zap.Error(err))
		cancel()
		cl.conn.Close()
		<-h.semaphore
		return
	}

	metrics.CallWebSocketConnections.Inc()
	h.attach(p.ID)
	h.markOnline(ctx, p.ID, log)
	cl.onPing = func() { h.markOnline(ctx, p.ID, log) }

	go cl.writePump()
	go func() {
		defer func() {
			unsub()
			cancel()
			if h.detach(p.ID) && h.presence != nil {
				if err := h.presence.GoOffline(context.Background(), p.ID); err != nil {
					log.Warn("Failed to mark offline", zap.Error(err))
				}
			}
			metrics.CallWebSocketConnections.Dec()
			<-h.semaphore
		}()
		// the stream is server-to-client; frames from the client are ignored
		cl.readPump(nil)
	}()
}

func (h *CallHub) markOnline(ctx context.Context, userID string, log *zap.Logger) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Heartbeat(ctx, userID); err != nil {
		log.Warn("Failed to refresh presence", zap.Error(err))
	}
}

func (h *CallHub) attach(userID string) {
	h.mu.Lock()
	h.conns[userID]++
	h.mu.Unlock()
}

// detach reports whether userID closed its last stream
func (h *CallHub) detach(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[userID]--
	if h.conns[userID] > 0 {
		return false
	}
	delete(h.conns, userID)
	return true
}

// Streams returns the number of open streams held by userID
func (h *CallHub) Streams(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[userID]
}
