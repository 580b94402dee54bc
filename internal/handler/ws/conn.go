package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lexhub-backend/internal/middleware"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 16 * 1024
	sendBuffer     = 64
)

// Event is one frame pushed to a websocket client
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUpgrader accepts browser upgrades from the allowed origins only.
// Requests without an Origin header (native apps, agents) are accepted.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	policy := middleware.NewOriginPolicy(allowedOrigins)
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || policy.Allowed(origin)
		},
	}
}

// client pumps one websocket connection. Events are queued on send and
// written by writePump; a slow client whose buffer fills is disconnected.
type client struct {
	conn   *websocket.Conn
	stream string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	log    *zap.Logger
	onPing func()
}

func newClient(conn *websocket.Conn, stream string, log *zap.Logger) *client {
	return &client{
		conn:   conn,
		stream: stream,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		log:    log,
	}
}

// push queues an event. It never blocks.
func (c *client) push(eventType string, data any) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		c.log.Error("Failed to marshal websocket event", zap.String("type", eventType), zap.Error(err))
		return
	}
	select {
	case <-c.done:
	case c.send <- payload:
	default:
		metrics.WebSocketErrorsTotal.WithLabelValues(c.stream, "slow_consumer").Inc()
		c.log.Warn("Websocket client too slow, disconnecting")
		c.close()
	}
}

// close asks writePump to send a close frame and drop the connection
func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// readPump reads frames until the connection ends and hands each to onFrame
func (c *client) readPump(onFrame func([]byte)) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				metrics.WebSocketErrorsTotal.WithLabelValues(c.stream, "read").Inc()
				c.log.Warn("Websocket read error", zap.Error(err))
			}
			return
		}
		metrics.WebSocketMessagesTotal.WithLabelValues(c.stream, "in").Inc()
		if onFrame != nil {
			onFrame(message)
		}
	}
}

// writePump writes queued events and keeps the connection alive with pings
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				metrics.WebSocketErrorsTotal.WithLabelValues(c.stream, "write").Inc()
				return
			}
			metrics.WebSocketMessagesTotal.WithLabelValues(c.stream, "out").Inc()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.onPing != nil {
				c.onPing()
			}
		}
	}
}

func logFor(stream, userID string) *zap.Logger {
	return logger.Named("ws").With(zap.String("stream", stream), zap.String("user_id", userID))
}
