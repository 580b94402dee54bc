package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/service/call"
	"lexhub-backend/internal/signaling"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubListener struct {
	mu       sync.Mutex
	handlers []call.Handlers
}

func (l *stubListener) Listen(_ context.Context, _ string, h call.Handlers) (signaling.Unsubscribe, error) {
	l.mu.Lock()
	l.handlers = append(l.handlers, h)
	l.mu.Unlock()
	return func() {}, nil
}

func (l *stubListener) ring(in domain.IncomingCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range l.handlers {
		h.OnIncoming(in)
	}
}

type countingPresence struct {
	mu      sync.Mutex
	online  map[string]int
	offline map[string]int
}

func newCountingPresence() *countingPresence {
	return &countingPresence{online: map[string]int{}, offline: map[string]int{}}
}

func (p *countingPresence) Heartbeat(_ context.Context, userID string) error {
	p.mu.Lock()
	p.online[userID]++
	p.mu.Unlock()
	return nil
}

func (p *countingPresence) GoOffline(_ context.Context, userID string) error {
	p.mu.Lock()
	p.offline[userID]++
	p.mu.Unlock()
	return nil
}

func (p *countingPresence) Offline(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offline[userID]
}

func newCallServer(t *testing.T, hub *CallHub) string {
	t.Helper()
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("principal", domain.Principal{ID: c.Query("user"), Role: domain.RoleStaff})
		c.Next()
	})
	router.GET("/v1/calls/ws/incoming", hub.ServeWS)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/calls/ws/incoming"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCallHub_OfflineAfterLastStream(t *testing.T) {
	presence := newCountingPresence()
	hub := NewCallHub(&stubListener{}, presence, NewUpgrader(nil), 10)
	url := newCallServer(t, hub) + "?user=staff-1"

	first := dial(t, url)
	second := dial(t, url)
	require.Eventually(t, func() bool { return hub.Streams("staff-1") == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return hub.Streams("staff-1") == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return presence.Offline("staff-1") > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool { return presence.Offline("staff-1") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.Streams("staff-1"))
}

func TestCallHub_PushesIncomingCall(t *testing.T) {
	listener := &stubListener{}
	hub := NewCallHub(listener, nil, NewUpgrader(nil), 10)
	conn := dial(t, newCallServer(t, hub)+"?user=staff-1")
	require.Eventually(t, func() bool { return hub.Streams("staff-1") == 1 }, time.Second, 5*time.Millisecond)

	listener.ring(domain.IncomingCall{CallID: "call-1", Offer: &domain.CallOffer{CallerID: "client-1"}})

	var ev struct {
		Type string              `json:"type"`
		Data domain.IncomingCall `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventIncomingCall, ev.Type)
	assert.Equal(t, "call-1", ev.Data.CallID)
	assert.Equal(t, "client-1", ev.Data.Offer.CallerID)
}
