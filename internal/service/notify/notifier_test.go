package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/signaling/memory"
	"lexhub-backend/pkg/push"
)

// Mocks
type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) SendIncomingCall(ctx context.Context, data *push.CallNotificationData, calleeIDs ...string) error {
	args := m.Called(ctx, data, calleeIDs)
	return args.Error(0)
}

func (m *MockPusher) SendMissedCall(ctx context.Context, data *push.CallNotificationData, calleeIDs ...string) error {
	args := m.Called(ctx, data, calleeIDs)
	return args.Error(0)
}

type MockPresence struct {
	mock.Mock
}

func (m *MockPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func publishOffer(t *testing.T, store *memory.Store, callID, target string) {
	t.Helper()
	require.NoError(t, store.Publish(context.Background(), domain.CallPath(callID), map[string]any{
		"offer": domain.OfferFields(&domain.CallOffer{
			SDP:          "v=0",
			Type:         "offer",
			CallerID:     "client-1",
			CallerName:   "Client One",
			Status:       domain.CallStatusCalling,
			CallType:     domain.CallTypeVoice,
			TargetUserID: target,
		}),
	}))
}

// startNotifier runs n until the test ends
func startNotifier(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestNotifier_PushesOfflineCallee(t *testing.T) {
	store := memory.New()
	pusher := new(MockPusher)
	presence := new(MockPresence)
	n := NewNotifier(store, pusher, presence, 10*time.Second)

	var mu sync.Mutex
	var incoming []*push.CallNotificationData
	var lookups atomic.Int32
	count := func(mock.Arguments) { lookups.Add(1) }
	presence.On("IsOnline", mock.Anything, "advocate-1").Run(count).Return(false, nil)
	presence.On("IsOnline", mock.Anything, "advocate-2").Run(count).Return(true, nil)
	pusher.On("SendIncomingCall", mock.Anything, mock.Anything, []string{"advocate-1"}).
		Run(func(args mock.Arguments) {
			mu.Lock()
			incoming = append(incoming, args.Get(1).(*push.CallNotificationData))
			mu.Unlock()
		}).Return(nil)

	startNotifier(t, n)
	publishOffer(t, store, "c1", "advocate-1")
	publishOffer(t, store, "c2", "advocate-2")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(incoming) == 1
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, "c1", incoming[0].CallID)
	assert.Equal(t, "Client One", incoming[0].CallerName)
	assert.Equal(t, "voice", incoming[0].CallType)
	mu.Unlock()

	require.Eventually(t, func() bool { return lookups.Load() == 2 }, waitFor, tick)
	pusher.AssertNumberOfCalls(t, "SendIncomingCall", 1)
}

func TestNotifier_MissedCallOnWithdraw(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pusher := new(MockPusher)
	presence := new(MockPresence)
	n := NewNotifier(store, pusher, presence, 10*time.Second)

	presence.On("IsOnline", mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
	pusher.On("SendIncomingCall", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	missed := make(chan string, 2)
	pusher.On("SendMissedCall", mock.Anything, mock.Anything, []string{"staff-1"}).
		Run(func(args mock.Arguments) { missed <- args.Get(1).(*push.CallNotificationData).CallID }).
		Return(errors.New("provider down"))

	startNotifier(t, n)
	publishOffer(t, store, "withdrawn", "staff-1")
	publishOffer(t, store, "answered", "staff-1")
	require.Eventually(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return len(n.pending) == 2
	}, waitFor, tick)

	require.NoError(t, store.Publish(ctx, domain.CallPath("answered"), map[string]any{
		"answer": map[string]any{"sdp": "v=0", "type": "answer"},
	}))
	require.Eventually(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return len(n.pending) == 1
	}, waitFor, tick)
	require.NoError(t, store.Delete(ctx, domain.CallPath("answered")))
	require.NoError(t, store.Delete(ctx, domain.CallPath("withdrawn")))

	select {
	case id := <-missed:
		assert.Equal(t, "withdrawn", id)
	case <-time.After(waitFor):
		t.Fatal("missed call not pushed")
	}
	assert.Never(t, func() bool { return len(missed) > 0 }, 50*time.Millisecond, tick)
}

func TestNotifier_IgnoresStaleOffers(t *testing.T) {
	store := memory.New()
	store.SetClock(func() time.Time { return time.Now().Add(-time.Minute) })
	pusher := new(MockPusher)
	presence := new(MockPresence)
	n := NewNotifier(store, pusher, presence, 10*time.Second)

	publishOffer(t, store, "old", "advocate-1")
	startNotifier(t, n)

	time.Sleep(50 * time.Millisecond)
	presence.AssertNotCalled(t, "IsOnline", mock.Anything, mock.Anything)
	pusher.AssertNotCalled(t, "SendIncomingCall", mock.Anything, mock.Anything, mock.Anything)
}
