package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/signaling"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
	"lexhub-backend/pkg/push"
)

// Pusher sends call notifications to a principal's devices
type Pusher interface {
	SendIncomingCall(ctx context.Context, data *push.CallNotificationData, calleeIDs ...string) error
	SendMissedCall(ctx context.Context, data *push.CallNotificationData, calleeIDs ...string) error
}

// PresenceChecker reports whether a principal has a live connection
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Notifier pushes ringing and missed calls to callees that are offline.
// Online callees get the call through their own listener.
type Notifier struct {
	ch          signaling.Channel
	pusher      Pusher
	presence    PresenceChecker
	window      time.Duration
	sendTimeout time.Duration
	now         func() time.Time
	log         *zap.Logger

	mu      sync.Mutex
	pending map[string]*push.CallNotificationData
	target  map[string]string
	wg      sync.WaitGroup
}

// NewNotifier creates a notifier. window is the recency window offers must
// fall into to ring.
func NewNotifier(ch signaling.Channel, pusher Pusher, presence PresenceChecker, window time.Duration) *Notifier {
	return &Notifier{
		ch:          ch,
		pusher:      pusher,
		presence:    presence,
		window:      window,
		sendTimeout: 10 * time.Second,
		now:         time.Now,
		log:         logger.Named("call-notifier"),
		pending:     make(map[string]*push.CallNotificationData),
		target:      make(map[string]string),
	}
}

// Run watches every call record until ctx ends, then waits for in-flight pushes
func (n *Notifier) Run(ctx context.Context) error {
	unsub, err := n.ch.Subscribe(ctx, signaling.Collection(domain.CallsCollection), n.onChange)
	if err != nil {
		return fmt.Errorf("failed to watch calls: %w", err)
	}
	n.log.Info("Call notifier started")
	<-ctx.Done()
	unsub()
	n.wg.Wait()
	return nil
}

func (n *Notifier) onChange(change signaling.Change) {
	id := change.Doc.ID
	switch change.Kind {
	case signaling.Added:
		rec := domain.ParseCallRecord(change.Doc)
		if !rec.Ringing() || rec.Offer.TargetUserID == "" {
			return
		}
		if rec.Offer.CreatedAt.IsZero() || n.now().Sub(rec.Offer.CreatedAt) > n.window {
			return
		}
		data := &push.CallNotificationData{
			CallID:     id,
			CallerID:   rec.Offer.CallerID,
			CallerName: rec.Offer.CallerName,
			CallType:   string(rec.Offer.CallType),
			CreatedAt:  rec.Offer.CreatedAt,
		}
		n.mu.Lock()
		if _, dup := n.pending[id]; dup {
			n.mu.Unlock()
			return
		}
		n.pending[id] = data
		n.target[id] = rec.Offer.TargetUserID
		n.mu.Unlock()
		n.dispatch("incoming_call", rec.Offer.TargetUserID, data, n.pusher.SendIncomingCall)

	case signaling.Modified:
		if change.Doc.Has("answer") {
			n.forget(id)
		}

	case signaling.Removed:
		data, target := n.forget(id)
		if data != nil {
			n.dispatch("missed_call", target, data, n.pusher.SendMissedCall)
		}
	}
}

func (n *Notifier) forget(id string) (*push.CallNotificationData, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	data, target := n.pending[id], n.target[id]
	delete(n.pending, id)
	delete(n.target, id)
	return data, target
}

type sendFunc func(ctx context.Context, data *push.CallNotificationData, calleeIDs ...string) error

// dispatch sends off the delivery goroutine so a slow provider never holds
// up signaling changes
func (n *Notifier) dispatch(kind, target string, data *push.CallNotificationData, send sendFunc) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
		defer cancel()

		online, err := n.presence.IsOnline(ctx, target)
		if err != nil {
			n.log.Warn("Presence lookup failed, pushing anyway",
				zap.String("target_user_id", target), zap.Error(err))
		} else if online {
			return
		}

		err = send(ctx, data, target)
		metrics.RecordPushNotification(kind, err)
		if err != nil {
			n.log.Error("Call push failed",
				zap.String("kind", kind),
				zap.String("call_id", data.CallID),
				zap.Error(err))
		}
	}()
}
