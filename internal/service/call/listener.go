package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/signaling"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
)

// DefaultRecencyWindow bounds how old an unanswered offer may be and still ring
const DefaultRecencyWindow = 10 * time.Second

// Handlers receive incoming-call events for one user
type Handlers struct {
	OnIncoming func(call domain.IncomingCall)
	// OnCancelled fires when a delivered call is deleted or answered elsewhere
	OnCancelled func(callID string)
}

// Listener surfaces new, unanswered, recent offers addressed to a user.
// Recency is judged against the local clock; skew is not compensated.
type Listener struct {
	ch     signaling.Channel
	window time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// NewListener creates a listener. A non-positive window uses DefaultRecencyWindow.
func NewListener(ch signaling.Channel, window time.Duration) *Listener {
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	return &Listener{
		ch:     ch,
		window: window,
		now:    time.Now,
		log:    logger.Named("call-listener"),
	}
}

// Listen watches calls targeted at targetUserID until the returned
// function is called or ctx ends. No handler runs after unsubscribe.
func (l *Listener) Listen(ctx context.Context, targetUserID string, h Handlers) (signaling.Unsubscribe, error) {
	if targetUserID == "" {
		return nil, fmt.Errorf("target user id is required")
	}

	w := &watch{
		listener:  l,
		handlers:  h,
		delivered: make(map[string]struct{}),
		log:       l.log.With(zap.String("target_user_id", targetUserID)),
	}
	q := signaling.Collection(domain.CallsCollection).Where("offer.targetUserId", targetUserID)
	unsub, err := l.ch.Subscribe(ctx, q, w.onChange)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to incoming calls: %w", err)
	}

	return func() {
		w.stopped.Store(true)
		unsub()
	}, nil
}

// Recent reports whether an offer created at createdAt is still inside the window
func (l *Listener) Recent(createdAt time.Time) bool {
	if createdAt.IsZero() {
		return false
	}
	return l.now().Sub(createdAt) <= l.window
}

type watch struct {
	listener *Listener
	handlers Handlers
	stopped  atomic.Bool
	log      *zap.Logger

	mu sync.Mutex
	// delivered holds call ids that rang and were not yet cancelled
	delivered map[string]struct{}
}

func (w *watch) onChange(change signaling.Change) {
	if w.stopped.Load() {
		return
	}
	id := change.Doc.ID

	switch change.Kind {
	case signaling.Added:
		rec := domain.ParseCallRecord(change.Doc)
		switch {
		case rec.Offer == nil:
			metrics.RecordIncomingIgnored("no_offer")
			return
		case rec.Answer != nil:
			metrics.RecordIncomingIgnored("answered")
			return
		case !w.listener.Recent(rec.Offer.CreatedAt):
			metrics.RecordIncomingIgnored("stale")
			w.log.Debug("Ignoring stale call record", zap.String("call_id", id), zap.Time("created_at", rec.Offer.CreatedAt))
			return
		}

		w.mu.Lock()
		if _, dup := w.delivered[id]; dup {
			w.mu.Unlock()
			return
		}
		w.delivered[id] = struct{}{}
		w.mu.Unlock()

		metrics.IncomingCallsDeliveredTotal.Inc()
		w.log.Info("Incoming call", zap.String("call_id", id), zap.String("caller_id", rec.Offer.CallerID))
		if w.handlers.OnIncoming != nil {
			w.handlers.OnIncoming(domain.IncomingCall{CallID: id, Offer: rec.Offer})
		}

	case signaling.Modified:
		if !change.Doc.Has("answer") {
			return
		}
		w.cancel(id)

	case signaling.Removed:
		w.cancel(id)
	}
}

func (w *watch) cancel(id string) {
	w.mu.Lock()
	_, pending := w.delivered[id]
	delete(w.delivered, id)
	w.mu.Unlock()
	if !pending || w.stopped.Load() {
		return
	}

	metrics.IncomingCallsCancelledTotal.Inc()
	if w.handlers.OnCancelled != nil {
		w.handlers.OnCancelled(id)
	}
}
