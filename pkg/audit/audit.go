package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lexhub-backend/pkg/logger"
)

// Retention is how long a day of audit events is kept
const Retention = 90 * 24 * time.Hour

// EventType represents the type of audit event
type EventType string

const (
	// Roster administration
	EventStaffUpsert      EventType = "staff_upsert"
	EventStaffDeactivate  EventType = "staff_deactivate"
	EventStaffTokenIssued EventType = "staff_token_issued"

	// Supervision
	EventCallForceHangup EventType = "call_force_hangup"
)

// Event represents an audit log entry
type Event struct {
	EventID   string    `json:"event_id"`
	ActorID   string    `json:"actor_id"`
	EventType EventType `json:"event_type"`
	Resource  string    `json:"resource,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the Redis subset audit events are written to
type Store interface {
	SafeLPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	SafeExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	SafeLRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// Logger appends audit events to one Redis list per UTC day. A nil Logger
// discards events.
type Logger struct {
	store Store
	now   func() time.Time
}

// NewLogger creates a new audit logger
func NewLogger(store Store) *Logger {
	return &Logger{store: store, now: time.Now}
}

func dayKey(day time.Time) string {
	return fmt.Sprintf("audit:events:%s", day.UTC().Format("2006-01-02"))
}

// Log records an event. Failures are logged and never returned.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if l == nil {
		return
	}
	event.Timestamp = l.now().UTC()
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal audit event", zap.Error(err))
		return
	}

	key := dayKey(event.Timestamp)
	if err := l.store.SafeLPush(ctx, key, data).Err(); err != nil {
		logger.Warn("Failed to store audit event",
			zap.String("event_type", string(event.EventType)),
			zap.String("actor_id", event.ActorID),
			zap.Error(err))
		return
	}
	if err := l.store.SafeExpire(ctx, key, Retention).Err(); err != nil {
		logger.Warn("Failed to set audit log expiry", zap.String("key", key), zap.Error(err))
	}
}

// Recent returns up to limit events of day, newest first
func (l *Logger) Recent(ctx context.Context, day time.Time, limit int) ([]*Event, error) {
	if l == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	raw, err := l.store.SafeLRange(ctx, dayKey(day), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit events: %w", err)
	}

	events := make([]*Event, 0, len(raw))
	for _, item := range raw {
		var e Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			logger.Warn("Skipping malformed audit event", zap.Error(err))
			continue
		}
		events = append(events, &e)
	}
	return events, nil
}
