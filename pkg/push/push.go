package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lexhub-backend/pkg/logger"
)

// Provider sends one notification to a set of device tokens
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Priority    string            `json:"priority,omitempty"` // high, normal
	Sound       string            `json:"sound,omitempty"`
	Category    string            `json:"category,omitempty"`
	ClickAction string            `json:"click_action,omitempty"`
	TTL         time.Duration     `json:"-"`
}

// CallNotificationData describes a ringing or missed support call
type CallNotificationData struct {
	CallID     string
	CallerID   string
	CallerName string
	CallType   string
	CreatedAt  time.Time
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"
	TokenTypeAPNs TokenType = "apns"
	TokenTypeWeb  TokenType = "web"
)

// Token is a device registration for one principal
type Token struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository stores push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID string) ([]*Token, error)
	GetByToken(ctx context.Context, token string) (*Token, error)
	Delete(ctx context.Context, token string) error
	MarkInactive(ctx context.Context, token string) error
}

// Service delivers call notifications to the devices of offline principals
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken stores or reactivates a device token
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	if token.UserID == "" || token.Token == "" {
		return fmt.Errorf("push token requires user and token")
	}
	now := time.Now().Unix()
	existing, err := s.repo.GetByToken(ctx, token.Token)
	if err == nil && existing != nil {
		token.CreatedAt = existing.CreatedAt
	} else {
		token.CreatedAt = now
	}
	token.UpdatedAt = now
	token.Active = true
	return s.repo.Store(ctx, token)
}

// UnregisterToken removes a device token
func (s *Service) UnregisterToken(ctx context.Context, token string) error {
	return s.repo.Delete(ctx, token)
}

// UnregisterUserToken removes a device token owned by userID. It reports
// false when the token is unknown or belongs to someone else.
func (s *Service) UnregisterUserToken(ctx context.Context, userID, token string) (bool, error) {
	existing, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return false, err
	}
	if existing == nil || existing.UserID != userID {
		return false, nil
	}
	return true, s.repo.Delete(ctx, token)
}

// UserTokens lists the device registrations of a principal
func (s *Service) UserTokens(ctx context.Context, userID string) ([]*Token, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// SendIncomingCall rings the devices of the callees
func (s *Service) SendIncomingCall(ctx context.Context, data *CallNotificationData, calleeIDs ...string) error {
	verb := "voice"
	if data.CallType == "video" {
		verb = "video"
	}
	notification := &Notification{
		Title:    "Incoming call",
		Body:     fmt.Sprintf("%s is starting a %s call with you", data.CallerName, verb),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		TTL:      30 * time.Second,
		Data: map[string]string{
			"type":        "call",
			"call_id":     data.CallID,
			"caller_id":   data.CallerID,
			"caller_name": data.CallerName,
			"call_type":   data.CallType,
			"timestamp":   fmt.Sprintf("%d", data.CreatedAt.Unix()),
		},
	}
	return s.send(ctx, "incoming_call", data.CallID, notification, calleeIDs)
}

// SendMissedCall tells callees about a call that was withdrawn before it was answered
func (s *Service) SendMissedCall(ctx context.Context, data *CallNotificationData, calleeIDs ...string) error {
	notification := &Notification{
		Title:    "Missed call",
		Body:     fmt.Sprintf("You missed a call from %s", data.CallerName),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":        "missed_call",
			"call_id":     data.CallID,
			"caller_id":   data.CallerID,
			"caller_name": data.CallerName,
		},
	}
	return s.send(ctx, "missed_call", data.CallID, notification, calleeIDs)
}

// SendCustomNotification sends an arbitrary notification to principals
func (s *Service) SendCustomNotification(ctx context.Context, notification *Notification, userIDs ...string) error {
	return s.send(ctx, "custom", "", notification, userIDs)
}

func (s *Service) send(ctx context.Context, kind, callID string, notification *Notification, userIDs []string) error {
	tokens := s.collectTokens(ctx, userIDs)
	if len(tokens) == 0 {
		logger.Debug("No active push tokens",
			zap.String("kind", kind),
			zap.Int("user_count", len(userIDs)))
		return nil
	}

	result, err := s.provider.Send(ctx, notification, tokens)
	if err != nil {
		logger.Error("Failed to send push notification",
			zap.String("kind", kind),
			zap.String("call_id", callID),
			zap.Int("token_count", len(tokens)),
			zap.Error(err))
		return fmt.Errorf("failed to send %s notification: %w", kind, err)
	}

	logger.Info("Push notification sent",
		zap.String("kind", kind),
		zap.String("call_id", callID),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	for _, invalid := range result.InvalidTokens {
		if err := s.repo.MarkInactive(ctx, invalid); err != nil {
			logger.Warn("Failed to mark token as inactive", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) collectTokens(ctx context.Context, userIDs []string) []string {
	var all []string
	for _, userID := range userIDs {
		tokens, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			logger.Warn("Failed to get push tokens for user",
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		for _, token := range tokens {
			if token.Active {
				all = append(all, token.Token)
			}
		}
	}
	return all
}

// MockProvider records notifications instead of sending them
type MockProvider struct {
	mu   sync.Mutex
	sent []*Notification
}

// Send implements Provider
func (m *MockProvider) Send(_ context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	m.sent = append(m.sent, notification)
	m.mu.Unlock()

	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))

	return &SendResult{SuccessCount: len(tokens)}, nil
}

// Sent returns every notification passed to Send
func (m *MockProvider) Sent() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Notification(nil), m.sent...)
}

// maskPushToken shows only the first and last 8 characters of a token
func maskPushToken(token string) string {
	if len(token) <= 16 {
		return "********"
	}
	return token[:8] + "..." + token[len(token)-8:]
}
