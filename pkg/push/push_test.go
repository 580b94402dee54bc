package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTokenRepository is a mock implementation of TokenRepository
type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Store(ctx context.Context, token *Token) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepository) GetByUserID(ctx context.Context, userID string) ([]*Token, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Token), args.Error(1)
}

func (m *MockTokenRepository) GetByToken(ctx context.Context, token string) (*Token, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Token), args.Error(1)
}

func (m *MockTokenRepository) Delete(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepository) MarkInactive(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// stubProvider returns a fixed result
type stubProvider struct {
	result *SendResult
	err    error
	tokens []string
}

func (p *stubProvider) Send(_ context.Context, _ *Notification, tokens []string) (*SendResult, error) {
	p.tokens = tokens
	return p.result, p.err
}

func TestService_SendIncomingCall_OnlyActiveTokens(t *testing.T) {
	ctx := context.Background()
	repo := new(MockTokenRepository)
	provider := &MockProvider{}
	svc := NewService(provider, repo)

	repo.On("GetByUserID", ctx, "staff-1").Return([]*Token{
		{UserID: "staff-1", Token: "tok-active", Active: true},
		{UserID: "staff-1", Token: "tok-stale", Active: false},
	}, nil)

	err := svc.SendIncomingCall(ctx, &CallNotificationData{
		CallID:     "call-1",
		CallerID:   "client-9",
		CallerName: "Ada",
		CallType:   "video",
		CreatedAt:  time.Now(),
	}, "staff-1")

	require.NoError(t, err)
	sent := provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Incoming call", sent[0].Title)
	assert.Equal(t, "call-1", sent[0].Data["call_id"])
	assert.Equal(t, "high", sent[0].Priority)
	assert.Contains(t, sent[0].Body, "video")
	repo.AssertExpectations(t)
}

func TestService_NoTokensSkipsProvider(t *testing.T) {
	ctx := context.Background()
	repo := new(MockTokenRepository)
	provider := &MockProvider{}
	svc := NewService(provider, repo)

	repo.On("GetByUserID", ctx, "staff-1").Return(nil, errors.New("redis down"))

	err := svc.SendMissedCall(ctx, &CallNotificationData{CallID: "c", CallerName: "Ada"}, "staff-1")

	assert.NoError(t, err)
	assert.Empty(t, provider.Sent())
}

func TestService_InvalidTokensMarkedInactive(t *testing.T) {
	ctx := context.Background()
	repo := new(MockTokenRepository)
	provider := &stubProvider{result: &SendResult{SuccessCount: 1, FailureCount: 1, InvalidTokens: []string{"tok-b"}}}
	svc := NewService(provider, repo)

	repo.On("GetByUserID", ctx, "u1").Return([]*Token{
		{Token: "tok-a", Active: true},
		{Token: "tok-b", Active: true},
	}, nil)
	repo.On("MarkInactive", ctx, "tok-b").Return(nil)

	err := svc.SendCustomNotification(ctx, &Notification{Title: "hi"}, "u1")

	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a", "tok-b"}, provider.tokens)
	repo.AssertExpectations(t)
}

func TestService_ProviderError(t *testing.T) {
	ctx := context.Background()
	repo := new(MockTokenRepository)
	svc := NewService(&stubProvider{err: errors.New("quota")}, repo)

	repo.On("GetByUserID", ctx, "u1").Return([]*Token{{Token: "t", Active: true}}, nil)

	err := svc.SendIncomingCall(ctx, &CallNotificationData{CallID: "c"}, "u1")
	assert.Error(t, err)
}

func TestService_RegisterToken(t *testing.T) {
	ctx := context.Background()
	repo := new(MockTokenRepository)
	svc := NewService(&MockProvider{}, repo)

	repo.On("GetByToken", ctx, "tok").Return(&Token{Token: "tok", CreatedAt: 42}, nil)
	repo.On("Store", ctx, mock.MatchedBy(func(tok *Token) bool {
		return tok.Active && tok.CreatedAt == 42 && tok.UserID == "u1"
	})).Return(nil)

	err := svc.RegisterToken(ctx, &Token{UserID: "u1", Token: "tok", Type: TokenTypeFCM})
	require.NoError(t, err)
	repo.AssertExpectations(t)

	assert.Error(t, svc.RegisterToken(ctx, &Token{Token: "tok"}))
}

func TestMaskPushToken(t *testing.T) {
	assert.Equal(t, "********", maskPushToken("short"))
	assert.Equal(t, "abcdefgh...stuvwxyz", maskPushToken("abcdefghijklmnopqrstuvwxyz"))
}

func TestBuildMulticast(t *testing.T) {
	msg := buildMulticast(&Notification{Title: "t", Body: "b", Priority: "high", TTL: time.Minute}, []string{"x"})
	assert.Equal(t, "high", msg.Android.Priority)
	require.NotNil(t, msg.Android.TTL)
	assert.Equal(t, time.Minute, *msg.Android.TTL)
	assert.Equal(t, []string{"x"}, msg.Tokens)
}
