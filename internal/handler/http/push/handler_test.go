package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lexhub-backend/internal/domain"
	"lexhub-backend/pkg/push"
)

type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) RegisterToken(ctx context.Context, token *push.Token) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenService) UnregisterUserToken(ctx context.Context, userID, token string) (bool, error) {
	args := m.Called(ctx, userID, token)
	return args.Bool(0), args.Error(1)
}

func (m *MockTokenService) UserTokens(ctx context.Context, userID string) ([]*push.Token, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*push.Token), args.Error(1)
}

var advisor = domain.Principal{ID: "staff-1", DisplayName: "Dana", Role: domain.RoleStaff}

func setup(svc TokenService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(svc)
	r := gin.New()
	g := r.Group("/v1/push", func(c *gin.Context) {
		c.Set("principal", advisor)
		c.Next()
	})
	g.POST("/tokens", h.RegisterToken)
	g.DELETE("/tokens", h.UnregisterToken)
	g.GET("/tokens", h.GetTokens)
	return r
}

func jsonRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRegisterToken(t *testing.T) {
	svc := new(MockTokenService)
	svc.On("RegisterToken", mock.Anything, mock.MatchedBy(func(tok *push.Token) bool {
		return tok.UserID == "staff-1" && tok.Token == "fcm-device-token" && tok.Type == push.TokenTypeFCM
	})).Return(nil)
	r := setup(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/v1/push/tokens", gin.H{"token": "fcm-device-token", "type": "fcm", "platform": "android"}))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/v1/push/tokens", gin.H{"token": "x", "type": "sms"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertNumberOfCalls(t, "RegisterToken", 1)
}

func TestUnregisterToken_OwnershipChecked(t *testing.T) {
	svc := new(MockTokenService)
	svc.On("UnregisterUserToken", mock.Anything, "staff-1", "mine").Return(true, nil)
	svc.On("UnregisterUserToken", mock.Anything, "staff-1", "theirs").Return(false, nil)
	r := setup(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodDelete, "/v1/push/tokens", gin.H{"token": "mine"}))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodDelete, "/v1/push/tokens", gin.H{"token": "theirs"}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTokens_MasksTokens(t *testing.T) {
	svc := new(MockTokenService)
	svc.On("UserTokens", mock.Anything, "staff-1").Return([]*push.Token{
		{UserID: "staff-1", Token: "abcdefghijklmnop12345678", Type: push.TokenTypeAPNs, Platform: "ios", Active: true},
	}, nil)
	r := setup(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/push/tokens", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"token_suffix":"12345678"`)
	assert.NotContains(t, w.Body.String(), "abcdefgh")
}
