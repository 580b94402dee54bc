package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/service/identity"
)

type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) IssueAnonymous(ctx context.Context, displayName string) (*identity.Token, error) {
	args := m.Called(ctx, displayName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Token), args.Error(1)
}

func (m *MockTokenService) Revoke(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func setup(svc TokenService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(svc)
	r := gin.New()
	r.POST("/v1/auth/anonymous", h.Anonymous)
	r.POST("/v1/auth/logout", h.Logout)
	r.GET("/v1/auth/me", func(c *gin.Context) {
		c.Set("principal", domain.Principal{ID: "anon-1", DisplayName: "Guest", Role: domain.RoleClient, Anonymous: true})
		c.Next()
	}, h.Me)
	return r
}

func TestAnonymous(t *testing.T) {
	token := &identity.Token{
		AccessToken: "signed",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
		Principal:   domain.Principal{ID: "anon-1", DisplayName: "Guest", Role: domain.RoleClient, Anonymous: true},
	}
	svc := new(MockTokenService)
	svc.On("IssueAnonymous", mock.Anything, "").Return(token, nil)
	svc.On("IssueAnonymous", mock.Anything, "Sam").Return(token, nil)
	r := setup(svc)

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/auth/anonymous", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), `"access_token":"signed"`)
	})

	t.Run("with name", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/anonymous", bytes.NewBufferString(`{"display_name":"Sam"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	svc.AssertExpectations(t)
}

func TestLogoutAndMe(t *testing.T) {
	svc := new(MockTokenService)
	svc.On("Revoke", mock.Anything, "signed").Return(nil)
	r := setup(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer signed")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"anon-1"`)
}
