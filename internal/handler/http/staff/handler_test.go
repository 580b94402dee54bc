package staff

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/repository/cockroach"
	"lexhub-backend/internal/service/identity"
)

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) Upsert(ctx context.Context, member *domain.StaffMember) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MockDirectory) GetByID(ctx context.Context, userID string) (*domain.StaffMember, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StaffMember), args.Error(1)
}

func (m *MockDirectory) ListActiveByRole(ctx context.Context, role domain.Role) ([]*domain.StaffMember, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.StaffMember), args.Error(1)
}

func (m *MockDirectory) SetActive(ctx context.Context, userID string, active bool) error {
	args := m.Called(ctx, userID, active)
	return args.Error(0)
}

type MockIssuer struct {
	mock.Mock
}

func (m *MockIssuer) IssueNamed(ctx context.Context, p domain.Principal) (*identity.Token, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Token), args.Error(1)
}

func setup(p domain.Principal, dir Directory, issuer TokenIssuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(dir, issuer, nil)

	r := gin.New()
	g := r.Group("/v1/admin/staff", func(c *gin.Context) {
		c.Set("principal", p)
		c.Next()
	}, RequireAdmin())
	g.PUT("/:id", h.Upsert)
	g.GET("", h.List)
	g.POST("/:id/deactivate", h.Deactivate)
	g.POST("/:id/token", h.IssueToken)
	r.GET("/v1/admin/audit", h.AuditLog)
	return r
}

var (
	admin   = domain.Principal{ID: "admin-1", DisplayName: "Root", Role: domain.RoleAdmin}
	advisor = domain.Principal{ID: "staff-1", DisplayName: "Dana", Role: domain.RoleStaff}
)

func send(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAdmin(t *testing.T) {
	dir := new(MockDirectory)
	r := setup(advisor, dir, nil)

	w := send(r, http.MethodGet, "/v1/admin/staff?role=staff", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	dir.AssertNotCalled(t, "ListActiveByRole", mock.Anything, mock.Anything)
}

func TestUpsert(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("Upsert", mock.Anything, mock.MatchedBy(func(m *domain.StaffMember) bool {
		return m.UserID == "adv-9" && m.DisplayName == "Kim Park" && m.Role == domain.RoleAdvocate && m.Active
	})).Return(nil)
	r := setup(admin, dir, nil)

	w := send(r, http.MethodPut, "/v1/admin/staff/adv-9", gin.H{
		"display_name": " Kim <b>Park</b>",
		"role":         "advocate",
		"department":   "Housing",
	})
	require.Equal(t, http.StatusOK, w.Code)
	dir.AssertExpectations(t)

	w = send(r, http.MethodPut, "/v1/admin/staff/adv-9", gin.H{"display_name": "Kim", "role": "client"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestList(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("ListActiveByRole", mock.Anything, domain.RoleAdvocate).Return([]*domain.StaffMember{
		{UserID: "adv-1", DisplayName: "Kim", Role: domain.RoleAdvocate, Active: true},
	}, nil)
	r := setup(admin, dir, nil)

	w := send(r, http.MethodGet, "/v1/admin/staff?role=advocate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = send(r, http.MethodGet, "/v1/admin/staff?role=client", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeactivate(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("SetActive", mock.Anything, "adv-1", false).Return(nil)
	dir.On("SetActive", mock.Anything, "ghost", false).Return(cockroach.ErrStaffNotFound)
	r := setup(admin, dir, nil)

	assert.Equal(t, http.StatusOK, send(r, http.MethodPost, "/v1/admin/staff/adv-1/deactivate", nil).Code)
	assert.Equal(t, http.StatusNotFound, send(r, http.MethodPost, "/v1/admin/staff/ghost/deactivate", nil).Code)
	dir.AssertExpectations(t)
}

func TestIssueToken(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("GetByID", mock.Anything, "adv-1").Return(&domain.StaffMember{UserID: "adv-1", DisplayName: "Kim", Role: domain.RoleAdvocate, Active: true}, nil)
	dir.On("GetByID", mock.Anything, "adv-2").Return(&domain.StaffMember{UserID: "adv-2", DisplayName: "Lee", Role: domain.RoleAdvocate}, nil)
	dir.On("GetByID", mock.Anything, "ghost").Return(nil, cockroach.ErrStaffNotFound)

	issuer := new(MockIssuer)
	issuer.On("IssueNamed", mock.Anything, domain.Principal{ID: "adv-1", DisplayName: "Kim", Role: domain.RoleAdvocate}).
		Return(&identity.Token{AccessToken: "signed", ExpiresAt: time.Now().Add(time.Hour)}, nil)

	r := setup(admin, dir, issuer)

	w := send(r, http.MethodPost, "/v1/admin/staff/adv-1/token", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "signed")

	assert.Equal(t, http.StatusForbidden, send(r, http.MethodPost, "/v1/admin/staff/adv-2/token", nil).Code)
	assert.Equal(t, http.StatusNotFound, send(r, http.MethodPost, "/v1/admin/staff/ghost/token", nil).Code)
	issuer.AssertNumberOfCalls(t, "IssueNamed", 1)
}

func TestAuditLog_WithoutLogger(t *testing.T) {
	r := setup(admin, new(MockDirectory), nil)

	w := send(r, http.MethodGet, "/v1/admin/audit?date=2024-05-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	w = send(r, http.MethodGet, "/v1/admin/audit?date=May", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
