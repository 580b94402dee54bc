package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lexhub-backend/internal/domain"
	apperrors "lexhub-backend/pkg/errors"
)

// Mocks
type MockStaffDirectory struct {
	mock.Mock
}

func (m *MockStaffDirectory) ListActiveByRole(ctx context.Context, role domain.Role) ([]*domain.StaffMember, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.StaffMember), args.Error(1)
}

type MockPresenceRepository struct {
	mock.Mock
}

func (m *MockPresenceRepository) OnlineAmong(ctx context.Context, userIDs []string) (map[string]bool, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

func (m *MockPresenceRepository) Loads(ctx context.Context, userIDs []string) (map[string]int64, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *MockPresenceRepository) AdjustLoad(ctx context.Context, userID string, delta int64) (int64, error) {
	args := m.Called(ctx, userID, delta)
	return args.Get(0).(int64), args.Error(1)
}

func staff(id string, role domain.Role) *domain.StaffMember {
	return &domain.StaffMember{UserID: id, DisplayName: id, Role: role, Active: true}
}

func TestRoute_LowestLoadOnline(t *testing.T) {
	dir := new(MockStaffDirectory)
	presence := new(MockPresenceRepository)
	svc := NewService(dir, presence)

	dir.On("ListActiveByRole", mock.Anything, domain.RoleAdvocate).Return([]*domain.StaffMember{
		staff("a1", domain.RoleAdvocate), staff("a2", domain.RoleAdvocate), staff("a3", domain.RoleAdvocate),
	}, nil)
	ids := []string{"a1", "a2", "a3"}
	presence.On("OnlineAmong", mock.Anything, ids).Return(map[string]bool{"a2": true, "a3": true}, nil)
	presence.On("Loads", mock.Anything, ids).Return(map[string]int64{"a1": 0, "a2": 3, "a3": 1}, nil)

	res, err := svc.Route(context.Background(), domain.RoleAdvocate)
	require.NoError(t, err)
	assert.Equal(t, "a3", res.Staff.UserID)
	assert.Equal(t, int64(1), res.Load)
	assert.False(t, res.Fallback)
}

func TestRoute_TiesGoToDirectoryOrder(t *testing.T) {
	dir := new(MockStaffDirectory)
	presence := new(MockPresenceRepository)
	svc := NewService(dir, presence)

	dir.On("ListActiveByRole", mock.Anything, domain.RoleStaff).Return([]*domain.StaffMember{
		staff("s1", domain.RoleStaff), staff("s2", domain.RoleStaff),
	}, nil)
	presence.On("OnlineAmong", mock.Anything, mock.Anything).Return(map[string]bool{"s1": true, "s2": true}, nil)
	presence.On("Loads", mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))

	res, err := svc.Route(context.Background(), domain.RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, "s1", res.Staff.UserID)
}

func TestRoute_FallsBackToAdmin(t *testing.T) {
	dir := new(MockStaffDirectory)
	presence := new(MockPresenceRepository)
	svc := NewService(dir, presence)

	dir.On("ListActiveByRole", mock.Anything, domain.RoleProvider).Return([]*domain.StaffMember{staff("p1", domain.RoleProvider)}, nil)
	dir.On("ListActiveByRole", mock.Anything, domain.RoleAdmin).Return([]*domain.StaffMember{staff("adm", domain.RoleAdmin)}, nil)
	presence.On("OnlineAmong", mock.Anything, []string{"p1"}).Return(map[string]bool{}, nil)
	presence.On("Loads", mock.Anything, []string{"p1"}).Return(map[string]int64{}, nil)
	presence.On("OnlineAmong", mock.Anything, []string{"adm"}).Return(map[string]bool{"adm": true}, nil)
	presence.On("Loads", mock.Anything, []string{"adm"}).Return(map[string]int64{"adm": 2}, nil)

	res, err := svc.Route(context.Background(), domain.RoleProvider)
	require.NoError(t, err)
	assert.Equal(t, "adm", res.Staff.UserID)
	assert.True(t, res.Fallback)
}

func TestRoute_NoStaff(t *testing.T) {
	dir := new(MockStaffDirectory)
	svc := NewService(dir, new(MockPresenceRepository))
	dir.On("ListActiveByRole", mock.Anything, mock.Anything).Return([]*domain.StaffMember{}, nil)

	_, err := svc.Route(context.Background(), domain.RoleAdvocate)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNoStaffAvailable))
	dir.AssertNumberOfCalls(t, "ListActiveByRole", 2)
}

func TestRoute_Errors(t *testing.T) {
	dir := new(MockStaffDirectory)
	svc := NewService(dir, new(MockPresenceRepository))

	_, err := svc.Route(context.Background(), domain.RoleClient)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	dir.On("ListActiveByRole", mock.Anything, domain.RoleStaff).Return(nil, errors.New("connection refused"))
	_, err = svc.Route(context.Background(), domain.RoleStaff)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
}

func TestAssignRelease(t *testing.T) {
	presence := new(MockPresenceRepository)
	svc := NewService(new(MockStaffDirectory), presence)

	presence.On("AdjustLoad", mock.Anything, "s1", int64(1)).Return(int64(1), nil)
	presence.On("AdjustLoad", mock.Anything, "s1", int64(-1)).Return(int64(0), nil)
	presence.On("AdjustLoad", mock.Anything, "s2", int64(1)).Return(int64(0), errors.New("degraded"))

	assert.NoError(t, svc.Assign(context.Background(), "s1"))
	assert.NoError(t, svc.Release(context.Background(), "s1"))
	assert.Error(t, svc.Assign(context.Background(), "s2"))
	presence.AssertExpectations(t)
}
