package routing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"lexhub-backend/internal/domain"
	apperrors "lexhub-backend/pkg/errors"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
)

// FallbackRole takes traffic no member of the requested role can take
const FallbackRole = domain.RoleAdmin

// StaffDirectory lists the support roster
type StaffDirectory interface {
	ListActiveByRole(ctx context.Context, role domain.Role) ([]*domain.StaffMember, error)
}

// PresenceRepository reports who is online and how busy they are
type PresenceRepository interface {
	OnlineAmong(ctx context.Context, userIDs []string) (map[string]bool, error)
	Loads(ctx context.Context, userIDs []string) (map[string]int64, error)
	AdjustLoad(ctx context.Context, userID string, delta int64) (int64, error)
}

// Service routes inbound support calls and chats to staff
type Service struct {
	directory StaffDirectory
	presence  PresenceRepository
}

// NewService creates a new routing service
func NewService(directory StaffDirectory, presence PresenceRepository) *Service {
	return &Service{directory: directory, presence: presence}
}

// Route picks the online member of role with the lowest load. Ties go to
// directory order. When nobody of that role is online an online admin is
// chosen instead.
func (s *Service) Route(ctx context.Context, role domain.Role) (*domain.RouteResult, error) {
	if !role.IsStaff() {
		return nil, apperrors.ValidationError(fmt.Sprintf("role %q does not take support traffic", role))
	}

	staff, load, err := s.pick(ctx, role)
	if err != nil {
		return nil, err
	}
	if staff != nil {
		metrics.RoutingDecisionsTotal.WithLabelValues(string(role), "matched").Inc()
		return &domain.RouteResult{Staff: staff, Load: load}, nil
	}

	if role != FallbackRole {
		staff, load, err = s.pick(ctx, FallbackRole)
		if err != nil {
			return nil, err
		}
		if staff != nil {
			metrics.RoutingDecisionsTotal.WithLabelValues(string(role), "fallback").Inc()
			logger.FromContext(ctx).Info("Routed to fallback role",
				zap.String("requested_role", string(role)),
				zap.String("user_id", staff.UserID))
			return &domain.RouteResult{Staff: staff, Load: load, Fallback: true}, nil
		}
	}

	metrics.RoutingDecisionsTotal.WithLabelValues(string(role), "none").Inc()
	return nil, apperrors.NoStaffAvailableError(string(role))
}

func (s *Service) pick(ctx context.Context, role domain.Role) (*domain.StaffMember, int64, error) {
	members, err := s.directory.ListActiveByRole(ctx, role)
	if err != nil {
		return nil, 0, apperrors.DatabaseError(err)
	}
	if len(members) == 0 {
		return nil, 0, nil
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	online, err := s.presence.OnlineAmong(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read presence: %w", err)
	}
	loads, err := s.presence.Loads(ctx, ids)
	if err != nil {
		// every candidate counts as idle
		logger.FromContext(ctx).Warn("Failed to read staff load", zap.Error(err))
		loads = map[string]int64{}
	}

	var best *domain.StaffMember
	var bestLoad int64
	for _, m := range members {
		if !online[m.UserID] {
			continue
		}
		l := loads[m.UserID]
		if best == nil || l < bestLoad {
			best, bestLoad = m, l
		}
	}
	return best, bestLoad, nil
}

// Assign counts one more live conversation against a staff member
func (s *Service) Assign(ctx context.Context, userID string) error {
	if _, err := s.presence.AdjustLoad(ctx, userID, 1); err != nil {
		return fmt.Errorf("failed to assign: %w", err)
	}
	return nil
}

// Release counts one conversation off a staff member
func (s *Service) Release(ctx context.Context, userID string) error {
	if _, err := s.presence.AdjustLoad(ctx, userID, -1); err != nil {
		return fmt.Errorf("failed to release: %w", err)
	}
	return nil
}
