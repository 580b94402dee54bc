package routing

import (
	"context"
	"time"

	"lexhub-backend/internal/domain"
	"lexhub-backend/pkg/cache"
	"lexhub-backend/pkg/metrics"
)

// Roster is the full staff directory
type Roster interface {
	StaffDirectory
	Upsert(ctx context.Context, m *domain.StaffMember) error
	GetByID(ctx context.Context, userID string) (*domain.StaffMember, error)
	SetActive(ctx context.Context, userID string, active bool) error
}

// CachedRoster keeps role listings for a short TTL so every routed call
// and chat does not hit the database. Writes through it drop the cache.
type CachedRoster struct {
	Roster
	cache *cache.Memory[domain.Role, []*domain.StaffMember]
}

// NewCachedRoster wraps roster with a role cache
func NewCachedRoster(roster Roster, ttl time.Duration) *CachedRoster {
	return &CachedRoster{
		Roster: roster,
		cache:  cache.NewMemory[domain.Role, []*domain.StaffMember](ttl, 16),
	}
}

// ListActiveByRole serves from cache when fresh
func (r *CachedRoster) ListActiveByRole(ctx context.Context, role domain.Role) ([]*domain.StaffMember, error) {
	if members, ok := r.cache.Lookup(role); ok {
		metrics.RosterCacheLookupsTotal.WithLabelValues("hit").Inc()
		return members, nil
	}
	metrics.RosterCacheLookupsTotal.WithLabelValues("miss").Inc()

	members, err := r.Roster.ListActiveByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	r.cache.Put(role, members, 0)
	return members, nil
}

// Upsert writes through and drops cached listings
func (r *CachedRoster) Upsert(ctx context.Context, m *domain.StaffMember) error {
	defer r.cache.Reset()
	return r.Roster.Upsert(ctx, m)
}

// SetActive writes through and drops cached listings
func (r *CachedRoster) SetActive(ctx context.Context, userID string, active bool) error {
	defer r.cache.Reset()
	return r.Roster.SetActive(ctx, userID, active)
}
