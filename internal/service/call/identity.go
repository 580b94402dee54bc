package call

import (
	"context"

	"lexhub-backend/internal/domain"
)

// Identity supplies the principal every signaling write is made under.
// Implementations create an anonymous principal on first use when needed.
type Identity interface {
	EnsurePrincipal(ctx context.Context) (domain.Principal, error)
}

// StaticIdentity always returns the same principal
type StaticIdentity domain.Principal

// EnsurePrincipal implements Identity
func (s StaticIdentity) EnsurePrincipal(context.Context) (domain.Principal, error) {
	return domain.Principal(s), nil
}
