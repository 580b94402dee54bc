package identity

import (
	"context"
	"sync"

	"lexhub-backend/internal/domain"
)

// Principal lazily obtains one principal and reuses it. A preset principal
// is signed on first use; otherwise an anonymous one is minted. It satisfies
// the call service's identity requirement.
type Principal struct {
	svc         *Service
	preset      *domain.Principal
	displayName string

	mu    sync.Mutex
	token *Token
}

// NewAnonymousPrincipal mints an anonymous principal on first use
func NewAnonymousPrincipal(svc *Service, displayName string) *Principal {
	return &Principal{svc: svc, displayName: displayName}
}

// NewNamedPrincipal signs p on first use
func NewNamedPrincipal(svc *Service, p domain.Principal) *Principal {
	return &Principal{svc: svc, preset: &p}
}

// EnsurePrincipal returns the principal, issuing its token the first time
func (p *Principal) EnsurePrincipal(ctx context.Context) (domain.Principal, error) {
	tok, err := p.Token(ctx)
	if err != nil {
		return domain.Principal{}, err
	}
	return tok.Principal, nil
}

// Token returns the issued token, reissuing it once it has expired
func (p *Principal) Token(ctx context.Context) (*Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != nil && p.svc.now().Before(p.token.ExpiresAt) {
		return p.token, nil
	}

	var (
		tok *Token
		err error
	)
	switch {
	case p.preset != nil:
		tok, err = p.svc.IssueNamed(ctx, *p.preset)
	case p.token != nil:
		// keep the same anonymous identity across renewals
		tok, err = p.svc.issue(ctx, p.token.Principal, "anonymous")
	default:
		tok, err = p.svc.IssueAnonymous(ctx, p.displayName)
	}
	if err != nil {
		return nil, err
	}
	p.token = tok
	return tok, nil
}
