package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schoollib/pkg/auth"
	"schoollib/pkg/store"
)

const defaultRefreshTTL = 14 * 24 * time.Hour

// LocalProvider is a self-hosted delegated provider backed by the
// backend_accounts table, RS256 access tokens and refresh token families.
type LocalProvider struct {
	accounts   store.AccountStore
	sessions   store.SessionStore
	refresh    store.RefreshTokenStore
	refreshTTL time.Duration
	// dummyHash is compared against when no account matches so unknown and
	// known emails cost the same.
	dummyHash string
}

// NewLocalProvider wires a provider. refreshTTL <= 0 selects 14 days.
func NewLocalProvider(accounts store.AccountStore, sessions store.SessionStore, refresh store.RefreshTokenStore, refreshTTL time.Duration) (*LocalProvider, error) {
	if accounts == nil || sessions == nil || refresh == nil {
		return nil, errors.New("local provider requires accounts, sessions and refresh stores")
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	dummy, err := auth.HashPassword("schoollib-local-provider-placeholder")
	if err != nil {
		return nil, err
	}
	return &LocalProvider{
		accounts:   accounts,
		sessions:   sessions,
		refresh:    refresh,
		refreshTTL: refreshTTL,
		dummyHash:  dummy,
	}, nil
}

func (p *LocalProvider) Exchange(ctx context.Context, email, password string) (DelegatedSession, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	account, ok, err := p.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return DelegatedSession{}, err
	}
	if !ok || account.Disabled {
		auth.CheckPassword(password, p.dummyHash)
		return DelegatedSession{}, ErrRejected
	}
	if !auth.CheckPassword(password, account.PasswordHash) {
		return DelegatedSession{}, ErrRejected
	}
	return p.issue(ctx, account.ID)
}

func (p *LocalProvider) Refresh(ctx context.Context, s DelegatedSession) (DelegatedSession, error) {
	userID, next, err := p.refresh.Rotate(ctx, s.RefreshToken, p.refreshTTL)
	if errors.Is(err, store.ErrInvalidRefreshToken) || errors.Is(err, store.ErrRefreshTokenReplay) {
		return DelegatedSession{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err != nil {
		return DelegatedSession{}, err
	}
	if err := p.sessions.Revoke(ctx, s.AccessToken); err != nil {
		return DelegatedSession{}, err
	}
	access, err := p.sessions.Issue(ctx, userID)
	if err != nil {
		return DelegatedSession{}, err
	}
	return DelegatedSession{
		UserID:       userID,
		AccessToken:  access.Token,
		RefreshToken: next,
		ExpiresAt:    access.ExpiresAt,
	}, nil
}

// Revoke invalidates the access token and its refresh family.
func (p *LocalProvider) Revoke(ctx context.Context, s DelegatedSession) error {
	if err := p.sessions.Revoke(ctx, s.AccessToken); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if s.RefreshToken == "" {
		return nil
	}
	if err := p.refresh.Revoke(ctx, s.RefreshToken); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (p *LocalProvider) Active(ctx context.Context, s DelegatedSession) (bool, error) {
	userID, err := p.sessions.Verify(ctx, s.AccessToken)
	if errors.Is(err, store.ErrTokenInvalid) || errors.Is(err, store.ErrTokenRevoked) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return userID == s.UserID, nil
}

// JWKS exposes the signing keys when the session store publishes them.
func (p *LocalProvider) JWKS() []store.JWK {
	if provider, ok := p.sessions.(store.JWKSProvider); ok {
		return provider.JWKS()
	}
	return nil
}

func (p *LocalProvider) issue(ctx context.Context, userID string) (DelegatedSession, error) {
	access, err := p.sessions.Issue(ctx, userID)
	if err != nil {
		return DelegatedSession{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := p.refresh.Issue(ctx, userID, p.refreshTTL)
	if err != nil {
		_ = p.sessions.Revoke(ctx, access.Token)
		return DelegatedSession{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return DelegatedSession{
		UserID:       userID,
		AccessToken:  access.Token,
		RefreshToken: refresh,
		ExpiresAt:    access.ExpiresAt,
	}, nil
}
