package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schoollib/pkg/backend"
	"schoollib/pkg/domain"
	"schoollib/pkg/session"
	"schoollib/pkg/store"
)

// Config holds the collaborators of the sign-in flow.
type Config struct {
	Store    store.Store
	Provider backend.Provider
	Alerts   AlertObserver

	ProviderTimeout time.Duration
	AuditTimeout    time.Duration
}

// App wires the resolver, authenticator and auditor shared by every desk
// client of one service instance.
type App struct {
	store         store.Store
	provider      backend.Provider
	resolver      *Resolver
	authenticator *Authenticator
	auditor       *Auditor
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("auth provider required")
	}
	return &App{
		store:         cfg.Store,
		provider:      cfg.Provider,
		resolver:      NewResolver(cfg.Store),
		authenticator: NewAuthenticator(cfg.Store, cfg.Provider, cfg.ProviderTimeout),
		auditor:       NewAuditor(cfg.Store, cfg.Alerts, cfg.AuditTimeout),
	}, nil
}

// NewClient returns a client owning a fresh session slot.
func (a *App) NewClient() *Client {
	return a.NewClientWithStore(session.NewStore())
}

// NewClientWithStore returns a client that publishes into sessions.
func (a *App) NewClientWithStore(sessions *session.Store) *Client {
	if sessions == nil {
		sessions = session.NewStore()
	}
	return &Client{app: a, sessions: sessions}
}

// RecordRejected audits an attempt refused before it reached the sign-in
// flow, such as a throttled request.
func (a *App) RecordRejected(ctx context.Context, identifier string, role domain.Role, kind Kind) {
	a.auditor.Record(ctx, Attempt{
		Identifier: identifier,
		Role:       role,
		Kind:       kind,
		Meta:       RequestMetaFromContext(ctx),
	})
}

// ListAudit returns recent audit rows for a signed-in librarian or super admin.
func (a *App) ListAudit(ctx context.Context, caller domain.Profile, filter store.AuditFilter) ([]domain.LoginAuditEntry, error) {
	if caller.Role != domain.RoleLibrarian && caller.Role != domain.RoleSuperAdmin {
		return nil, ErrAuditAccessDenied
	}
	entries, err := a.store.ListLoginAudit(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list login audit: %w", err)
	}
	return entries, nil
}

// Ping checks the store.
func (a *App) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// JWKS returns the provider's public keys when it publishes any.
func (a *App) JWKS() []store.JWK {
	provider, ok := a.provider.(interface{ JWKS() []store.JWK })
	if !ok {
		return nil
	}
	return provider.JWKS()
}

// asLoginError makes sure every failure carries a kind for the audit row.
func asLoginError(err error) *LoginError {
	var le *LoginError
	if errors.As(err, &le) {
		return le
	}
	return classify(err)
}
