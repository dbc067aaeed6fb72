// Package backend talks to the delegated auth provider that owns librarian
// and staff credentials.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrRejected means the provider refused the credential or token. It is the
// only error callers should treat as "wrong password".
var ErrRejected = errors.New("credentials rejected by auth provider")

// DelegatedSession is a provider-issued session.
type DelegatedSession struct {
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Provider is the password exchange and revocation contract.
type Provider interface {
	// Exchange trades an email and password for a delegated session.
	Exchange(ctx context.Context, email, password string) (DelegatedSession, error)
	// Revoke terminates the session at the provider. Revoking an already
	// terminated session succeeds.
	Revoke(ctx context.Context, session DelegatedSession) error
	// Active reports whether the provider still honours the session.
	Active(ctx context.Context, session DelegatedSession) (bool, error)
}

// Refresher is implemented by providers that can rotate a session's tokens.
type Refresher interface {
	Refresh(ctx context.Context, session DelegatedSession) (DelegatedSession, error)
}
