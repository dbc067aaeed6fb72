package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"schoollib/internal/util"
	"schoollib/pkg/backend"
	"schoollib/pkg/domain"
	"schoollib/pkg/session"
)

// Client is one desk's view of the sign-in flow. Attempts on a client run one
// at a time and are the only writers of its session store.
type Client struct {
	app      *App
	sessions *session.Store
	mu       sync.Mutex
}

// Sessions exposes the session slot for observers.
func (c *Client) Sessions() *session.Store {
	return c.sessions
}

// Current returns the signed-in profile.
func (c *Client) Current() (domain.Profile, bool) {
	return c.sessions.Profile()
}

// SignIn resolves, authenticates, publishes and audits one attempt. Every
// attempt that reaches resolution is audited exactly once.
func (c *Client) SignIn(ctx context.Context, req LoginRequest) error {
	if req == nil {
		return ErrIdentifierAndPasswordRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := util.LoggerFromContext(ctx)
	attempt := Attempt{
		Identifier: req.Identifier(),
		Role:       req.Role(),
		Meta:       RequestMetaFromContext(ctx),
	}

	res, err := c.app.resolver.Resolve(ctx, req)
	var next session.Session
	if err == nil {
		next, err = c.app.authenticator.Authenticate(ctx, res)
	}
	if err != nil {
		le := asLoginError(err)
		attempt.Kind = le.Kind
		if res.Profile != nil {
			attempt.UserID = res.Profile.ID
		} else {
			attempt.UserID = le.UserID()
		}
		switch le.Kind {
		case KindProfileNotFound:
			logger.Warn("login_profile_link_missing",
				"role", attempt.Role,
				"identifier", attempt.Identifier,
				"err", le.Cause,
			)
		case KindSchemaViolation, KindUnavailable:
			logger.Error("login_failed", "kind", le.Kind, "err", le.Cause)
		}
		c.app.auditor.Record(ctx, attempt)
		return le
	}

	previous := c.sessions.Get()
	c.sessions.Set(next)
	if previous != nil && previous.Delegated != nil {
		if err := c.app.authenticator.revokeDelegated(context.WithoutCancel(ctx), *previous.Delegated); err != nil {
			logger.Warn("revoke_replaced_session_failed", "user_id", previous.Profile.ID, "err", err)
		}
	}

	attempt.Success = true
	attempt.UserID = next.Profile.ID
	c.app.auditor.Record(ctx, attempt)
	return nil
}

// SignOut revokes the delegated session, if any, then clears the slot. A
// failed revocation keeps the session. Signing out twice is a no-op.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.sessions.Get()
	if current == nil {
		return nil
	}
	if current.Delegated != nil {
		if err := c.app.authenticator.revokeDelegated(ctx, *current.Delegated); err != nil {
			return err
		}
	}
	c.sessions.Clear()
	return nil
}

// Refresh rotates the delegated tokens of the current session. A refresh the
// provider rejects signs the client out.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.sessions.Get()
	if current == nil {
		return ErrNotSignedIn
	}
	if current.Delegated == nil {
		return ErrNoDelegatedSession
	}
	next, err := c.app.authenticator.refreshDelegated(ctx, *current.Delegated)
	if errors.Is(err, backend.ErrRejected) {
		c.sessions.Clear()
		return ErrNotSignedIn
	}
	if err != nil {
		return err
	}
	if next.UserID != current.Profile.ID {
		return fmt.Errorf("refreshed session belongs to %s, not %s", next.UserID, current.Profile.ID)
	}
	c.sessions.Set(session.Session{Profile: current.Profile, Delegated: &next})
	return nil
}
