package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schoollib/internal/util"
	"schoollib/pkg/auth"
	"schoollib/pkg/backend"
	"schoollib/pkg/domain"
	"schoollib/pkg/session"
	"schoollib/pkg/store"
)

const defaultProviderTimeout = 10 * time.Second

// Authenticator verifies the secret for a resolved identity.
type Authenticator struct {
	store    store.Store
	provider backend.Provider
	timeout  time.Duration
}

// NewAuthenticator builds an authenticator. timeout bounds each provider call;
// zero selects 10s.
func NewAuthenticator(s store.Store, provider backend.Provider, timeout time.Duration) *Authenticator {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &Authenticator{store: s, provider: provider, timeout: timeout}
}

// Authenticate returns the session to publish for res.
func (a *Authenticator) Authenticate(ctx context.Context, res Resolution) (session.Session, error) {
	switch req := res.Request.(type) {
	case LibrarianLogin:
		return a.delegated(ctx, res.Email, req.secret(), domain.RoleLibrarian, KindInvalidPassword, nil)
	case StaffLogin:
		email := ""
		if res.Profile != nil {
			email = normalizeEmail(res.Profile.Email)
		}
		if email == "" {
			return session.Session{}, fail(KindAuthenticationFailed, errors.New("staff profile has no email"))
		}
		return a.delegated(ctx, email, req.secret(), domain.RoleStaff, KindAuthenticationFailed, sameStaff(res))
	case StudentLogin:
		if res.Profile == nil {
			return session.Session{}, fail(KindProfileNotFound, nil)
		}
		if !auth.MatchStoredCredential(res.Profile.Credential, req.secret()) {
			return session.Session{}, fail(KindInvalidPassword, nil)
		}
		return session.Session{Profile: *res.Profile}, nil
	default:
		return session.Session{}, ErrUnsupportedRole
	}
}

// delegated exchanges the password and requires the confirmed profile to carry
// want and, when match is set, to pass it. Any failure after a successful
// exchange revokes the new session and names the provider user in the error.
func (a *Authenticator) delegated(ctx context.Context, email, password string, want domain.Role, rejected Kind, match func(domain.Profile) error) (session.Session, error) {
	if a.provider == nil {
		return session.Session{}, fail(KindUnavailable, errors.New("no auth provider configured"))
	}
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	ds, err := a.provider.Exchange(callCtx, email, password)
	cancel()
	if err != nil {
		if errors.Is(err, backend.ErrRejected) {
			return session.Session{}, fail(rejected, err)
		}
		return session.Session{}, classify(fmt.Errorf("exchange credentials: %w", err))
	}

	profile, lerr := a.confirm(ctx, ds.UserID, want, match)
	if lerr != nil {
		a.revoke(ctx, ds)
		lerr.userID = ds.UserID
		return session.Session{}, lerr
	}
	return session.Session{Profile: profile, Delegated: &ds}, nil
}

func (a *Authenticator) confirm(ctx context.Context, userID string, want domain.Role, match func(domain.Profile) error) (domain.Profile, *LoginError) {
	profile, ok, err := a.store.GetProfileByID(ctx, userID)
	switch {
	case err != nil:
		return domain.Profile{}, classify(fmt.Errorf("reload profile: %w", err))
	case !ok:
		return domain.Profile{}, fail(KindProfileNotFound, fmt.Errorf("no profile for provider user %s", userID))
	case profile.Role != want:
		return domain.Profile{}, fail(KindRoleMismatch, fmt.Errorf("profile %s has role %s, want %s", profile.ID, profile.Role, want))
	}
	if match != nil {
		if err := match(profile); err != nil {
			return domain.Profile{}, fail(KindSchemaViolation, err)
		}
	}
	return profile, nil
}

// sameStaff requires the provider to confirm the profile found for the staff
// record, or another profile linked to that same record.
func sameStaff(res Resolution) func(domain.Profile) error {
	return func(p domain.Profile) error {
		if res.Profile != nil && p.ID == res.Profile.ID {
			return nil
		}
		if res.Record == nil {
			return fmt.Errorf("provider confirmed profile %s without a staff record", p.ID)
		}
		if err := checkResolved(p, *res.Record, res.Request.Identifier(), domain.RoleStaff); err != nil {
			return fmt.Errorf("provider confirmed another staff account: %w", err)
		}
		return nil
	}
}

// revoke runs even when ctx is already cancelled.
func (a *Authenticator) revoke(ctx context.Context, ds backend.DelegatedSession) {
	revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	if err := a.provider.Revoke(revokeCtx, ds); err != nil {
		util.LoggerFromContext(ctx).Error("revoke_rejected_session_failed",
			"user_id", strings.TrimSpace(ds.UserID),
			"err", err,
		)
	}
}

// revokeDelegated is used by sign-out and returns the provider error.
func (a *Authenticator) revokeDelegated(ctx context.Context, ds backend.DelegatedSession) error {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.provider.Revoke(callCtx, ds); err != nil {
		if isTimeout(err) {
			return fail(KindTimeout, err)
		}
		return fmt.Errorf("revoke delegated session: %w", err)
	}
	return nil
}

// refreshDelegated rotates ds when the provider supports it.
func (a *Authenticator) refreshDelegated(ctx context.Context, ds backend.DelegatedSession) (backend.DelegatedSession, error) {
	refresher, ok := a.provider.(backend.Refresher)
	if !ok {
		return backend.DelegatedSession{}, ErrNoDelegatedSession
	}
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	next, err := refresher.Refresh(callCtx, ds)
	if err != nil {
		if errors.Is(err, backend.ErrRejected) {
			return backend.DelegatedSession{}, err
		}
		return backend.DelegatedSession{}, classify(fmt.Errorf("refresh delegated session: %w", err))
	}
	return next, nil
}
