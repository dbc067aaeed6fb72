package app

import (
	"context"
	"errors"
	"net"

	"schoollib/pkg/store"
)

// Sentinel errors carry the message shown to the desk user. Match them with
// errors.Is against the *LoginError returned by SignIn.
var (
	ErrUnknownIdentifier = errors.New("No account matches that enrollment code")
	// ErrProfileNotFound means the role record exists but no profile is linked
	// to it. Library staff must repair the link.
	ErrProfileNotFound      = errors.New("This account is not set up for sign-in yet. Ask the library to link your profile")
	ErrRoleMismatch         = errors.New("This account cannot sign in with the selected role")
	ErrInvalidPassword      = errors.New("Incorrect password")
	ErrAuthenticationFailed = errors.New("Incorrect email address or password")
	ErrTimeout              = errors.New("Sign-in took too long. Please try again")
	ErrSchemaViolation      = errors.New("Account data is malformed. Contact the library")
	ErrUnavailable          = errors.New("Sign-in is temporarily unavailable")

	// ErrAuditWriteFailed is logged by the auditor and never returned to callers.
	ErrAuditWriteFailed = errors.New("login audit write failed")

	ErrIdentifierAndPasswordRequired = errors.New("identifier and password required")
	ErrUnsupportedRole               = errors.New("role must be librarian, staff or student")
	ErrNotSignedIn                   = errors.New("not signed in")
	ErrNoDelegatedSession            = errors.New("this session cannot be refreshed")
	ErrAuditAccessDenied             = errors.New("audit review requires a librarian")
)

// Kind is the stable machine name of a sign-in failure.
type Kind string

const (
	KindUnknownIdentifier    Kind = "unknown_identifier"
	KindProfileNotFound      Kind = "profile_not_found"
	KindRoleMismatch         Kind = "role_mismatch"
	KindInvalidPassword      Kind = "invalid_password"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindTimeout              Kind = "timeout"
	KindSchemaViolation      Kind = "schema_violation"
	KindUnavailable          Kind = "unavailable"
	// Recorded by the HTTP layer for attempts it refuses before sign-in.
	KindRateLimited    Kind = "rate_limited"
	KindInvalidRequest Kind = "invalid_request"
)

var kindSentinels = map[Kind]error{
	KindUnknownIdentifier:    ErrUnknownIdentifier,
	KindProfileNotFound:      ErrProfileNotFound,
	KindRoleMismatch:         ErrRoleMismatch,
	KindInvalidPassword:      ErrInvalidPassword,
	KindAuthenticationFailed: ErrAuthenticationFailed,
	KindTimeout:              ErrTimeout,
	KindSchemaViolation:      ErrSchemaViolation,
	KindUnavailable:          ErrUnavailable,
}

// LoginError is the typed failure returned by SignIn.
type LoginError struct {
	Kind Kind
	// Cause is the underlying store or provider error, if any. It is logged,
	// never shown.
	Cause error

	userID string
}

// UserID is the provider user confirmed before the attempt failed, if any.
func (e *LoginError) UserID() string {
	return e.userID
}

func (e *LoginError) Error() string {
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		return sentinel.Error()
	}
	return string(e.Kind)
}

// Unwrap exposes both the sentinel for the kind and the cause.
func (e *LoginError) Unwrap() []error {
	out := make([]error, 0, 2)
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		out = append(out, sentinel)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

func fail(kind Kind, cause error) *LoginError {
	return &LoginError{Kind: kind, Cause: cause}
}

// KindOf returns the kind of a sign-in error, or "" for nil and foreign errors.
func KindOf(err error) Kind {
	var le *LoginError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// classify maps a store or provider error that is not a rejection.
func classify(err error) *LoginError {
	var le *LoginError
	if errors.As(err, &le) {
		return le
	}
	if isTimeout(err) {
		return fail(KindTimeout, err)
	}
	if errors.Is(err, store.ErrSchemaViolation) {
		return fail(KindSchemaViolation, err)
	}
	return fail(KindUnavailable, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
