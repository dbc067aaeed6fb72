package store

import (
	"context"
	"time"

	"schoollib/pkg/domain"
)

// Store defines the row reads and appends used by the sign-in flow.
type Store interface {
	// role records
	GetStaffRecordByCode(ctx context.Context, code string) (domain.StaffRecord, bool, error)
	GetStudentRecordByCode(ctx context.Context, code string) (domain.StudentRecord, bool, error)

	// profiles
	GetProfileByID(ctx context.Context, id string) (domain.Profile, bool, error)
	FindProfileByEnrollment(ctx context.Context, code string, role domain.Role) (domain.Profile, bool, error)
	FindProfileByLinkage(ctx context.Context, recordID string, role domain.Role) (domain.Profile, bool, error)

	// login audit (append-only)
	AppendLoginAudit(ctx context.Context, entry domain.LoginAuditEntry) (domain.LoginAuditEntry, error)
	ListLoginAudit(ctx context.Context, filter AuditFilter) ([]domain.LoginAuditEntry, error)

	Ping(ctx context.Context) error
}

// AuditFilter narrows audit listings. Zero values mean "no filter".
type AuditFilter struct {
	Identifier string
	UserID     string
	Since      time.Time
	Limit      int
}

// AccountStore persists credentials for the self-hosted delegated provider.
type AccountStore interface {
	SaveAccount(ctx context.Context, account domain.BackendAccount) error
	GetAccountByEmail(ctx context.Context, email string) (domain.BackendAccount, bool, error)
}

// Seeder is implemented by stores that accept administrative provisioning.
// The sign-in flow never writes through it.
type Seeder interface {
	AccountStore
	SaveProfile(ctx context.Context, profile domain.Profile) error
	SaveStaffRecord(ctx context.Context, record domain.StaffRecord) error
	SaveStudentRecord(ctx context.Context, record domain.StudentRecord) error
}

// IssuedToken is a signed access token and its expiry.
type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// SessionStore issues and validates access tokens for the local provider.
type SessionStore interface {
	Issue(ctx context.Context, userID string) (IssuedToken, error)
	Verify(ctx context.Context, token string) (string, error)
	Revoke(ctx context.Context, token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user at or before a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string, since time.Time) error
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}

const defaultAuditLimit = 100

func normalizeAuditLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultAuditLimit
	}
	return limit
}
