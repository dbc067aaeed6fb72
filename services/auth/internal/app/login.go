package app

import (
	"strings"

	"schoollib/pkg/domain"
)

// LoginRequest is one of LibrarianLogin, StaffLogin or StudentLogin.
type LoginRequest interface {
	// Identifier is the value recorded in the audit log.
	Identifier() string
	Role() domain.Role
	secret() string
}

// LibrarianLogin signs in with an email through the delegated provider.
type LibrarianLogin struct {
	Email    string
	Password string
}

// StaffLogin signs in with an enrollment code; the password is checked by the
// delegated provider against the linked profile's email.
type StaffLogin struct {
	EnrollmentCode string
	Password       string
}

// StudentLogin signs in with an enrollment code and the stored credential.
type StudentLogin struct {
	EnrollmentCode string
	Password       string
}

// Identifier returns the normalized email.
func (r LibrarianLogin) Identifier() string { return normalizeEmail(r.Email) }
func (r LibrarianLogin) Role() domain.Role  { return domain.RoleLibrarian }
func (r LibrarianLogin) secret() string     { return r.Password }

func (r StaffLogin) Identifier() string { return r.EnrollmentCode }
func (r StaffLogin) Role() domain.Role  { return domain.RoleStaff }
func (r StaffLogin) secret() string     { return r.Password }

func (r StudentLogin) Identifier() string { return r.EnrollmentCode }
func (r StudentLogin) Role() domain.Role  { return domain.RoleStudent }
func (r StudentLogin) secret() string     { return r.Password }

// ParseLoginRequest builds the request variant for role. Enrollment codes and
// passwords are kept exactly as supplied.
func ParseLoginRequest(identifier, password, role string) (LoginRequest, error) {
	if strings.TrimSpace(identifier) == "" || password == "" {
		return nil, ErrIdentifierAndPasswordRequired
	}
	switch domain.Role(strings.ToLower(strings.TrimSpace(role))) {
	case domain.RoleLibrarian:
		return LibrarianLogin{Email: identifier, Password: password}, nil
	case domain.RoleStaff:
		return StaffLogin{EnrollmentCode: identifier, Password: password}, nil
	case domain.RoleStudent:
		return StudentLogin{EnrollmentCode: identifier, Password: password}, nil
	default:
		return nil, ErrUnsupportedRole
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
