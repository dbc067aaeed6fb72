package domain

import "time"

// Role is the coarse identity class of a profile.
type Role string

const (
	RoleLibrarian  Role = "librarian"
	RoleStaff      Role = "staff"
	RoleStudent    Role = "student"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleLibrarian, RoleStaff, RoleStudent, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// Profile is the unified identity record spanning every role.
type Profile struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"displayName"`
	Role          Role      `json:"role"`
	StaffID       *string   `json:"staffId,omitempty"`
	StudentID     *string   `json:"studentId,omitempty"`
	EnrollmentID  *string   `json:"enrollmentId,omitempty"`
	Email         string    `json:"email,omitempty"`
	Credential    string    `json:"-"`
	InstitutionID string    `json:"institutionId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// LinkageID returns the role-specific record id the profile points at, if any.
func (p Profile) LinkageID() string {
	switch p.Role {
	case RoleStaff:
		if p.StaffID != nil {
			return *p.StaffID
		}
	case RoleStudent:
		if p.StudentID != nil {
			return *p.StudentID
		}
	}
	return ""
}

// RoleRecord is a staff or student row keyed by an institution-scoped
// enrollment code. It exists independently of any Profile.
type RoleRecord struct {
	ID             string    `json:"id"`
	InstitutionID  string    `json:"institutionId"`
	EnrollmentCode string    `json:"enrollmentCode"`
	FullName       string    `json:"fullName"`
	CreatedAt      time.Time `json:"createdAt"`
}

// StaffRecord is a role record from the staff table.
type StaffRecord struct {
	RoleRecord
	Department string `json:"department,omitempty"`
}

// StudentRecord is a role record from the student table.
type StudentRecord struct {
	RoleRecord
	GradeLevel string `json:"gradeLevel,omitempty"`
}

// AuditMetadata is the request context captured with a login attempt.
type AuditMetadata struct {
	NetworkAddress string `json:"networkAddress,omitempty"`
	ClientString   string `json:"clientString,omitempty"`
	Location       string `json:"location,omitempty"`
	ClaimedRole    Role   `json:"claimedRole,omitempty"`
	FailureKind    string `json:"failureKind,omitempty"`
}

// LoginAuditEntry is one append-only record of an authentication attempt.
type LoginAuditEntry struct {
	ID             string        `json:"id"`
	CreatedAt      time.Time     `json:"createdAt"`
	IdentifierUsed string        `json:"identifierUsed"`
	UserID         *string       `json:"userId,omitempty"`
	Success        bool          `json:"success"`
	Metadata       AuditMetadata `json:"metadata"`
}

// BackendAccount is a credential row owned by the self-hosted delegated
// auth provider. Its ID is the profile id the provider confirms on exchange.
type BackendAccount struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
