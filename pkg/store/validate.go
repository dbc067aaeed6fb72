package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"schoollib/pkg/domain"
)

// ErrSchemaViolation marks a row that does not satisfy the expected shape.
var ErrSchemaViolation = errors.New("schema violation")

// SchemaError describes which row and field failed validation.
type SchemaError struct {
	Table  string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation: %s.%s %s", e.Table, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	return ErrSchemaViolation
}

func schemaErr(table, field, reason string) error {
	return &SchemaError{Table: table, Field: field, Reason: reason}
}

// ValidateProfile checks a profile row before it reaches business logic.
func ValidateProfile(p domain.Profile) error {
	if _, err := uuid.Parse(p.ID); err != nil {
		return schemaErr("profiles", "id", "is not a uuid")
	}
	if !p.Role.Valid() {
		return schemaErr("profiles", "role", fmt.Sprintf("has unknown value %q", p.Role))
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		return schemaErr("profiles", "display_name", "is empty")
	}
	if p.StaffID != nil && p.StudentID != nil {
		return schemaErr("profiles", "staff_id", "is set together with student_id")
	}
	if p.StaffID != nil && strings.TrimSpace(*p.StaffID) == "" {
		return schemaErr("profiles", "staff_id", "is blank")
	}
	if p.StudentID != nil && strings.TrimSpace(*p.StudentID) == "" {
		return schemaErr("profiles", "student_id", "is blank")
	}
	return nil
}

// ValidateRoleRecord checks a staff or student row.
func ValidateRoleRecord(table string, r domain.RoleRecord) error {
	if strings.TrimSpace(r.ID) == "" {
		return schemaErr(table, "id", "is empty")
	}
	if strings.TrimSpace(r.EnrollmentCode) == "" {
		return schemaErr(table, "enrollment_code", "is empty")
	}
	return nil
}

// ValidateAccount checks a delegated-provider account row.
func ValidateAccount(a domain.BackendAccount) error {
	if _, err := uuid.Parse(a.ID); err != nil {
		return schemaErr("backend_accounts", "id", "is not a uuid")
	}
	if strings.TrimSpace(a.Email) == "" {
		return schemaErr("backend_accounts", "email", "is empty")
	}
	if strings.TrimSpace(a.PasswordHash) == "" {
		return schemaErr("backend_accounts", "password_hash", "is empty")
	}
	return nil
}

func errAmbiguous(table, field string) error {
	return schemaErr(table, field, "matches more than one row")
}
