package app

import (
	"context"
	"fmt"
	"strings"

	"schoollib/pkg/domain"
	"schoollib/pkg/store"
)

// Resolution is the outcome of identity resolution. Librarians are resolved
// by the provider exchange, so only Email is set for them.
type Resolution struct {
	Request LoginRequest
	Email   string
	Profile *domain.Profile
	Record  *domain.RoleRecord
}

// Resolver maps an identifier to a profile without touching credentials.
type Resolver struct {
	store store.Store
}

// NewResolver returns a resolver reading from s.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve finds the profile referenced by req.
//
// Role records are matched on the exact enrollment code while profiles are
// matched case-insensitively, then by linkage id. A record without a profile
// resolves to ProfileNotFound so it can be repaired by hand.
func (r *Resolver) Resolve(ctx context.Context, req LoginRequest) (Resolution, error) {
	switch req := req.(type) {
	case LibrarianLogin:
		return Resolution{Request: req, Email: req.Identifier()}, nil
	case StaffLogin:
		record, ok, err := r.store.GetStaffRecordByCode(ctx, req.EnrollmentCode)
		if err != nil {
			return Resolution{}, classify(fmt.Errorf("fetch staff record: %w", err))
		}
		if !ok {
			return Resolution{}, fail(KindUnknownIdentifier, nil)
		}
		return r.resolveRecord(ctx, req, record.RoleRecord)
	case StudentLogin:
		record, ok, err := r.store.GetStudentRecordByCode(ctx, req.EnrollmentCode)
		if err != nil {
			return Resolution{}, classify(fmt.Errorf("fetch student record: %w", err))
		}
		if !ok {
			return Resolution{}, fail(KindUnknownIdentifier, nil)
		}
		return r.resolveRecord(ctx, req, record.RoleRecord)
	default:
		return Resolution{}, ErrUnsupportedRole
	}
}

func (r *Resolver) resolveRecord(ctx context.Context, req LoginRequest, record domain.RoleRecord) (Resolution, error) {
	role := req.Role()
	code := req.Identifier()
	profile, ok, err := r.store.FindProfileByEnrollment(ctx, code, role)
	if err != nil {
		return Resolution{}, classify(fmt.Errorf("find profile by enrollment: %w", err))
	}
	if !ok {
		profile, ok, err = r.store.FindProfileByLinkage(ctx, record.ID, role)
		if err != nil {
			return Resolution{}, classify(fmt.Errorf("find profile by linkage: %w", err))
		}
	}
	if !ok {
		return Resolution{}, fail(KindProfileNotFound, fmt.Errorf("%s record %s has no linked profile", role, record.ID))
	}
	if err := checkResolved(profile, record, code, role); err != nil {
		return Resolution{}, fail(KindSchemaViolation, err)
	}
	return Resolution{Request: req, Email: profile.Email, Profile: &profile, Record: &record}, nil
}

func checkResolved(p domain.Profile, record domain.RoleRecord, code string, role domain.Role) error {
	if p.Role != role {
		return fmt.Errorf("profile %s has role %s, resolved as %s", p.ID, p.Role, role)
	}
	if p.LinkageID() == record.ID {
		return nil
	}
	if p.EnrollmentID != nil && strings.EqualFold(*p.EnrollmentID, code) {
		return nil
	}
	return fmt.Errorf("profile %s is not linked to %s record %s", p.ID, role, record.ID)
}
