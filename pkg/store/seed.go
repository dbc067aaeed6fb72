package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"schoollib/pkg/auth"
	"schoollib/pkg/domain"
)

// SeedFile is the YAML layout accepted by SeedFromFile.
type SeedFile struct {
	Institution    string        `yaml:"institution"`
	StaffRecords   []seedRecord  `yaml:"staffRecords"`
	StudentRecords []seedRecord  `yaml:"studentRecords"`
	Profiles       []seedProfile `yaml:"profiles"`
	Accounts       []seedAccount `yaml:"accounts"`
}

type seedRecord struct {
	ID             string `yaml:"id"`
	EnrollmentCode string `yaml:"enrollmentCode"`
	FullName       string `yaml:"fullName"`
	Department     string `yaml:"department"`
	GradeLevel     string `yaml:"gradeLevel"`
}

type seedProfile struct {
	ID           string `yaml:"id"`
	DisplayName  string `yaml:"displayName"`
	Role         string `yaml:"role"`
	StaffID      string `yaml:"staffId"`
	StudentID    string `yaml:"studentId"`
	EnrollmentID string `yaml:"enrollmentId"`
	Email        string `yaml:"email"`
	Credential   string `yaml:"credential"`

	// HashCredential stores the credential as a bcrypt hash instead of as given.
	HashCredential bool `yaml:"hashCredential"`
}

type seedAccount struct {
	ID       string `yaml:"id"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Disabled bool   `yaml:"disabled"`
}

// SeedSummary counts the rows written by a seed run.
type SeedSummary struct {
	StaffRecords   int
	StudentRecords int
	Profiles       int
	Accounts       int
}

// SeedFromFile provisions role records, profiles and provider accounts from
// a YAML file. Existing rows with the same id are replaced.
func SeedFromFile(ctx context.Context, s Seeder, path string) (SeedSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedSummary{}, err
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return SeedSummary{}, fmt.Errorf("parse seed file: %w", err)
	}
	return Seed(ctx, s, f)
}

// Seed writes the contents of f through s.
func Seed(ctx context.Context, s Seeder, f SeedFile) (SeedSummary, error) {
	var sum SeedSummary
	now := time.Now().UTC()
	for _, r := range f.StaffRecords {
		rec := domain.StaffRecord{RoleRecord: seedRoleRecord(f.Institution, r, now), Department: r.Department}
		if err := s.SaveStaffRecord(ctx, rec); err != nil {
			return sum, fmt.Errorf("staff record %q: %w", r.EnrollmentCode, err)
		}
		sum.StaffRecords++
	}
	for _, r := range f.StudentRecords {
		rec := domain.StudentRecord{RoleRecord: seedRoleRecord(f.Institution, r, now), GradeLevel: r.GradeLevel}
		if err := s.SaveStudentRecord(ctx, rec); err != nil {
			return sum, fmt.Errorf("student record %q: %w", r.EnrollmentCode, err)
		}
		sum.StudentRecords++
	}
	for _, p := range f.Profiles {
		credential := p.Credential
		if p.HashCredential && credential != "" {
			hashed, err := auth.HashPassword(credential)
			if err != nil {
				return sum, fmt.Errorf("profile %q: %w", p.ID, err)
			}
			credential = hashed
		}
		profile := domain.Profile{
			ID:            p.ID,
			DisplayName:   p.DisplayName,
			Role:          domain.Role(strings.TrimSpace(p.Role)),
			StaffID:       optional(p.StaffID),
			StudentID:     optional(p.StudentID),
			EnrollmentID:  optional(p.EnrollmentID),
			Email:         strings.ToLower(strings.TrimSpace(p.Email)),
			Credential:    credential,
			InstitutionID: f.Institution,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.SaveProfile(ctx, profile); err != nil {
			return sum, fmt.Errorf("profile %q: %w", p.ID, err)
		}
		sum.Profiles++
	}
	for _, a := range f.Accounts {
		if err := auth.ValidatePassword(a.Password); err != nil {
			return sum, fmt.Errorf("account %q: %w", a.Email, err)
		}
		hash, err := auth.HashPassword(a.Password)
		if err != nil {
			return sum, fmt.Errorf("account %q: %w", a.Email, err)
		}
		account := domain.BackendAccount{
			ID:           a.ID,
			Email:        strings.ToLower(strings.TrimSpace(a.Email)),
			PasswordHash: hash,
			Disabled:     a.Disabled,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.SaveAccount(ctx, account); err != nil {
			return sum, fmt.Errorf("account %q: %w", a.Email, err)
		}
		sum.Accounts++
	}
	return sum, nil
}

func seedRoleRecord(institution string, r seedRecord, now time.Time) domain.RoleRecord {
	return domain.RoleRecord{
		ID:             r.ID,
		InstitutionID:  institution,
		EnrollmentCode: r.EnrollmentCode,
		FullName:       r.FullName,
		CreatedAt:      now,
	}
}

func optional(v string) *string {
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	return &v
}
