package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"schoollib/pkg/auth"
	"schoollib/pkg/domain"
)

const seedYAML = `
institution: north-high
studentRecords:
  - id: rec-s-3
    enrollmentCode: S0003
    fullName: Ada Park
    gradeLevel: "10"
staffRecords:
  - id: rec-t-1
    enrollmentCode: T0001
    fullName: Lin Okafor
profiles:
  - id: 4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a03
    displayName: Ada Park
    role: student
    studentId: rec-s-3
    enrollmentId: S0003
    credential: "*Zy5C^LemK$6"
  - id: 4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a04
    displayName: Lin Okafor
    role: staff
    staffId: rec-t-1
    email: Lin@North.test
    credential: "Desk-Pass-2026!"
    hashCredential: true
accounts:
  - id: 4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a04
    email: lin@north.test
    password: "Desk-Pass-2026!"
`

func TestSeedFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	s := NewMemoryStore()
	sum, err := SeedFromFile(ctx, s, path)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if sum != (SeedSummary{StaffRecords: 1, StudentRecords: 1, Profiles: 2, Accounts: 1}) {
		t.Fatalf("unexpected summary %+v", sum)
	}

	student, ok, _ := s.GetProfileByID(ctx, "4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a03")
	if !ok || student.Credential != "*Zy5C^LemK$6" || student.InstitutionID != "north-high" {
		t.Fatalf("unexpected student profile %+v", student)
	}
	if student.StaffID != nil || student.StudentID == nil || *student.StudentID != "rec-s-3" {
		t.Fatalf("unexpected linkage %+v", student)
	}
	staff, ok, _ := s.GetProfileByID(ctx, "4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a04")
	if !ok || staff.Email != "lin@north.test" || !auth.IsHash(staff.Credential) {
		t.Fatalf("unexpected staff profile %+v", staff)
	}
	account, ok, _ := s.GetAccountByEmail(ctx, "lin@north.test")
	if !ok || !auth.CheckPassword("Desk-Pass-2026!", account.PasswordHash) {
		t.Fatalf("unexpected account %+v", account)
	}
	if rec, ok, _ := s.GetStudentRecordByCode(ctx, "S0003"); !ok || rec.GradeLevel != "10" {
		t.Fatalf("unexpected student record %+v", rec)
	}
}

func TestSeedRejectsWeakAccountPassword(t *testing.T) {
	_, err := Seed(context.Background(), NewMemoryStore(), SeedFile{
		Accounts: []seedAccount{{ID: "4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a05", Email: "x@y.test", Password: "short"}},
	})
	if err == nil {
		t.Fatalf("expected weak password to be rejected")
	}
}

func TestSeedRejectsMalformedProfile(t *testing.T) {
	_, err := Seed(context.Background(), NewMemoryStore(), SeedFile{
		Profiles: []seedProfile{{ID: "not-a-uuid", DisplayName: "X", Role: string(domain.RoleStudent)}},
	})
	if err == nil {
		t.Fatalf("expected malformed profile to be rejected")
	}
}
