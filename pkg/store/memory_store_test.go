package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"schoollib/pkg/domain"
)

func strptr(s string) *string { return &s }

func TestMemoryStoreProfileLookups(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	student := domain.Profile{
		ID:           "4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a01",
		DisplayName:  "Ada Student",
		Role:         domain.RoleStudent,
		StudentID:    strptr("rec-s-1"),
		EnrollmentID: strptr("S0003"),
	}
	linkedOnly := domain.Profile{
		ID:          "4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a02",
		DisplayName: "Lin Staff",
		Role:        domain.RoleStaff,
		StaffID:     strptr("rec-t-1"),
	}
	for _, p := range []domain.Profile{student, linkedOnly} {
		if err := s.SaveProfile(ctx, p); err != nil {
			t.Fatalf("save profile: %v", err)
		}
	}

	got, ok, err := s.FindProfileByEnrollment(ctx, "s0003", domain.RoleStudent)
	if err != nil || !ok || got.ID != student.ID {
		t.Fatalf("case-insensitive enrollment lookup: ok=%v err=%v got=%+v", ok, err, got)
	}
	if _, ok, _ := s.FindProfileByEnrollment(ctx, "S0003", domain.RoleStaff); ok {
		t.Fatalf("enrollment lookup must respect role")
	}
	got, ok, err = s.FindProfileByLinkage(ctx, "rec-t-1", domain.RoleStaff)
	if err != nil || !ok || got.ID != linkedOnly.ID {
		t.Fatalf("linkage lookup: ok=%v err=%v got=%+v", ok, err, got)
	}
	if _, _, err := s.FindProfileByLinkage(ctx, "rec-t-1", domain.RoleLibrarian); err == nil {
		t.Fatalf("librarian has no linkage column")
	}
}

func TestMemoryStoreAmbiguousEnrollmentIsSchemaViolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i, id := range []string{"4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a11", "4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a12"} {
		code := []string{"S0010", "s0010"}[i]
		if err := s.SaveProfile(ctx, domain.Profile{
			ID:           id,
			DisplayName:  "Twin",
			Role:         domain.RoleStudent,
			EnrollmentID: strptr(code),
		}); err != nil {
			t.Fatalf("save profile: %v", err)
		}
	}
	_, _, err := s.FindProfileByEnrollment(ctx, "S0010", domain.RoleStudent)
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected schema violation, got %v", err)
	}
}

func TestMemoryStoreRoleRecordsAreCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := domain.StudentRecord{RoleRecord: domain.RoleRecord{ID: "rec-s-1", EnrollmentCode: "S0003"}}
	if err := s.SaveStudentRecord(ctx, rec); err != nil {
		t.Fatalf("save record: %v", err)
	}
	if _, ok, _ := s.GetStudentRecordByCode(ctx, "S0003"); !ok {
		t.Fatalf("expected exact match")
	}
	if _, ok, _ := s.GetStudentRecordByCode(ctx, "s0003"); ok {
		t.Fatalf("role record lookup must be case-sensitive")
	}
	if _, ok, _ := s.GetStaffRecordByCode(ctx, "S0003"); ok {
		t.Fatalf("student code must not resolve as staff")
	}
}

func TestMemoryStoreRoleRecordCodeSharedAcrossInstitutions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, rec := range []domain.RoleRecord{
		{ID: "north-1", InstitutionID: "north", EnrollmentCode: "S0003"},
		{ID: "south-1", InstitutionID: "south", EnrollmentCode: "S0003"},
		{ID: "south-2", InstitutionID: "south", EnrollmentCode: "S0004"},
	} {
		if err := s.SaveStudentRecord(ctx, domain.StudentRecord{RoleRecord: rec}); err != nil {
			t.Fatalf("save record %s: %v", rec.ID, err)
		}
	}
	if _, ok, err := s.GetStudentRecordByCode(ctx, "S0003"); ok || !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected ambiguous code to be a schema violation, got ok=%v err=%v", ok, err)
	}
	got, ok, err := s.GetStudentRecordByCode(ctx, "S0004")
	if err != nil || !ok || got.ID != "south-2" {
		t.Fatalf("unexpected lookup result: %+v ok=%v err=%v", got, ok, err)
	}

	// Saving the same institution and code again replaces the row.
	if err := s.SaveStudentRecord(ctx, domain.StudentRecord{RoleRecord: domain.RoleRecord{ID: "south-2b", InstitutionID: "south", EnrollmentCode: "S0004"}}); err != nil {
		t.Fatalf("resave record: %v", err)
	}
	if got, _, _ := s.GetStudentRecordByCode(ctx, "S0004"); got.ID != "south-2b" {
		t.Fatalf("expected replaced record, got %s", got.ID)
	}
}

func TestMemoryStoreAuditAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	uid := "4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a01"
	inputs := []domain.LoginAuditEntry{
		{IdentifierUsed: "S0003", Success: false},
		{IdentifierUsed: "S0003", UserID: &uid, Success: true},
		{IdentifierUsed: "lib@school.test", Success: false},
	}
	for _, in := range inputs {
		out, err := s.AppendLoginAudit(ctx, in)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if out.ID == "" || out.CreatedAt.IsZero() {
			t.Fatalf("expected id and server timestamp, got %+v", out)
		}
	}

	all, err := s.ListLoginAudit(ctx, AuditFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].IdentifierUsed != "lib@school.test" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	byID, _ := s.ListLoginAudit(ctx, AuditFilter{Identifier: "S0003", Limit: 1})
	if len(byID) != 1 || !byID[0].Success {
		t.Fatalf("expected latest S0003 entry, got %+v", byID)
	}
	byUser, _ := s.ListLoginAudit(ctx, AuditFilter{UserID: uid})
	if len(byUser) != 1 {
		t.Fatalf("expected one entry for user, got %d", len(byUser))
	}
	since, _ := s.ListLoginAudit(ctx, AuditFilter{Since: base.Add(2 * time.Minute)})
	if len(since) != 2 {
		t.Fatalf("expected two entries since cutoff, got %d", len(since))
	}
}

func TestValidateProfile(t *testing.T) {
	good := domain.Profile{ID: "4f5b0f0e-8a53-4c43-9d6e-0d0b7b0c0a01", DisplayName: "Ada", Role: domain.RoleStudent}
	if err := ValidateProfile(good); err != nil {
		t.Fatalf("expected valid profile, got %v", err)
	}
	cases := map[string]func(*domain.Profile){
		"bad id":        func(p *domain.Profile) { p.ID = "42" },
		"unknown role":  func(p *domain.Profile) { p.Role = "janitor" },
		"empty name":    func(p *domain.Profile) { p.DisplayName = " " },
		"both linkages": func(p *domain.Profile) { p.StaffID, p.StudentID = strptr("a"), strptr("b") },
		"blank linkage": func(p *domain.Profile) { p.StudentID = strptr("") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := good
			mutate(&p)
			err := ValidateProfile(p)
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) || !errors.Is(err, ErrSchemaViolation) {
				t.Fatalf("expected schema error, got %v", err)
			}
		})
	}
}
