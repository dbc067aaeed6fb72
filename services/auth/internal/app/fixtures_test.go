package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"schoollib/pkg/backend"
	"schoollib/pkg/domain"
	"schoollib/pkg/store"
)

const (
	studentProfileID  = "0b6f3c1e-1111-4a5b-8c9d-000000000003"
	linkedProfileID   = "0b6f3c1e-1111-4a5b-8c9d-000000000008"
	staffProfileID    = "0b6f3c1e-2222-4a5b-8c9d-000000000100"
	noEmailProfileID  = "0b6f3c1e-2222-4a5b-8c9d-000000000200"
	librarianID       = "0b6f3c1e-3333-4a5b-8c9d-000000000001"
	notLibrarianID    = "0b6f3c1e-3333-4a5b-8c9d-000000000002"
	missingProviderID = "0b6f3c1e-3333-4a5b-8c9d-000000000009"

	studentSecret   = "*Zy5C^LemK$6"
	staffPassword   = "Chalk-Dust-42!"
	libraryPassword = "Quiet-Stacks-7?"
)

type fakeUser struct {
	id       string
	password string
}

type fakeProvider struct {
	mu        sync.Mutex
	users     map[string]fakeUser
	active    map[string]bool
	issued    []backend.DelegatedSession
	revoked   []string
	exchanges int
	seq       int

	block     bool
	revokeErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		users: map[string]fakeUser{
			"lib@north.test":    {id: librarianID, password: libraryPassword},
			"mvell@north.test":  {id: staffProfileID, password: staffPassword},
			"notlib@north.test": {id: notLibrarianID, password: libraryPassword},
			"ghost@north.test":  {id: missingProviderID, password: libraryPassword},
		},
		active: make(map[string]bool),
	}
}

func (p *fakeProvider) Exchange(ctx context.Context, email, password string) (backend.DelegatedSession, error) {
	if p.block {
		<-ctx.Done()
		return backend.DelegatedSession{}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return backend.DelegatedSession{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges++
	u, ok := p.users[email]
	if !ok || u.password != password {
		return backend.DelegatedSession{}, fmt.Errorf("%w: invalid login credentials", backend.ErrRejected)
	}
	return p.issueLocked(u.id), nil
}

func (p *fakeProvider) issueLocked(userID string) backend.DelegatedSession {
	p.seq++
	ds := backend.DelegatedSession{
		UserID:       userID,
		AccessToken:  fmt.Sprintf("access-%d", p.seq),
		RefreshToken: fmt.Sprintf("refresh-%d", p.seq),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	p.active[ds.AccessToken] = true
	p.issued = append(p.issued, ds)
	return ds
}

func (p *fakeProvider) Revoke(_ context.Context, s backend.DelegatedSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.revokeErr != nil {
		return p.revokeErr
	}
	delete(p.active, s.AccessToken)
	p.revoked = append(p.revoked, s.AccessToken)
	return nil
}

func (p *fakeProvider) Active(_ context.Context, s backend.DelegatedSession) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[s.AccessToken], nil
}

func (p *fakeProvider) Refresh(_ context.Context, s backend.DelegatedSession) (backend.DelegatedSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active[s.AccessToken] {
		return backend.DelegatedSession{}, backend.ErrRejected
	}
	delete(p.active, s.AccessToken)
	return p.issueLocked(s.UserID), nil
}

func (p *fakeProvider) lastIssued(t *testing.T) backend.DelegatedSession {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.issued) == 0 {
		t.Fatalf("provider issued no session")
	}
	return p.issued[len(p.issued)-1]
}

func ptr(v string) *string { return &v }

// newLibraryStore seeds one institution with these cases:
//
//	S0003  student linked by enrollment id (stored lower-case)
//	S0007  student record with no profile
//	S0008  student linked by student_id only
//	T0100  staff with an email
//	T0200  staff without an email
func newLibraryStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Now().UTC()
	record := func(id, code, name string) domain.RoleRecord {
		return domain.RoleRecord{ID: id, InstitutionID: "north", EnrollmentCode: code, FullName: name, CreatedAt: now}
	}
	for _, r := range []domain.StudentRecord{
		{RoleRecord: record("stu-3", "S0003", "Ada Moss")},
		{RoleRecord: record("stu-7", "S0007", "Orphan Reed")},
		{RoleRecord: record("stu-8", "S0008", "Lin Park")},
	} {
		if err := s.SaveStudentRecord(ctx, r); err != nil {
			t.Fatalf("save student record: %v", err)
		}
	}
	for _, r := range []domain.StaffRecord{
		{RoleRecord: record("staff-100", "T0100", "Mara Vell"), Department: "Science"},
		{RoleRecord: record("staff-200", "T0200", "Noel Hart")},
	} {
		if err := s.SaveStaffRecord(ctx, r); err != nil {
			t.Fatalf("save staff record: %v", err)
		}
	}
	for _, p := range []domain.Profile{
		{ID: studentProfileID, DisplayName: "Ada Moss", Role: domain.RoleStudent, EnrollmentID: ptr("s0003"), Credential: studentSecret, InstitutionID: "north"},
		{ID: linkedProfileID, DisplayName: "Lin Park", Role: domain.RoleStudent, StudentID: ptr("stu-8"), Credential: "Plain-8", InstitutionID: "north"},
		{ID: staffProfileID, DisplayName: "Mara Vell", Role: domain.RoleStaff, StaffID: ptr("staff-100"), Email: "mvell@north.test", InstitutionID: "north"},
		{ID: noEmailProfileID, DisplayName: "Noel Hart", Role: domain.RoleStaff, StaffID: ptr("staff-200"), InstitutionID: "north"},
		{ID: librarianID, DisplayName: "Iris Cole", Role: domain.RoleLibrarian, Email: "lib@north.test", InstitutionID: "north"},
		{ID: notLibrarianID, DisplayName: "Otto Brand", Role: domain.RoleStaff, Email: "notlib@north.test", InstitutionID: "north"},
	} {
		p.CreatedAt, p.UpdatedAt = now, now
		if err := s.SaveProfile(ctx, p); err != nil {
			t.Fatalf("save profile %s: %v", p.ID, err)
		}
	}
	return s
}

func newTestApp(t *testing.T, s store.Store, provider backend.Provider) *App {
	t.Helper()
	a, err := New(Config{Store: s, Provider: provider, ProviderTimeout: time.Second, AuditTimeout: time.Second})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func auditFor(t *testing.T, s store.Store, identifier string) []domain.LoginAuditEntry {
	t.Helper()
	entries, err := s.ListLoginAudit(context.Background(), store.AuditFilter{Identifier: identifier})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return entries
}

type failingAuditStore struct {
	*store.MemoryStore
}

func (failingAuditStore) AppendLoginAudit(context.Context, domain.LoginAuditEntry) (domain.LoginAuditEntry, error) {
	return domain.LoginAuditEntry{}, fmt.Errorf("connection reset by peer")
}
