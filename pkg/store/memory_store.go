package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoollib/pkg/domain"
)

// MemoryStore keeps identity rows in-process for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile // key: profile ID
	orders   []string                  // profile insertion order
	staff    map[string]domain.StaffRecord   // key: institution + code
	students map[string]domain.StudentRecord // key: institution + code
	audit    []domain.LoginAuditEntry
	accounts map[string]domain.BackendAccount // key: email
	now      func() time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]domain.Profile),
		staff:    make(map[string]domain.StaffRecord),
		students: make(map[string]domain.StudentRecord),
		accounts: make(map[string]domain.BackendAccount),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// SaveProfile stores or replaces a profile.
func (m *MemoryStore) SaveProfile(_ context.Context, p domain.Profile) error {
	if err := ValidateProfile(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.profiles[p.ID]; !exists {
		m.orders = append(m.orders, p.ID)
	}
	m.profiles[p.ID] = p
	return nil
}

// SaveStaffRecord stores or replaces a staff record keyed by institution and
// enrollment code.
func (m *MemoryStore) SaveStaffRecord(_ context.Context, r domain.StaffRecord) error {
	if err := ValidateRoleRecord("staff_records", r.RoleRecord); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[recordKey(r.RoleRecord)] = r
	return nil
}

// SaveStudentRecord stores or replaces a student record keyed by institution
// and enrollment code.
func (m *MemoryStore) SaveStudentRecord(_ context.Context, r domain.StudentRecord) error {
	if err := ValidateRoleRecord("student_records", r.RoleRecord); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[recordKey(r.RoleRecord)] = r
	return nil
}

// GetStaffRecordByCode matches the exact code across institutions; a code
// held by more than one institution is ambiguous.
func (m *MemoryStore) GetStaffRecordByCode(_ context.Context, code string) (domain.StaffRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return findRecord(m.staff, "staff_records", code, func(r domain.StaffRecord) string { return r.EnrollmentCode })
}

func (m *MemoryStore) GetStudentRecordByCode(_ context.Context, code string) (domain.StudentRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return findRecord(m.students, "student_records", code, func(r domain.StudentRecord) string { return r.EnrollmentCode })
}

func recordKey(r domain.RoleRecord) string {
	return r.InstitutionID + "|" + r.EnrollmentCode
}

func findRecord[T any](records map[string]T, table, code string, codeOf func(T) string) (T, bool, error) {
	var (
		found T
		n     int
	)
	for _, r := range records {
		if codeOf(r) != code {
			continue
		}
		n++
		if n > 1 {
			var zero T
			return zero, false, errAmbiguous(table, "enrollment_code")
		}
		found = r
	}
	return found, n == 1, nil
}

func (m *MemoryStore) GetProfileByID(_ context.Context, id string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

// FindProfileByEnrollment matches enrollment code case-insensitively.
func (m *MemoryStore) FindProfileByEnrollment(_ context.Context, code string, role domain.Role) (domain.Profile, bool, error) {
	return m.findOne("enrollment_id", func(p domain.Profile) bool {
		return p.Role == role && p.EnrollmentID != nil && strings.EqualFold(*p.EnrollmentID, code)
	})
}

// FindProfileByLinkage matches the role-specific linkage id.
func (m *MemoryStore) FindProfileByLinkage(_ context.Context, recordID string, role domain.Role) (domain.Profile, bool, error) {
	column, err := linkageColumn(role)
	if err != nil {
		return domain.Profile{}, false, err
	}
	return m.findOne(column, func(p domain.Profile) bool {
		return p.Role == role && p.LinkageID() == recordID
	})
}

func (m *MemoryStore) findOne(field string, match func(domain.Profile) bool) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		found domain.Profile
		n     int
	)
	for _, id := range m.orders {
		p := m.profiles[id]
		if !match(p) {
			continue
		}
		n++
		if n > 1 {
			return domain.Profile{}, false, errAmbiguous("profiles", field)
		}
		found = p
	}
	return found, n == 1, nil
}

// AppendLoginAudit records one attempt and assigns its timestamp.
func (m *MemoryStore) AppendLoginAudit(_ context.Context, entry domain.LoginAuditEntry) (domain.LoginAuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = m.now()
	if entry.UserID != nil {
		uid := *entry.UserID
		entry.UserID = &uid
	}
	m.audit = append(m.audit, entry)
	return entry, nil
}

// ListLoginAudit returns the newest entries first.
func (m *MemoryStore) ListLoginAudit(_ context.Context, filter AuditFilter) ([]domain.LoginAuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := normalizeAuditLimit(filter.Limit)
	out := make([]domain.LoginAuditEntry, 0, min(limit, len(m.audit)))
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.audit[i]
		if filter.Identifier != "" && e.IdentifierUsed != filter.Identifier {
			continue
		}
		if filter.UserID != "" && (e.UserID == nil || *e.UserID != filter.UserID) {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// SaveAccount stores or replaces a delegated-provider account.
func (m *MemoryStore) SaveAccount(_ context.Context, a domain.BackendAccount) error {
	if err := ValidateAccount(a); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for email, existing := range m.accounts {
		if existing.ID == a.ID && email != a.Email {
			delete(m.accounts, email)
		}
	}
	m.accounts[a.Email] = a
	return nil
}

func (m *MemoryStore) GetAccountByEmail(_ context.Context, email string) (domain.BackendAccount, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[email]
	return a, ok, nil
}
