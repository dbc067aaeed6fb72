package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"schoollib/pkg/domain"
)

const migrateLockID int64 = 51720417

// GormStore implements Store, AccountStore and Seeder using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&ProfileModel{},
			&StaffRecordModel{},
			&StudentRecordModel{},
			&LoginAuditModel{},
			&BackendAccountModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// Case-insensitive enrollment lookups on profiles.
		if err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_profiles_enrollment_lower ON profiles (LOWER(enrollment_id), role)`).Error; err != nil {
			return fmt.Errorf("create enrollment index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// GetStaffRecordByCode looks up a staff record by exact enrollment code. A
// code shared by two institutions is reported as ambiguous.
func (s *GormStore) GetStaffRecordByCode(ctx context.Context, code string) (domain.StaffRecord, bool, error) {
	var models []StaffRecordModel
	if err := s.db.WithContext(ctx).Where("enrollment_code = ?", code).Limit(2).Find(&models).Error; err != nil {
		return domain.StaffRecord{}, false, err
	}
	switch len(models) {
	case 0:
		return domain.StaffRecord{}, false, nil
	case 1:
	default:
		return domain.StaffRecord{}, false, errAmbiguous("staff_records", "enrollment_code")
	}
	record := staffFromModel(models[0])
	if err := ValidateRoleRecord("staff_records", record.RoleRecord); err != nil {
		return domain.StaffRecord{}, false, err
	}
	return record, true, nil
}

// GetStudentRecordByCode looks up a student record by exact enrollment code.
func (s *GormStore) GetStudentRecordByCode(ctx context.Context, code string) (domain.StudentRecord, bool, error) {
	var models []StudentRecordModel
	if err := s.db.WithContext(ctx).Where("enrollment_code = ?", code).Limit(2).Find(&models).Error; err != nil {
		return domain.StudentRecord{}, false, err
	}
	switch len(models) {
	case 0:
		return domain.StudentRecord{}, false, nil
	case 1:
	default:
		return domain.StudentRecord{}, false, errAmbiguous("student_records", "enrollment_code")
	}
	record := studentFromModel(models[0])
	if err := ValidateRoleRecord("student_records", record.RoleRecord); err != nil {
		return domain.StudentRecord{}, false, err
	}
	return record, true, nil
}

// GetProfileByID returns a profile by ID.
func (s *GormStore) GetProfileByID(ctx context.Context, id string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return validatedProfile(model)
}

// FindProfileByEnrollment matches enrollment code case-insensitively.
func (s *GormStore) FindProfileByEnrollment(ctx context.Context, code string, role domain.Role) (domain.Profile, bool, error) {
	return s.findOneProfile(ctx, "enrollment_id", "LOWER(enrollment_id) = LOWER(?) AND role = ?", code, string(role))
}

// FindProfileByLinkage matches the role-specific linkage column.
func (s *GormStore) FindProfileByLinkage(ctx context.Context, recordID string, role domain.Role) (domain.Profile, bool, error) {
	column, err := linkageColumn(role)
	if err != nil {
		return domain.Profile{}, false, err
	}
	return s.findOneProfile(ctx, column, column+" = ? AND role = ?", recordID, string(role))
}

func (s *GormStore) findOneProfile(ctx context.Context, field, query string, args ...any) (domain.Profile, bool, error) {
	var models []ProfileModel
	if err := s.db.WithContext(ctx).Where(query, args...).Order("created_at ASC").Limit(2).Find(&models).Error; err != nil {
		return domain.Profile{}, false, err
	}
	switch len(models) {
	case 0:
		return domain.Profile{}, false, nil
	case 1:
		return validatedProfile(models[0])
	default:
		return domain.Profile{}, false, errAmbiguous("profiles", field)
	}
}

// AppendLoginAudit inserts one audit row. The timestamp comes from the database.
func (s *GormStore) AppendLoginAudit(ctx context.Context, entry domain.LoginAuditEntry) (domain.LoginAuditEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return domain.LoginAuditEntry{}, fmt.Errorf("marshal audit metadata: %w", err)
	}
	model := LoginAuditModel{
		ID:             entry.ID,
		IdentifierUsed: entry.IdentifierUsed,
		UserID:         entry.UserID,
		Success:        entry.Success,
		Metadata:       meta,
	}
	if err := s.db.WithContext(ctx).Omit("recorded_at").Create(&model).Error; err != nil {
		return domain.LoginAuditEntry{}, err
	}
	if model.RecordedAt.IsZero() {
		if err := s.db.WithContext(ctx).Model(&LoginAuditModel{}).Select("recorded_at").Where("id = ?", model.ID).Scan(&model.RecordedAt).Error; err != nil {
			return domain.LoginAuditEntry{}, fmt.Errorf("read audit timestamp: %w", err)
		}
	}
	return auditFromModel(model), nil
}

// ListLoginAudit returns the newest audit rows first.
func (s *GormStore) ListLoginAudit(ctx context.Context, filter AuditFilter) ([]domain.LoginAuditEntry, error) {
	tx := s.db.WithContext(ctx).Model(&LoginAuditModel{})
	if id := strings.TrimSpace(filter.Identifier); id != "" {
		tx = tx.Where("identifier_used = ?", id)
	}
	if uid := strings.TrimSpace(filter.UserID); uid != "" {
		tx = tx.Where("user_id = ?", uid)
	}
	if !filter.Since.IsZero() {
		tx = tx.Where("recorded_at >= ?", filter.Since.UTC())
	}
	var models []LoginAuditModel
	if err := tx.Order("recorded_at DESC").Limit(normalizeAuditLimit(filter.Limit)).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.LoginAuditEntry, 0, len(models))
	for _, m := range models {
		out = append(out, auditFromModel(m))
	}
	return out, nil
}

// SaveAccount registers or updates a delegated-provider account.
func (s *GormStore) SaveAccount(ctx context.Context, a domain.BackendAccount) error {
	if err := ValidateAccount(a); err != nil {
		return err
	}
	model := BackendAccountModel{
		ID:           a.ID,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		Disabled:     a.Disabled,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "disabled", "updated_at"}),
	}).Create(&model).Error
}

// GetAccountByEmail looks up an account by normalized email.
func (s *GormStore) GetAccountByEmail(ctx context.Context, email string) (domain.BackendAccount, bool, error) {
	var model BackendAccountModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.BackendAccount{}, false, nil
		}
		return domain.BackendAccount{}, false, err
	}
	account := domain.BackendAccount{
		ID:           model.ID,
		Email:        model.Email,
		PasswordHash: model.PasswordHash,
		Disabled:     model.Disabled,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
	if err := ValidateAccount(account); err != nil {
		return domain.BackendAccount{}, false, err
	}
	return account, true, nil
}

// SaveProfile registers or updates a profile.
func (s *GormStore) SaveProfile(ctx context.Context, p domain.Profile) error {
	if err := ValidateProfile(p); err != nil {
		return err
	}
	model := profileToModel(p)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "role", "staff_id", "student_id", "enrollment_id",
			"email", "password", "institution_id", "updated_at",
		}),
	}).Create(&model).Error
}

// SaveStaffRecord registers or updates a staff record.
func (s *GormStore) SaveStaffRecord(ctx context.Context, r domain.StaffRecord) error {
	if err := ValidateRoleRecord("staff_records", r.RoleRecord); err != nil {
		return err
	}
	model := StaffRecordModel{
		ID:             r.ID,
		InstitutionID:  r.InstitutionID,
		EnrollmentCode: r.EnrollmentCode,
		FullName:       r.FullName,
		Department:     r.Department,
		CreatedAt:      r.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"institution_id", "enrollment_code", "full_name", "department"}),
	}).Create(&model).Error
}

// SaveStudentRecord registers or updates a student record.
func (s *GormStore) SaveStudentRecord(ctx context.Context, r domain.StudentRecord) error {
	if err := ValidateRoleRecord("student_records", r.RoleRecord); err != nil {
		return err
	}
	model := StudentRecordModel{
		ID:             r.ID,
		InstitutionID:  r.InstitutionID,
		EnrollmentCode: r.EnrollmentCode,
		FullName:       r.FullName,
		GradeLevel:     r.GradeLevel,
		CreatedAt:      r.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"institution_id", "enrollment_code", "full_name", "grade_level"}),
	}).Create(&model).Error
}

func linkageColumn(role domain.Role) (string, error) {
	switch role {
	case domain.RoleStaff:
		return "staff_id", nil
	case domain.RoleStudent:
		return "student_id", nil
	default:
		return "", fmt.Errorf("role %q has no linkage column", role)
	}
}

func validatedProfile(m ProfileModel) (domain.Profile, bool, error) {
	p := profileFromModel(m)
	if err := ValidateProfile(p); err != nil {
		return domain.Profile{}, false, err
	}
	return p, true, nil
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{
		ID:            p.ID,
		DisplayName:   p.DisplayName,
		Role:          string(p.Role),
		StaffID:       p.StaffID,
		StudentID:     p.StudentID,
		EnrollmentID:  p.EnrollmentID,
		Email:         p.Email,
		Password:      p.Credential,
		InstitutionID: p.InstitutionID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		ID:            m.ID,
		DisplayName:   m.DisplayName,
		Role:          domain.Role(m.Role),
		StaffID:       m.StaffID,
		StudentID:     m.StudentID,
		EnrollmentID:  m.EnrollmentID,
		Email:         m.Email,
		Credential:    m.Password,
		InstitutionID: m.InstitutionID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func staffFromModel(m StaffRecordModel) domain.StaffRecord {
	return domain.StaffRecord{
		RoleRecord: domain.RoleRecord{
			ID:             m.ID,
			InstitutionID:  m.InstitutionID,
			EnrollmentCode: m.EnrollmentCode,
			FullName:       m.FullName,
			CreatedAt:      m.CreatedAt,
		},
		Department: m.Department,
	}
}

func studentFromModel(m StudentRecordModel) domain.StudentRecord {
	return domain.StudentRecord{
		RoleRecord: domain.RoleRecord{
			ID:             m.ID,
			InstitutionID:  m.InstitutionID,
			EnrollmentCode: m.EnrollmentCode,
			FullName:       m.FullName,
			CreatedAt:      m.CreatedAt,
		},
		GradeLevel: m.GradeLevel,
	}
}

func auditFromModel(m LoginAuditModel) domain.LoginAuditEntry {
	var meta domain.AuditMetadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.LoginAuditEntry{
		ID:             m.ID,
		CreatedAt:      m.RecordedAt,
		IdentifierUsed: m.IdentifierUsed,
		UserID:         m.UserID,
		Success:        m.Success,
		Metadata:       meta,
	}
}
