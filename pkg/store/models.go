package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProfileModel struct {
	ID            string  `gorm:"primaryKey;type:uuid"`
	DisplayName   string  `gorm:"not null"`
	Role          string  `gorm:"not null;index"`
	StaffID       *string `gorm:"index"`
	StudentID     *string `gorm:"index"`
	EnrollmentID  *string `gorm:"index"`
	Email         string  `gorm:"index"`
	Password      string
	InstitutionID string    `gorm:"index"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time
}

func (ProfileModel) TableName() string { return "profiles" }

type StaffRecordModel struct {
	ID             string `gorm:"primaryKey"`
	InstitutionID  string `gorm:"not null;uniqueIndex:idx_staff_institution_code"`
	EnrollmentCode string `gorm:"not null;uniqueIndex:idx_staff_institution_code"`
	FullName       string
	Department     string
	CreatedAt      time.Time `gorm:"not null"`
}

func (StaffRecordModel) TableName() string { return "staff_records" }

type StudentRecordModel struct {
	ID             string `gorm:"primaryKey"`
	InstitutionID  string `gorm:"not null;uniqueIndex:idx_student_institution_code"`
	EnrollmentCode string `gorm:"not null;uniqueIndex:idx_student_institution_code"`
	FullName       string
	GradeLevel     string
	CreatedAt      time.Time `gorm:"not null"`
}

func (StudentRecordModel) TableName() string { return "student_records" }

// LoginAuditModel has no UpdatedAt; rows are written once. RecordedAt is
// filled by the database default and returned on insert.
type LoginAuditModel struct {
	ID             string         `gorm:"primaryKey;type:uuid"`
	RecordedAt     time.Time      `gorm:"not null;default:now();index"`
	IdentifierUsed string         `gorm:"not null;index"`
	UserID         *string        `gorm:"type:uuid;index"`
	Success        bool           `gorm:"not null"`
	Metadata       datatypes.JSON `gorm:"type:jsonb"`
}

func (LoginAuditModel) TableName() string { return "login_audit_entries" }

type BackendAccountModel struct {
	ID           string `gorm:"primaryKey;type:uuid"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Disabled     bool
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

func (BackendAccountModel) TableName() string { return "backend_accounts" }
