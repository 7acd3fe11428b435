package sqlite

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// ==================== GORM Models ====================
// These models map directly to the database schema.
// Domain models are converted to/from these in repository methods.

// LongText is a string type that maps to LONGTEXT in MySQL and TEXT in SQLite/PostgreSQL
type LongText string

// GormDBDataType returns the database-specific data type
func (LongText) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "longtext"
	default:
		return "text"
	}
}

// BaseModel contains common fields for all entities
type BaseModel struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CreatedAt int64
	UpdatedAt int64
}

// BeforeCreate sets timestamps before creating
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UnixMilli()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = now
	}
	return nil
}

// BeforeUpdate sets updated_at before updating
func (m *BaseModel) BeforeUpdate(tx *gorm.DB) error {
	m.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// ==================== Entity Models ====================

type Credential struct {
	BaseModel

	UUID string `gorm:"uniqueIndex;size:64"`
	Kind string `gorm:"index;size:32"`
	Name string `gorm:"index;size:255"`

	Secret LongText

	IsHealthy  bool
	IsDisabled bool

	UsageCount int64
	ErrorCount int64

	LastUsedAt        int64
	LastErrorMessage  LongText
	LastHealthCheckAt int64

	NotSupportedModels LongText
}

func (Credential) TableName() string { return "credentials" }

type RequestLog struct {
	BaseModel

	RequestID    string `gorm:"index;size:64"`
	ClientFormat string `gorm:"size:16"`

	RequestModel  string `gorm:"size:255"`
	ResolvedModel string `gorm:"size:255"`

	CredentialUUID string `gorm:"index;size:64"`
	CredentialName string `gorm:"size:255"`

	IsStream   bool
	RetryCount int

	StartTime  int64
	EndTime    int64
	DurationMS int64

	Status     string `gorm:"size:16"`
	HTTPStatus int
	Error      LongText

	InputTokens  int
	OutputTokens int
	CostMicroUSD uint64
}

func (RequestLog) TableName() string { return "request_logs" }

// AllModels returns every model for auto-migration
func AllModels() []any {
	return []any{
		&Credential{},
		&RequestLog{},
	}
}
