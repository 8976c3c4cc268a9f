package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrgModel maps to the "organizations" table.
type OrgModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null;uniqueIndex"`
	Slug      string    `gorm:"not null;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (OrgModel) TableName() string { return "organizations" }

// JSONB is a json.RawMessage stored in a jsonb column (TEXT under SQLite).
type JSONB json.RawMessage

// AuditEventModel maps to the "audit_events" table.
// No UpdatedAt or DeletedAt — rows are written once and removed only by
// the retention purge.
type AuditEventModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrgID     uuid.UUID `gorm:"type:uuid;not null;index"`
	EventType string    `gorm:"not null;index"`
	UserID    string    `gorm:"index"`
	Details   JSONB     `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time `gorm:"index"`
}

func (AuditEventModel) TableName() string { return "audit_events" }
