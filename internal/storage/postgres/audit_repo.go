package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/ngao/internal/security"
)

// AuditRepository implements security.AuditStore with GORM. Rows are
// never updated; the only delete path is the retention Purge. The org
// scope is bound at construction, so the repository also satisfies
// security.EventSink and plugs straight into the audit logger.
type AuditRepository struct {
	db    *gorm.DB
	orgID uuid.UUID
}

// NewAuditRepository creates an AuditRepository scoped to one org.
func NewAuditRepository(db *gorm.DB, orgID uuid.UUID) *AuditRepository {
	return &AuditRepository{db: db, orgID: orgID}
}

// Append inserts a single audit event.
func (r *AuditRepository) Append(ctx context.Context, event security.AuditEvent) error {
	model := toAuditModel(r.orgID, event)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// Query returns audit events newest first. Empty eventType and userID
// match everything. Limit defaults to 100.
func (r *AuditRepository) Query(ctx context.Context, eventType, userID string, limit int) ([]security.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).
		Scopes(TenantScope(r.orgID)).
		Order("created_at DESC").
		Limit(limit)

	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var models []AuditEventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}

	events := make([]security.AuditEvent, len(models))
	for i := range models {
		events[i] = toAuditDomain(&models[i])
	}
	return events, nil
}

// Purge hard-deletes events older than the cutoff and returns the
// number of rows removed.
func (r *AuditRepository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Scopes(TenantScope(r.orgID)).
		Where("created_at < ?", olderThan).
		Delete(&AuditEventModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging audit events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// compile-time interface check
var _ security.AuditStore = (*AuditRepository)(nil)
