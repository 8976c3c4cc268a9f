package postgres

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/jkaninda/ngao/internal/security"
)

func toAuditModel(orgID uuid.UUID, event security.AuditEvent) AuditEventModel {
	details, _ := json.Marshal(event.Details)
	if details == nil {
		details = []byte("{}")
	}
	return AuditEventModel{
		ID:        uuid.New(),
		OrgID:     orgID,
		EventType: event.EventType,
		UserID:    event.UserID,
		Details:   JSONB(details),
		CreatedAt: event.Timestamp,
	}
}

func toAuditDomain(m *AuditEventModel) security.AuditEvent {
	var details map[string]any
	if len(m.Details) > 0 {
		_ = json.Unmarshal(m.Details, &details)
	}
	return security.AuditEvent{
		Timestamp: m.CreatedAt,
		EventType: m.EventType,
		UserID:    m.UserID,
		Details:   details,
	}
}
