package security

import (
	"context"
	"time"
)

// AuditStore is a durable, queryable store for audit events. Events
// are append-only: no updates, and the only deletion is the age-based
// retention purge. An AuditStore also satisfies EventSink, so it can
// be passed straight to NewAuditLogger as the persistence sink.
type AuditStore interface {
	// Append writes a single audit event.
	Append(ctx context.Context, event AuditEvent) error
	// Query returns up to limit recent events, newest first. Empty
	// eventType and userID match everything; non-empty values filter
	// by exact event type and user.
	Query(ctx context.Context, eventType, userID string, limit int) ([]AuditEvent, error)
	// Purge deletes events older than the cutoff and reports how many
	// were removed.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}
