package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// EventSink receives every audit event for durable storage beyond the
// JSONL file, e.g. a database-backed audit store.
type EventSink interface {
	Append(ctx context.Context, event AuditEvent) error
}

// AuditLogger records security events to an append-only JSONL file and
// a bounded in-memory ring. Logging is fire-and-forget: a failed file
// or sink write is reported to the operational log and swallowed, so
// audit logging can never break the operation it is observing.
// Thread-safe: multiple goroutines can log concurrently.
type AuditLogger struct {
	mu       sync.RWMutex
	enabled  bool
	file     *os.File
	events   []AuditEvent
	ringSize int
	sink     EventSink
	subs     []chan AuditEvent
	logger   *slog.Logger
}

// NewAuditLogger opens (or creates) the audit log file in append-only
// mode with 0600 permissions. When auditing is disabled by policy the
// returned logger is a complete no-op: nothing is retained in memory
// and nothing is written. sink may be nil.
func NewAuditLogger(policy Policy, sink EventSink, logger *slog.Logger) (*AuditLogger, error) {
	ringSize := policy.AuditRingSize
	if ringSize <= 0 {
		ringSize = DefaultPolicy().AuditRingSize
	}
	a := &AuditLogger{
		enabled:  policy.AuditEnabled,
		ringSize: ringSize,
		sink:     sink,
		logger:   logger,
	}
	if !policy.AuditEnabled {
		return a, nil
	}

	f, err := os.OpenFile(policy.AuditLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", policy.AuditLogPath, err)
	}
	a.file = f
	return a, nil
}

// Log appends an event to the in-memory ring and the JSONL file.
// The in-memory append always succeeds; file and sink writes are
// best-effort.
func (a *AuditLogger) Log(ctx context.Context, eventType, userID string, details map[string]any) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Details:   details,
	}

	// Marshal outside the lock; only ring and file access are serialized.
	data, marshalErr := json.Marshal(event)

	a.mu.Lock()
	a.events = append(a.events, event)
	if len(a.events) > a.ringSize {
		a.events = a.events[len(a.events)-a.ringSize:]
	}
	var writeErr error
	if marshalErr == nil && a.file != nil {
		_, writeErr = a.file.Write(append(data, '\n'))
	}
	subs := a.subs
	a.mu.Unlock()

	if marshalErr != nil {
		a.logger.WarnContext(ctx, "audit event marshal failed",
			slog.String("event_type", eventType), slog.Any("error", marshalErr))
	}
	if writeErr != nil {
		a.logger.WarnContext(ctx, "audit log write failed",
			slog.String("event_type", eventType), slog.Any("error", writeErr))
	}
	if a.sink != nil {
		if err := a.sink.Append(ctx, event); err != nil {
			a.logger.WarnContext(ctx, "audit sink append failed",
				slog.String("event_type", eventType), slog.Any("error", err))
		}
	}

	a.logger.DebugContext(ctx, "audit event logged",
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
	)

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, drop rather than block the operation.
		}
	}
}

// Events returns the most recent limit events in insertion order,
// optionally filtered by exact event type. A non-positive limit
// defaults to 100.
func (a *AuditLogger) Events(eventType string, limit int) []AuditEvent {
	if limit <= 0 {
		limit = 100
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	filtered := a.events
	if eventType != "" {
		filtered = make([]AuditEvent, 0, len(a.events))
		for _, e := range a.events {
			if e.EventType == eventType {
				filtered = append(filtered, e)
			}
		}
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	cp := make([]AuditEvent, len(filtered))
	copy(cp, filtered)
	return cp
}

// ClearEvents empties the in-memory ring. The on-disk log is untouched:
// the file is an append-only ledger.
func (a *AuditLogger) ClearEvents() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = nil
}

// Stats aggregates counts over the retained ring. Violations counts
// every event whose type contains "failure" or "error".
func (a *AuditLogger) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{TotalEvents: len(a.events)}
	for _, e := range a.events {
		switch {
		case e.EventType == EventCodeExecutionSuccess:
			stats.CodeExecutions++
		case e.EventType == EventCodeExecutionFailure:
			stats.CodeFailures++
		case strings.HasPrefix(e.EventType, "file_operation"):
			stats.FileOperations++
		case strings.HasPrefix(e.EventType, "network_request"):
			stats.NetworkRequests++
		}
		if strings.Contains(e.EventType, "failure") || strings.Contains(e.EventType, "error") {
			stats.Violations++
		}
	}
	return stats
}

// Subscribe returns a channel receiving every event logged after the
// call, plus an unsubscribe function. Events are dropped for slow
// subscribers rather than blocking the logging path.
func (a *AuditLogger) Subscribe() (<-chan AuditEvent, func()) {
	ch := make(chan AuditEvent, 100)

	a.mu.Lock()
	a.subs = append(a.subs, ch)
	a.mu.Unlock()

	unsub := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, sub := range a.subs {
			if sub == ch {
				a.subs = append(a.subs[:i], a.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}

	return ch, unsub
}

// Close closes the underlying file.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	return a.file.Close()
}
