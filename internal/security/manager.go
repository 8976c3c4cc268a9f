package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// codeExecutor is the sandboxed execution contract.
// Satisfied by *sandbox.Sandbox.
type codeExecutor interface {
	Execute(ctx context.Context, code string, timeout time.Duration) (map[string]any, error)
}

// fileAccessChecker is the file validation contract.
// Satisfied by *FileChecker.
type fileAccessChecker interface {
	Check(ctx context.Context, path, operation string) error
}

// networkAccessChecker is the network validation contract.
// Satisfied by *NetworkChecker.
type networkAccessChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// auditRecorder is the audit trail contract.
// Satisfied by *AuditLogger.
type auditRecorder interface {
	Log(ctx context.Context, eventType, userID string, details map[string]any)
	Events(eventType string, limit int) []AuditEvent
	ClearEvents()
	Stats() Stats
	Close() error
}

// Manager is the facade every security-relevant agent action flows
// through. Each protected action follows the same shape: log an
// "_attempt" event, validate, perform, then log the outcome. It holds
// no state of its own — each sub-component manages its own
// synchronization.
type Manager struct {
	sandbox codeExecutor
	files   fileAccessChecker
	network networkAccessChecker
	audit   auditRecorder
	logger  *slog.Logger
}

// NewManager creates a fully composed security manager. The concrete
// types (*sandbox.Sandbox, *FileChecker, *NetworkChecker,
// *AuditLogger) satisfy the local interfaces.
func NewManager(sandbox codeExecutor, files fileAccessChecker, network networkAccessChecker, audit auditRecorder, logger *slog.Logger) *Manager {
	return &Manager{
		sandbox: sandbox,
		files:   files,
		network: network,
		audit:   audit,
		logger:  logger,
	}
}

// ExecuteCodeSafely runs code in the sandbox with full audit coverage.
// Pre-validation failures never start a worker; failures during the
// run itself (including timeouts) are logged as code_execution_failure
// and returned to the caller so upstream tool logic can surface them.
// A zero timeout uses the policy default.
func (m *Manager) ExecuteCodeSafely(ctx context.Context, code string, timeout time.Duration, userID string) (map[string]any, error) {
	m.audit.Log(ctx, EventCodeExecutionAttempt, userID, map[string]any{
		"code_length": len(code),
		"timeout":     timeout.Seconds(),
	})

	result, err := m.sandbox.Execute(ctx, code, timeout)
	if err != nil {
		m.audit.Log(ctx, EventCodeExecutionFailure, userID, map[string]any{
			"error":      err.Error(),
			"error_type": classifyError(err),
		})
		return nil, err
	}

	m.audit.Log(ctx, EventCodeExecutionSuccess, userID, map[string]any{
		"result_type": fmt.Sprintf("%T", result),
	})
	return result, nil
}

// ValidateFileOperation reports whether the file may be touched for
// the given operation. The decision and its specific reason land in
// the audit trail; the boolean lets the caller choose the user-facing
// message.
func (m *Manager) ValidateFileOperation(ctx context.Context, path, operation, userID string) bool {
	m.audit.Log(ctx, EventFileOperationAttempt, userID, map[string]any{
		"file_path": path,
		"operation": operation,
	})

	if err := m.files.Check(ctx, path, operation); err != nil {
		eventType := EventFileOperationFailure
		if !errors.Is(err, ErrSecurityViolation) {
			eventType = EventFileOperationError
		}
		m.audit.Log(ctx, eventType, userID, map[string]any{
			"file_path": path,
			"operation": operation,
			"reason":    err.Error(),
		})
		return false
	}

	m.audit.Log(ctx, EventFileOperationSuccess, userID, map[string]any{
		"file_path": path,
		"operation": operation,
	})
	return true
}

// ValidateNetworkRequest reports whether the outbound request may be
// issued. Same contract as ValidateFileOperation: boolean decision,
// specific reason in the audit trail.
func (m *Manager) ValidateNetworkRequest(ctx context.Context, rawURL, method, userID string) bool {
	m.audit.Log(ctx, EventNetworkRequestAttempt, userID, map[string]any{
		"url":    rawURL,
		"method": method,
	})

	if err := m.network.Check(ctx, rawURL); err != nil {
		eventType := EventNetworkRequestFailure
		if !errors.Is(err, ErrSecurityViolation) {
			eventType = EventNetworkRequestError
		}
		m.audit.Log(ctx, eventType, userID, map[string]any{
			"url":    rawURL,
			"method": method,
			"reason": err.Error(),
		})
		return false
	}

	m.audit.Log(ctx, EventNetworkRequestSuccess, userID, map[string]any{
		"url":    rawURL,
		"method": method,
	})
	return true
}

// Stats aggregates counts from the audit trail.
func (m *Manager) Stats() Stats {
	return m.audit.Stats()
}

// Events returns recent audit events, optionally filtered by type.
func (m *Manager) Events(eventType string, limit int) []AuditEvent {
	return m.audit.Events(eventType, limit)
}

// ClearEvents empties the in-memory audit ring.
func (m *Manager) ClearEvents() {
	m.audit.ClearEvents()
}

// Close releases resources (closes the audit log file).
func (m *Manager) Close() error {
	return m.audit.Close()
}

// classifyError names the error class for audit details.
func classifyError(err error) string {
	switch {
	case errors.Is(err, ErrSecurityViolation):
		return "security_violation"
	case errors.Is(err, ErrResourceLimit):
		return "resource_limit_exceeded"
	default:
		return "execution_error"
	}
}
