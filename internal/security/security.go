// Package security implements the policy gate that all agent side
// effects flow through: sandboxed code execution, file access checks,
// network request checks, resource limit tracking, and audit logging
// for Ngao.
package security

import (
	"errors"
	"time"
)

// Sentinel errors for security enforcement. Callers classify failures
// with errors.Is: a security violation is a policy decision and must
// never be retried; a resource limit means the operation started but
// crossed a ceiling.
var (
	ErrSecurityViolation = errors.New("security violation")
	ErrResourceLimit     = errors.New("resource limit exceeded")
)

// Audit event types emitted by the Manager. Every guarded operation
// produces an "_attempt" event before validation and exactly one
// outcome event after: "_success", "_failure" (policy denied), or
// "_error" (the check itself blew up).
const (
	EventCodeExecutionAttempt = "code_execution_attempt"
	EventCodeExecutionSuccess = "code_execution_success"
	EventCodeExecutionFailure = "code_execution_failure"

	EventFileOperationAttempt = "file_operation_attempt"
	EventFileOperationSuccess = "file_operation_success"
	EventFileOperationFailure = "file_operation_failure"
	EventFileOperationError   = "file_operation_error"

	EventNetworkRequestAttempt = "network_request_attempt"
	EventNetworkRequestSuccess = "network_request_success"
	EventNetworkRequestFailure = "network_request_failure"
	EventNetworkRequestError   = "network_request_error"
)

// Level classifies how much damage a tool can do if misused.
type Level int

const (
	LevelLow        Level = iota // Read-only, no side effects.
	LevelMedium                  // Writes to scoped resources.
	LevelHigh                    // Arbitrary code or system access.
	LevelRestricted              // Requires the tightest policy, admin-only.
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelRestricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level.
// Unrecognized values default to LevelRestricted (default-deny principle).
func ParseLevel(s string) Level {
	switch s {
	case "low":
		return LevelLow
	case "medium":
		return LevelMedium
	case "high":
		return LevelHigh
	case "restricted":
		return LevelRestricted
	default:
		return LevelRestricted
	}
}

// AuditEvent is a single entry in the append-only audit log.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	UserID    string         `json:"user_id,omitempty"`
	Details   map[string]any `json:"details"`
}

// Stats summarizes audit activity since startup (or the last reset).
// Violations counts every failure and error event regardless of kind;
// CodeExecutions counts successful runs only, so the two do not sum to
// TotalEvents.
type Stats struct {
	TotalEvents     int `json:"total_events"`
	CodeExecutions  int `json:"code_executions"`
	CodeFailures    int `json:"code_failures"`
	FileOperations  int `json:"file_operations"`
	NetworkRequests int `json:"network_requests"`
	Violations      int `json:"security_violations"`
}

// Policy holds every tunable the security subsystem enforces. All
// limits are per execution context: a fresh monitor starts counting
// from zero.
type Policy struct {
	// Code execution.
	SandboxEnabled   bool
	MaxExecutionTime time.Duration
	MaxMemoryBytes   uint64
	MaxCPUPercent    float64

	// File access.
	AllowedDirs      []string
	MaxFileSizeBytes int64
	AllowedFileTypes []string
	BlockedFileTypes []string

	// Network access.
	AllowedDomains     []string
	BlockedDomains     []string
	MaxNetworkRequests int

	// Audit.
	AuditEnabled  bool
	AuditLogPath  string
	AuditRingSize int
}

// DefaultPolicy returns the baseline policy: sandbox on, conservative
// resource ceilings, temp-dir file access, loopback blocked.
func DefaultPolicy() Policy {
	return Policy{
		SandboxEnabled:   true,
		MaxExecutionTime: 30 * time.Second,
		MaxMemoryBytes:   512 * 1024 * 1024,
		MaxCPUPercent:    50.0,

		AllowedDirs:      []string{"/tmp", "/var/tmp", "./temp_uploads", "./workspace"},
		MaxFileSizeBytes: 10 * 1024 * 1024,
		AllowedFileTypes: []string{".txt", ".md", ".py", ".json", ".csv", ".xml", ".html", ".css", ".js"},
		BlockedFileTypes: []string{".exe", ".bat", ".cmd", ".com", ".scr", ".pif", ".vbs", ".jar"},

		AllowedDomains:     nil,
		BlockedDomains:     []string{"localhost", "127.0.0.1", "0.0.0.0"},
		MaxNetworkRequests: 10,

		AuditEnabled:  true,
		AuditLogPath:  "security_audit.log",
		AuditRingSize: 1000,
	}
}
