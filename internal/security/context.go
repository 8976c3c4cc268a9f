package security

import "time"

// Operation is one entry in a SecurityContext's ordered operation log.
type Operation struct {
	Timestamp time.Time      `json:"timestamp"`
	Name      string         `json:"operation"`
	Details   map[string]any `json:"details"`
}

// ContextUsage tracks logical per-invocation counters, distinct from
// the raw process measurements a ResourceMonitor takes.
type ContextUsage struct {
	CPUTime         float64 `json:"cpu_time"`
	MemoryUsage     float64 `json:"memory_usage"`
	FileOperations  int     `json:"file_operations"`
	NetworkRequests int     `json:"network_requests"`
}

// SecurityContext carries the identity and operation history of a
// single tool invocation. It is created per call, owned exclusively by
// that call, and discarded when the call returns, so it needs no
// locking.
type SecurityContext struct {
	UserID     string
	SessionID  string
	Operations []Operation
	Usage      ContextUsage

	startTime time.Time
}

// NewSecurityContext starts a context for one tool invocation.
func NewSecurityContext(userID, sessionID string) *SecurityContext {
	return &SecurityContext{
		UserID:    userID,
		SessionID: sessionID,
		startTime: time.Now(),
	}
}

// LogOperation records an operation for audit purposes.
func (c *SecurityContext) LogOperation(name string, details map[string]any) {
	c.Operations = append(c.Operations, Operation{
		Timestamp: time.Now().UTC(),
		Name:      name,
		Details:   details,
	})
}

// ExecutionTime returns how long this invocation has been running.
func (c *SecurityContext) ExecutionTime() time.Duration {
	return time.Since(c.startTime)
}
