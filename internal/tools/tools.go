// Package tools defines the tool interface, the registry, and the
// runner that pushes every invocation through the security pipeline:
// per-call context, level gate, parameter validation, timeout, and
// audit events on both outcomes.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jkaninda/ngao/internal/llm"
	"github.com/jkaninda/ngao/internal/security"
)

// Tool is the interface all Ngao tools must implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "execute_code").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's parameters.
	// This is sent to the LLM as the tool's input_schema for function calling.
	InputSchema() map[string]any

	// SecurityLevel classifies how much damage the tool can do if
	// misused. The runner refuses tools above the configured ceiling.
	SecurityLevel() security.Level

	// Timeout returns the tool's execution budget. 0 = runner default.
	Timeout() time.Duration

	// Validate checks that params are well-formed before any security
	// checks run, so invalid requests fail fast.
	Validate(params map[string]any) error

	// Execute runs the tool. The security context carries the caller's
	// identity and collects the invocation's operation log.
	Execute(ctx context.Context, sctx *security.SecurityContext, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution.
type Result struct {
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Success  bool           `json:"success"`
}

// MaxOutputBytes is the default cap for tool output to prevent OOM.
const MaxOutputBytes = 1 << 20 // 1 MB

// DefaultTimeout applies when a tool reports no timeout of its own.
const DefaultTimeout = 30 * time.Second

// Audit event types emitted by the runner. The "_failure" suffix makes
// denied invocations count as violations in audit stats.
const (
	EventInvocationAttempt = "tool_invocation_attempt"
	EventInvocationSuccess = "tool_invocation_success"
	EventInvocationFailure = "tool_invocation_failure"
)

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered tools, sorted by name so the provider
// payload stays stable across runs.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// ToLLMDefinitions converts all registered tools into LLM tool definitions.
func ToLLMDefinitions(reg *Registry) []llm.ToolDefinition {
	all := reg.All()
	defs := make([]llm.ToolDefinition, len(all))
	for i, t := range all {
		defs[i] = llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		}
	}
	return defs
}

// auditRecorder is the audit sink contract. Satisfied by *security.AuditLogger.
type auditRecorder interface {
	Log(ctx context.Context, eventType, userID string, details map[string]any)
}

// Runner executes tools through the full security pipeline. Tool code
// never runs without an attempt event, a level check, validated
// parameters, and a bounded context.
type Runner struct {
	registry *Registry
	audit    auditRecorder
	logger   *slog.Logger
	maxLevel security.Level // highest tool level the policy admits
}

// NewRunner creates a runner over the registry. Tools whose security
// level exceeds maxLevel are refused before validation.
func NewRunner(registry *Registry, maxLevel security.Level, audit auditRecorder, logger *slog.Logger) *Runner {
	return &Runner{
		registry: registry,
		audit:    audit,
		logger:   logger,
		maxLevel: maxLevel,
	}
}

// Run invokes one tool for one caller. The per-call security context is
// created here and discarded with the call; its operation log feeds the
// outcome audit event.
func (r *Runner) Run(ctx context.Context, name, userID, sessionID string, params map[string]any) (*Result, error) {
	tool := r.registry.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	sctx := security.NewSecurityContext(userID, sessionID)
	r.audit.Log(ctx, EventInvocationAttempt, userID, map[string]any{
		"tool":       name,
		"session_id": sessionID,
	})

	if lvl := tool.SecurityLevel(); lvl > r.maxLevel {
		err := fmt.Errorf("%w: tool %q requires security level %s, ceiling is %s",
			security.ErrSecurityViolation, name, lvl, r.maxLevel)
		r.audit.Log(ctx, EventInvocationFailure, userID, map[string]any{
			"tool":   name,
			"reason": err.Error(),
		})
		return nil, err
	}

	if err := tool.Validate(params); err != nil {
		r.audit.Log(ctx, EventInvocationFailure, userID, map[string]any{
			"tool":   name,
			"reason": err.Error(),
		})
		return nil, fmt.Errorf("validating %s params: %w", name, err)
	}

	timeout := tool.Timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.InfoContext(ctx, "tool executing",
		slog.String("tool", name),
		slog.String("user_id", userID),
		slog.String("level", tool.SecurityLevel().String()),
	)
	sctx.LogOperation(name+"_execution", map[string]any{"param_count": len(params)})

	result, err := tool.Execute(ctx, sctx, params)
	if err != nil {
		sctx.LogOperation(name+"_error", map[string]any{"error": err.Error()})
		r.audit.Log(ctx, EventInvocationFailure, userID, map[string]any{
			"tool":        name,
			"reason":      err.Error(),
			"duration_ms": sctx.ExecutionTime().Milliseconds(),
			"operations":  len(sctx.Operations),
		})
		return nil, err
	}

	sctx.LogOperation(name+"_success", map[string]any{"output_length": len(result.Output)})
	r.audit.Log(ctx, EventInvocationSuccess, userID, map[string]any{
		"tool":        name,
		"duration_ms": sctx.ExecutionTime().Milliseconds(),
		"operations":  len(sctx.Operations),
	})
	return result, nil
}
