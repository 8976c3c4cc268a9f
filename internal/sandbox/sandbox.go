// Package sandbox executes untrusted code on behalf of agent tools
// under a two-layer guard: a lexical denylist scan that rejects
// dangerous source before anything runs, and a restricted expression
// engine that exposes no file, process, or network primitives.
//
// This is policy enforcement at the library level, not OS-level
// isolation. The lexical gate is bypassable by construction (it
// matches substrings, not semantics) and exists as defense in depth in
// front of the restricted engine, which is the real boundary.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/ngao/internal/security"
)

// limitCheckInterval is how often the resource monitor is consulted
// while a worker is running.
const limitCheckInterval = 250 * time.Millisecond

// Sandbox validates and executes untrusted code with a hard wall-clock
// timeout. Safe for concurrent use; each execution gets its own worker
// goroutine and resource monitor.
type Sandbox struct {
	policy security.Policy
	engine *Engine
	logger *slog.Logger
}

// New creates a sandbox enforcing the given policy.
func New(policy security.Policy, logger *slog.Logger) *Sandbox {
	return &Sandbox{
		policy: policy,
		engine: NewEngine(logger),
		logger: logger,
	}
}

// ValidateCode runs the lexical gate only and returns the violations
// found, without executing anything.
func (s *Sandbox) ValidateCode(code string) []string {
	return Scan(code)
}

// Execute validates code and runs it on a dedicated worker goroutine,
// returning the namespace of variables the code assigned.
//
// When sandboxing is disabled by policy this is a no-op passthrough:
// nothing is validated, nothing runs, and the result is nil.
//
// A validation failure returns ErrSecurityViolation before the worker
// starts. A crossed ceiling returns ErrResourceLimit; on timeout the
// worker cannot be preempted and is abandoned to finish (or spin) in
// the background. Errors raised by the code itself are returned as-is.
// Resource usage is logged on every exit path.
func (s *Sandbox) Execute(ctx context.Context, code string, timeout time.Duration) (map[string]any, error) {
	if !s.policy.SandboxEnabled {
		return nil, nil
	}

	// 1. Validate before anything runs.
	if violations := Scan(code); len(violations) > 0 {
		return nil, fmt.Errorf("%w: code validation failed: %s",
			security.ErrSecurityViolation, strings.Join(violations, "; "))
	}

	// 2. Resolve the effective timeout.
	if timeout <= 0 {
		timeout = s.policy.MaxExecutionTime
	}

	// 3. Baseline the monitor against the effective timeout so the
	// periodic check and the timer agree on the time ceiling.
	monitorPolicy := s.policy
	monitorPolicy.MaxExecutionTime = timeout
	monitor := security.NewResourceMonitor(monitorPolicy)
	defer func() {
		stats := monitor.GetUsageStats()
		s.logger.InfoContext(ctx, "code execution stats",
			slog.Float64("execution_time", stats.ExecutionTime),
			slog.Int64("memory_usage", stats.MemoryUsage),
			slog.Int("network_requests", stats.NetworkRequests),
			slog.Int("file_operations", stats.FileOperations),
		)
	}()

	// 4. Run on a dedicated worker goroutine so the timeout can be
	// enforced from outside. The channel is buffered: an abandoned
	// worker can still deliver its result and exit.
	type outcome struct {
		namespace map[string]any
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		namespace, err := s.engine.Run(code)
		done <- outcome{namespace: namespace, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(limitCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case out := <-done:
			if out.err != nil {
				return nil, out.err
			}
			return out.namespace, nil
		case <-timer.C:
			s.logger.WarnContext(ctx, "code execution timed out, worker abandoned",
				slog.Duration("timeout", timeout))
			return nil, fmt.Errorf("%w: code execution timed out after %s",
				security.ErrResourceLimit, timeout)
		case <-ticker.C:
			if err := monitor.CheckLimits(); err != nil {
				s.logger.WarnContext(ctx, "code execution exceeded resource limits, worker abandoned",
					slog.Any("error", err))
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
