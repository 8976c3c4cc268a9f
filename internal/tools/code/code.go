// Package code implements the execute_code tool on top of the
// sandboxed execution pipeline.
//
// Security:
//   - Every call flows through the security manager: attempt audit,
//     lexical gate, restricted engine, outcome audit
//   - The engine exposes no file, process, or network primitives
//   - A per-call timeout can only tighten the configured ceiling
//   - Output truncated to prevent OOM
package code

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/ngao/internal/security"
	"github.com/jkaninda/ngao/internal/tools"
)

// maxTimeoutSeconds caps the per-call timeout parameter.
const maxTimeoutSeconds = 300

// executor is the sandboxed execution contract.
// Satisfied by *security.Manager.
type executor interface {
	ExecuteCodeSafely(ctx context.Context, code string, timeout time.Duration, userID string) (map[string]any, error)
}

// Config configures the code execution tool.
type Config struct {
	Timeout time.Duration // Wall-clock ceiling per execution. Zero = 30s.
}

// Tool executes code snippets through the security manager's sandbox.
type Tool struct {
	config Config
	exec   executor
	logger *slog.Logger
}

// NewTool creates a sandboxed code execution tool.
func NewTool(cfg Config, exec executor, logger *slog.Logger) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = tools.DefaultTimeout
	}
	return &Tool{config: cfg, exec: exec, logger: logger}
}

func (t *Tool) Name() string { return "execute_code" }
func (t *Tool) Description() string {
	return "Execute code in a sandboxed environment and return the variables it assigns (no file, process, or network access)"
}
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":            map[string]any{"type": "string", "description": "Source to execute, one statement per line; assignments like 'x = 1 + 2' become result variables"},
			"timeout_seconds": map[string]any{"type": "number", "description": "Optional wall-clock limit for this call; may only tighten the configured ceiling"},
		},
		"required": []string{"code"},
	}
}

func (t *Tool) SecurityLevel() security.Level { return security.LevelHigh }

// Timeout pads the sandbox ceiling so the sandbox timer, which carries
// the resource-limit classification, fires before the runner's context.
func (t *Tool) Timeout() time.Duration { return t.config.Timeout + 2*time.Second }

func (t *Tool) Validate(params map[string]any) error {
	if _, err := requireString(params, "code"); err != nil {
		return err
	}
	if v, ok := params["timeout_seconds"]; ok {
		secs, ok := v.(float64)
		if !ok {
			return fmt.Errorf("parameter timeout_seconds must be a number, got %T", v)
		}
		if secs <= 0 || secs > maxTimeoutSeconds {
			return fmt.Errorf("parameter timeout_seconds must be between 1 and %d", maxTimeoutSeconds)
		}
	}
	return nil
}

// Execute runs the code and renders the namespace of variables it
// assigned.
//
// Required params:
//
//	"code" (string) — source to execute, one statement per line
//
// Optional params:
//
//	"timeout_seconds" (number) — per-call limit, capped at the config ceiling
func (t *Tool) Execute(ctx context.Context, sctx *security.SecurityContext, params map[string]any) (*tools.Result, error) {
	code, _ := requireString(params, "code")

	timeout := t.config.Timeout
	if secs, ok := params["timeout_seconds"].(float64); ok {
		if d := time.Duration(secs * float64(time.Second)); d < timeout {
			timeout = d
		}
	}

	t.logger.InfoContext(ctx, "execute_code running",
		slog.Int("code_size", len(code)),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	namespace, err := t.exec.ExecuteCodeSafely(ctx, code, timeout, sctx.UserID)
	if err != nil {
		return nil, fmt.Errorf("executing code: %w", err)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(renderNamespace(namespace), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"variables": len(namespace),
			"duration":  time.Since(start).String(),
		},
	}, nil
}

// renderNamespace renders assigned variables as indented JSON with
// stable key order. Values the encoder cannot represent fall back to
// their string form.
func renderNamespace(namespace map[string]any) string {
	if len(namespace) == 0 {
		return "(no variables assigned)"
	}
	out, err := json.MarshalIndent(namespace, "", "  ")
	if err != nil {
		safe := make(map[string]any, len(namespace))
		for k, v := range namespace {
			safe[k] = fmt.Sprint(v)
		}
		out, _ = json.MarshalIndent(safe, "", "  ")
	}
	return string(out)
}

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}
