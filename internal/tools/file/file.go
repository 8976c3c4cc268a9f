// Package file implements the file_read and file_write tools.
//
// Two separate tools map to two security levels:
//   - file_read: read/list operations (low)
//   - file_write: write operations (medium)
//
// Security: every call passes the manager's global gate (path
// containment, extension lists, size ceiling, audit trail) and then
// the tool's narrowed validator before any I/O occurs. I/O happens on
// the absolute, symlink-free form of the path, the same form the gate
// checked.
package file

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jkaninda/ngao/internal/security"
	"github.com/jkaninda/ngao/internal/tools"
)

// fileGate is the policy decision contract.
// Satisfied by *security.Manager.
type fileGate interface {
	ValidateFileOperation(ctx context.Context, path, operation, userID string) bool
}

// Config configures the file tools.
type Config struct {
	MaxFileSizeBytes int64 // Maximum size for read/write. 0 = 10 MiB.
}

const defaultMaxFileSize = 10 << 20 // 10 MiB

func maxSize(cfg Config) int64 {
	if cfg.MaxFileSizeBytes > 0 {
		return cfg.MaxFileSizeBytes
	}
	return defaultMaxFileSize
}

// resolvePath returns the absolute, symlink-free form of a path so I/O
// happens on the same file the gate approved. Containment is the
// gate's concern, not repeated here.
func resolvePath(raw string) (string, error) {
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The write-before-exists case: resolve the parent instead.
		parentResolved, parentErr := filepath.EvalSymlinks(filepath.Dir(abs))
		if parentErr != nil {
			return "", fmt.Errorf("path does not exist and parent is invalid: %w", err)
		}
		resolved = filepath.Join(parentResolved, filepath.Base(abs))
	}
	return resolved, nil
}

// requireString extracts a required non-empty string param.
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

// ---- ReadTool ----

// ReadTool reads files and lists directories within allowed paths.
type ReadTool struct {
	config    Config
	gate      fileGate
	validator *security.ToolValidator // nil = no narrowed layer
	logger    *slog.Logger
}

// NewReadTool creates a file read tool guarded by the given gate.
func NewReadTool(cfg Config, gate fileGate, validator *security.ToolValidator, logger *slog.Logger) *ReadTool {
	return &ReadTool{config: cfg, gate: gate, validator: validator, logger: logger}
}

func (t *ReadTool) Name() string { return "file_read" }
func (t *ReadTool) Description() string {
	return "Read file contents or list a directory within allowed paths"
}
func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string", "description": "Absolute path to the file or directory"},
			"operation": map[string]any{"type": "string", "enum": []string{"read", "list"}, "description": "Operation to perform: 'read' for file contents, 'list' for directory listing. Defaults to 'read'"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) SecurityLevel() security.Level { return security.LevelLow }
func (t *ReadTool) Timeout() time.Duration        { return tools.DefaultTimeout }

// Validate checks parameter shape only. Path containment is the gate's
// decision at execution time so the denial lands in the audit trail.
func (t *ReadTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "path"); err != nil {
		return err
	}
	op := "read"
	if v, ok := params["operation"].(string); ok && v != "" {
		op = v
	}
	if op != "read" && op != "list" {
		return fmt.Errorf("operation must be \"read\" or \"list\", got %q", op)
	}
	return nil
}

func (t *ReadTool) Execute(ctx context.Context, sctx *security.SecurityContext, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")

	op := "read"
	if v, ok := params["operation"].(string); ok && v != "" {
		op = v
	}

	if !t.gate.ValidateFileOperation(ctx, path, op, sctx.UserID) {
		return nil, fmt.Errorf("%w: file access denied for %q", security.ErrSecurityViolation, path)
	}
	if t.validator != nil {
		if err := t.validator.CheckFile(ctx, path); err != nil {
			return nil, err
		}
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "file_read executing",
		slog.String("operation", op),
		slog.String("path", resolved),
	)

	switch op {
	case "list":
		return t.listDir(resolved)
	default:
		return t.readFile(resolved)
	}
}

func (t *ReadTool) readFile(path string) (*tools.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, use operation=\"list\"", path)
	}
	if info.Size() > maxSize(t.config) {
		return nil, fmt.Errorf("file size %d exceeds limit %d bytes", info.Size(), maxSize(t.config))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(string(data), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"path":       path,
			"size_bytes": info.Size(),
		},
	}, nil
}

func (t *ReadTool) listDir(path string) (*tools.Result, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}

	var b strings.Builder
	for _, e := range entries {
		info, _ := e.Info()
		mode := "-"
		size := int64(0)
		if info != nil {
			mode = info.Mode().String()
			size = info.Size()
		}
		fmt.Fprintf(&b, "%s %8d %s\n", mode, size, e.Name())
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(b.String(), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"path":  path,
			"count": len(entries),
		},
	}, nil
}

// ---- WriteTool ----

// WriteTool writes files within allowed paths.
type WriteTool struct {
	config    Config
	gate      fileGate
	validator *security.ToolValidator
	logger    *slog.Logger
}

// NewWriteTool creates a file write tool guarded by the given gate.
func NewWriteTool(cfg Config, gate fileGate, validator *security.ToolValidator, logger *slog.Logger) *WriteTool {
	return &WriteTool{config: cfg, gate: gate, validator: validator, logger: logger}
}

func (t *WriteTool) Name() string        { return "file_write" }
func (t *WriteTool) Description() string { return "Write content to a file within allowed paths" }
func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Absolute path to the file to write"},
			"content": map[string]any{"type": "string", "description": "Content to write to the file"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) SecurityLevel() security.Level { return security.LevelMedium }
func (t *WriteTool) Timeout() time.Duration        { return tools.DefaultTimeout }

func (t *WriteTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "path"); err != nil {
		return err
	}
	content, err := requireString(params, "content")
	if err != nil {
		return err
	}
	if int64(len(content)) > maxSize(t.config) {
		return fmt.Errorf("content size %d exceeds limit %d bytes", len(content), maxSize(t.config))
	}
	return nil
}

func (t *WriteTool) Execute(ctx context.Context, sctx *security.SecurityContext, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	content, _ := requireString(params, "content")

	if !t.gate.ValidateFileOperation(ctx, path, "write", sctx.UserID) {
		return nil, fmt.Errorf("%w: file access denied for %q", security.ErrSecurityViolation, path)
	}
	if t.validator != nil {
		if err := t.validator.CheckFile(ctx, path); err != nil {
			return nil, err
		}
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "file_write executing",
		slog.String("path", resolved),
		slog.Int("content_size", len(content)),
	)

	if err := os.MkdirAll(filepath.Dir(resolved), 0750); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), fs.FileMode(0640)); err != nil {
		return nil, fmt.Errorf("writing %s: %w", resolved, err)
	}

	return &tools.Result{
		Output:  fmt.Sprintf("wrote %d bytes to %s", len(content), resolved),
		Success: true,
		Metadata: map[string]any{
			"path":       resolved,
			"size_bytes": len(content),
		},
	}, nil
}
