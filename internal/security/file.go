package security

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileChecker validates file access against the policy before any
// read or write happens: path containment, extension allow/deny, and
// size ceiling. It also hands out temp files inside allowed
// directories so tools never scratch outside the validated area.
// Safe for concurrent use.
type FileChecker struct {
	policy Policy
	logger *slog.Logger

	mu        sync.Mutex
	tempFiles []string
}

// NewFileChecker creates a file access checker for the given policy.
func NewFileChecker(policy Policy, logger *slog.Logger) *FileChecker {
	return &FileChecker{policy: policy, logger: logger}
}

// Check returns nil when the path may be touched for the given
// operation. Three independent checks must all pass: the resolved
// path is a descendant of an allowed directory, the extension passes
// the allow/deny lists, and an existing target fits the size ceiling
// (non-existent targets pass, the write-before-exists case). The
// returned error names the specific check that failed.
func (c *FileChecker) Check(ctx context.Context, path, operation string) error {
	resolved, err := containedPath(path, c.policy.AllowedDirs)
	if err != nil {
		c.logger.WarnContext(ctx, "file access denied: path not allowed",
			slog.String("path", path),
			slog.String("operation", operation),
		)
		return fmt.Errorf("%w: %v", ErrSecurityViolation, err)
	}

	ext := strings.ToLower(filepath.Ext(resolved))
	for _, blocked := range c.policy.BlockedFileTypes {
		if ext == blocked {
			c.logger.WarnContext(ctx, "file access denied: blocked file type",
				slog.String("path", path),
				slog.String("extension", ext),
			)
			return fmt.Errorf("%w: file type %q is blocked", ErrSecurityViolation, ext)
		}
	}
	if len(c.policy.AllowedFileTypes) > 0 && !containsString(c.policy.AllowedFileTypes, ext) {
		c.logger.WarnContext(ctx, "file access denied: file type not allowed",
			slog.String("path", path),
			slog.String("extension", ext),
		)
		return fmt.Errorf("%w: file type %q is not allowed", ErrSecurityViolation, ext)
	}

	if info, err := os.Stat(resolved); err == nil {
		if info.Size() > c.policy.MaxFileSizeBytes {
			c.logger.WarnContext(ctx, "file access denied: file too large",
				slog.String("path", path),
				slog.Int64("size_bytes", info.Size()),
				slog.Int64("limit_bytes", c.policy.MaxFileSizeBytes),
			)
			return fmt.Errorf("%w: file size %d exceeds limit %d bytes",
				ErrSecurityViolation, info.Size(), c.policy.MaxFileSizeBytes)
		}
	}

	return nil
}

// containedPath resolves a user-supplied path to its absolute,
// symlink-free form and verifies it falls within one of the allowed
// directories.
//
// This prevents:
//   - Path traversal via ../ sequences
//   - Symlink-based escapes (symlink pointing outside allowed dirs)
//   - Sibling-prefix tricks ("/tmp" must match "/tmp/foo", not "/tmpevil")
func containedPath(raw string, allowed []string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path must not be empty")
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	// Resolve symlinks to get the real filesystem path. If the path
	// doesn't exist yet (write case), resolve the parent instead.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		parentResolved, parentErr := filepath.EvalSymlinks(filepath.Dir(abs))
		if parentErr != nil {
			return "", fmt.Errorf("path does not exist and parent is invalid: %w", err)
		}
		resolved = filepath.Join(parentResolved, filepath.Base(abs))
	}

	for _, dir := range allowed {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if strings.HasPrefix(resolved, absDir+string(filepath.Separator)) || resolved == absDir {
			return resolved, nil
		}
	}

	return "", fmt.Errorf("path %q resolves to %q which is outside allowed directories", raw, resolved)
}

// CreateSafeTempFile creates a uniquely-named file in the first
// allowed directory that accepts it, falling back to the platform
// temp directory. The file is tracked for CleanupTempFiles.
func (c *FileChecker) CreateSafeTempFile(prefix, suffix string) (string, error) {
	pattern := prefix + "*" + suffix

	var f *os.File
	var err error
	for _, dir := range c.policy.AllowedDirs {
		f, err = os.CreateTemp(dir, pattern)
		if err == nil {
			break
		}
	}
	if f == nil {
		f, err = os.CreateTemp(os.TempDir(), pattern)
		if err != nil {
			return "", fmt.Errorf("creating temp file: %w", err)
		}
	}

	path := f.Name()
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing temp file %s: %w", path, err)
	}

	c.mu.Lock()
	c.tempFiles = append(c.tempFiles, path)
	c.mu.Unlock()

	return path, nil
}

// CleanupTempFiles removes every tracked temp file. Best-effort and
// idempotent: missing files are fine, removal failures are logged and
// skipped.
func (c *FileChecker) CleanupTempFiles(ctx context.Context) {
	c.mu.Lock()
	files := c.tempFiles
	c.tempFiles = nil
	c.mu.Unlock()

	for _, path := range files {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.WarnContext(ctx, "temp file cleanup failed",
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
	}
}

// containsString reports whether s is present in list.
func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
