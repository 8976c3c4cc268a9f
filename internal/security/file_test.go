package security

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resolvedTempDir returns a symlink-free per-test directory, so path
// containment comparisons work on platforms where the temp root is a
// symlink.
func resolvedTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolving temp dir: %v", err)
	}
	return dir
}

func testFileChecker(t *testing.T, policy Policy) *FileChecker {
	t.Helper()
	return NewFileChecker(policy, discardLogger())
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestFileCheckAllowed(t *testing.T) {
	dir := resolvedTempDir(t)
	policy := DefaultPolicy()
	policy.AllowedDirs = []string{dir}
	c := testFileChecker(t, policy)

	path := filepath.Join(dir, "notes.txt")
	writeTestFile(t, path, "hello")

	if err := c.Check(context.Background(), path, "read"); err != nil {
		t.Errorf("Check(%q) = %v, want nil", path, err)
	}
}

func TestFileCheckOutsideAllowedDirs(t *testing.T) {
	dir := resolvedTempDir(t)
	policy := DefaultPolicy()
	policy.AllowedDirs = []string{dir}
	c := testFileChecker(t, policy)

	err := c.Check(context.Background(), "/etc/passwd", "read")
	if err == nil {
		t.Fatal("Check(/etc/passwd) = nil, want error")
	}
	if !errors.Is(err, ErrSecurityViolation) {
		t.Errorf("error = %v, want ErrSecurityViolation", err)
	}
}

func TestFileCheckTraversal(t *testing.T) {
	dir := resolvedTempDir(t)
	policy := DefaultPolicy()
	policy.AllowedDirs = []string{dir}
	c := testFileChecker(t, policy)

	sneaky := filepath.Join(dir, "..", "..", "..", "..", "..", "..", "..", "..", "etc", "passwd")
	err := c.Check(context.Background(), sneaky, "read")
	if err == nil {
		t.Fatalf("Check(%q) = nil, want error", sneaky)
	}
	if !errors.Is(err, ErrSecurityViolation) {
		t.Errorf("error = %v, want ErrSecurityViolation", err)
	}
}

func TestFileCheckSiblingPrefix(t *testing.T) {
	root := resolvedTempDir(t)
	allowed := filepath.Join(root, "allowed")
	sibling := filepath.Join(root, "allowedevil")
	for _, d := range []string{allowed, sibling} {
		if err := os.Mkdir(d, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}

	policy := DefaultPolicy()
	policy.AllowedDirs = []string{allowed}
	c := testFileChecker(t, policy)

	inside := filepath.Join(allowed, "ok.txt")
	writeTestFile(t, inside, "x")
	if err := c.Check(context.Background(), inside, "read"); err != nil {
		t.Errorf("Check(%q) = %v, want nil", inside, err)
	}

	// "allowedevil" shares the string prefix "allowed" but is a
	// different directory and must be rejected.
	outside := filepath.Join(sibling, "bad.txt")
	writeTestFile(t, outside, "x")
	if err := c.Check(context.Background(), outside, "read"); err == nil {
		t.Errorf("Check(%q) = nil, want error for sibling-prefix path", outside)
	}
}

func TestFileCheckSymlinkEscape(t *testing.T) {
	root := resolvedTempDir(t)
	allowed := filepath.Join(root, "allowed")
	outside := filepath.Join(root, "outside")
	for _, d := range []string{allowed, outside} {
		if err := os.Mkdir(d, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}

	secret := filepath.Join(outside, "secret.txt")
	writeTestFile(t, secret, "secret")

	link := filepath.Join(allowed, "link.txt")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	policy := DefaultPolicy()
	policy.AllowedDirs = []string{allowed}
	c := testFileChecker(t, policy)

	err := c.Check(context.Background(), link, "read")
	if err == nil {
		t.Fatal("Check on escaping symlink = nil, want error")
	}
	if !errors.Is(err, ErrSecurityViolation) {
		t.Errorf("error = %v, want ErrSecurityViolation", err)
	}
}

func TestFileCheckBlockedExtension(t *testing.T) {
	dir := resolvedTempDir(t)
	policy := DefaultPolicy()
	policy.AllowedDirs = []string{dir}
	c := testFileChecker(t, policy)

	err := c.Check(context.Background(), filepath.Join(dir, "payload.exe"), "write")
	if err == nil {
		t.Fatal("Check(payload.exe) = nil, want error")
	}
	if !errors.Is(err, ErrSecurityViolation) {
		t.Errorf("error = %v, want ErrSecurityViolation", err)
	}
	if !strings.Contains(err.Error(), "blocked") {
		t.Errorf("error = %q, want mention of blocked type", err)
	}
}

func TestFileCheckAllowedTypesExclusive(t *testing.T) {
	dir := resolvedTempDir(t)
	policy := DefaultPolicy()
	policy.AllowedDirs = []string{dir}
	policy.AllowedFileTypes = []string{".txt"}
	c := testFileChecker(t, policy)
	ctx := context.Background()

	if err := c.Check(ctx, filepath.Join(dir, "data.csv"), "read"); err == nil {
		t.Error("Check(data.csv) = nil, want error when allow-list excludes .csv")
	}
	if err := c.Check(ctx, filepath.Join(dir, "data.txt"), "read"); err != nil {
		t.Errorf("Check(data.txt) = %v, want nil", err)
	}
}

func TestFileCheckEmptyAllowListPermissive(t *testing.T) {
	dir := resolvedTempDir(t)
	policy := DefaultPolicy()
	policy.AllowedDirs = []string{dir}
	policy.AllowedFileTypes = nil
	c := testFileChecker(t, policy)

	if err := c.Check(context.Background(), filepath.Join(dir, "notes.xyz"), "read"); err != nil {
		t.Errorf("Check(notes.xyz) = %v, want nil with empty allow-list", err)
	}
}

func TestFileCheckSizeCeiling(t *testing.T) {
	dir := resolvedTempDir(t)
	policy := DefaultPolicy()
	policy.AllowedDirs = []string{dir}
	policy.MaxFileSizeBytes = 16
	c := testFileChecker(t, policy)
	ctx := context.Background()

	big := filepath.Join(dir, "big.txt")
	writeTestFile(t, big, strings.Repeat("a", 100))

	err := c.Check(ctx, big, "read")
	if err == nil {
		t.Fatal("Check on oversized file = nil, want error")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("error = %q, want mention of size limit", err)
	}

	// A file that does not exist yet has no size to check.
	if err := c.Check(ctx, filepath.Join(dir, "new.txt"), "write"); err != nil {
		t.Errorf("Check on non-existent file = %v, want nil", err)
	}
}

func TestCreateSafeTempFile(t *testing.T) {
	dir := resolvedTempDir(t)
	policy := DefaultPolicy()
	policy.AllowedDirs = []string{dir}
	c := testFileChecker(t, policy)

	path, err := c.CreateSafeTempFile("upload", ".txt")
	if err != nil {
		t.Fatalf("CreateSafeTempFile: %v", err)
	}
	if !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		t.Errorf("temp file %q not inside allowed dir %q", path, dir)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "upload") || !strings.HasSuffix(base, ".txt") {
		t.Errorf("temp file name %q, want upload*.txt", base)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("temp file missing: %v", err)
	}
}

func TestCreateSafeTempFileFallback(t *testing.T) {
	dir := resolvedTempDir(t)
	policy := DefaultPolicy()
	policy.AllowedDirs = []string{filepath.Join(dir, "does-not-exist")}
	c := testFileChecker(t, policy)

	path, err := c.CreateSafeTempFile("upload", ".txt")
	if err != nil {
		t.Fatalf("CreateSafeTempFile: %v", err)
	}
	t.Cleanup(func() { os.Remove(path) })

	if !strings.HasPrefix(path, os.TempDir()) {
		t.Errorf("fallback temp file %q not inside %q", path, os.TempDir())
	}
}

func TestCleanupTempFiles(t *testing.T) {
	dir := resolvedTempDir(t)
	policy := DefaultPolicy()
	policy.AllowedDirs = []string{dir}
	c := testFileChecker(t, policy)
	ctx := context.Background()

	first, err := c.CreateSafeTempFile("a", ".txt")
	if err != nil {
		t.Fatalf("CreateSafeTempFile: %v", err)
	}
	second, err := c.CreateSafeTempFile("b", ".txt")
	if err != nil {
		t.Fatalf("CreateSafeTempFile: %v", err)
	}

	// One file already gone; cleanup must not mind.
	if err := os.Remove(first); err != nil {
		t.Fatalf("removing %s: %v", first, err)
	}

	c.CleanupTempFiles(ctx)

	if _, err := os.Stat(second); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file %q still present after cleanup", second)
	}

	// Idempotent.
	c.CleanupTempFiles(ctx)
}
