package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/ngao/internal/security"
)

func testSandbox(policy security.Policy) *Sandbox {
	return New(policy, discardLogger())
}

func TestExecuteAssignsNamespace(t *testing.T) {
	s := testSandbox(security.DefaultPolicy())

	result, err := s.Execute(context.Background(), "result = 2 + 2", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result["result"] != 4 {
		t.Errorf("result = %v, want 4", result["result"])
	}
}

func TestExecuteBlockedCodeNeverRuns(t *testing.T) {
	s := testSandbox(security.DefaultPolicy())

	result, err := s.Execute(context.Background(), "import os\nos.system('ls')", 0)
	if err == nil {
		t.Fatal("Execute = nil, want security violation")
	}
	if !errors.Is(err, security.ErrSecurityViolation) {
		t.Errorf("error = %v, want ErrSecurityViolation", err)
	}
	if !strings.Contains(err.Error(), "os") {
		t.Errorf("error = %q, want mention of the blocked module", err)
	}
	if result != nil {
		t.Errorf("result = %v, want nil when validation fails", result)
	}
}

func TestExecuteTimeout(t *testing.T) {
	policy := security.DefaultPolicy()
	policy.MaxExecutionTime = 50 * time.Millisecond
	s := testSandbox(policy)

	start := time.Now()
	_, err := s.Execute(context.Background(), "x = sleep(2.0)", 0)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Execute = nil, want timeout error")
	}
	if !errors.Is(err, security.ErrResourceLimit) {
		t.Errorf("error = %v, want ErrResourceLimit", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %q, want timeout message", err)
	}
	// The caller gets control back at the deadline, not when the
	// abandoned worker finishes its sleep.
	if elapsed > time.Second {
		t.Errorf("Execute returned after %v, want near the 50ms deadline", elapsed)
	}
}

func TestExecuteExplicitTimeoutOverridesPolicy(t *testing.T) {
	policy := security.DefaultPolicy()
	policy.MaxExecutionTime = 10 * time.Millisecond
	s := testSandbox(policy)

	result, err := s.Execute(context.Background(), "x = sleep(0.1)", 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Execute with explicit timeout: %v", err)
	}
	if result["x"] != true {
		t.Errorf("x = %v, want true", result["x"])
	}
}

func TestExecuteDisabledPassthrough(t *testing.T) {
	policy := security.DefaultPolicy()
	policy.SandboxEnabled = false
	s := testSandbox(policy)

	// Even blatantly dangerous code is neither validated nor run.
	result, err := s.Execute(context.Background(), "import os\nos.system('rm -rf /')", 0)
	if err != nil {
		t.Errorf("Execute = %v, want nil when sandbox disabled", err)
	}
	if result != nil {
		t.Errorf("result = %v, want nil when sandbox disabled", result)
	}
}

func TestExecuteRuntimeErrorUnclassified(t *testing.T) {
	s := testSandbox(security.DefaultPolicy())

	_, err := s.Execute(context.Background(), "y = missing + 1", 0)
	if err == nil {
		t.Fatal("Execute = nil, want evaluation error")
	}
	if errors.Is(err, security.ErrSecurityViolation) || errors.Is(err, security.ErrResourceLimit) {
		t.Errorf("error = %v, want plain execution error, not a policy classification", err)
	}
}

func TestExecuteContextCancellation(t *testing.T) {
	s := testSandbox(security.DefaultPolicy())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Execute(ctx, "x = sleep(0.5)", 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestExecuteEmptyCode(t *testing.T) {
	s := testSandbox(security.DefaultPolicy())

	result, err := s.Execute(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("result = %v, want empty namespace", result)
	}
}

func TestValidateCode(t *testing.T) {
	s := testSandbox(security.DefaultPolicy())

	if violations := s.ValidateCode("eval(x)"); len(violations) == 0 {
		t.Error("ValidateCode(eval) = no violations, want at least one")
	}
	if violations := s.ValidateCode("a = 1"); len(violations) != 0 {
		t.Errorf("ValidateCode(clean) = %v, want none", violations)
	}
}
