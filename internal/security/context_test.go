package security

import (
	"testing"
	"time"
)

func TestSecurityContextLogOperation(t *testing.T) {
	sc := NewSecurityContext("user-1", "session-9")
	if sc.UserID != "user-1" || sc.SessionID != "session-9" {
		t.Fatalf("identity = %q/%q, want user-1/session-9", sc.UserID, sc.SessionID)
	}

	sc.LogOperation("file_read", map[string]any{"path": "/tmp/a.txt"})
	sc.LogOperation("network_request", map[string]any{"url": "https://example.com"})

	if len(sc.Operations) != 2 {
		t.Fatalf("operations = %d, want 2", len(sc.Operations))
	}
	if sc.Operations[0].Name != "file_read" || sc.Operations[1].Name != "network_request" {
		t.Errorf("operations out of order: %q, %q", sc.Operations[0].Name, sc.Operations[1].Name)
	}
	if sc.Operations[0].Timestamp.IsZero() {
		t.Error("operation timestamp is zero")
	}
}

func TestSecurityContextExecutionTime(t *testing.T) {
	sc := NewSecurityContext("u", "s")
	time.Sleep(5 * time.Millisecond)
	if got := sc.ExecutionTime(); got < 5*time.Millisecond {
		t.Errorf("ExecutionTime = %v, want >= 5ms", got)
	}
}
