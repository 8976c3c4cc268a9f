package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestResourceMonitorWithinBudget(t *testing.T) {
	m := NewResourceMonitor(DefaultPolicy())

	if err := m.CheckLimits(); err != nil {
		t.Fatalf("CheckLimits on a fresh monitor: %v", err)
	}
	// Repeated checks without intervening resource use have no side effects.
	if err := m.CheckLimits(); err != nil {
		t.Fatalf("second CheckLimits: %v", err)
	}
}

func TestResourceMonitorExecutionTimeCeiling(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxExecutionTime = time.Millisecond
	m := NewResourceMonitor(policy)

	time.Sleep(5 * time.Millisecond)

	err := m.CheckLimits()
	if err == nil {
		t.Fatal("CheckLimits = nil, want execution time error")
	}
	if !errors.Is(err, ErrResourceLimit) {
		t.Errorf("error = %v, want ErrResourceLimit", err)
	}
	if !strings.Contains(err.Error(), "execution time") {
		t.Errorf("error = %q, want mention of execution time", err)
	}
}

func TestResourceMonitorNetworkCeiling(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxNetworkRequests = 2
	m := NewResourceMonitor(policy)

	for i := 0; i < 2; i++ {
		if err := m.LogNetworkRequest(); err != nil {
			t.Fatalf("request %d within limit: %v", i+1, err)
		}
	}

	// The limit is a ceiling on the count, so the request after it fails.
	err := m.LogNetworkRequest()
	if err == nil {
		t.Fatal("LogNetworkRequest beyond limit = nil, want error")
	}
	if !errors.Is(err, ErrResourceLimit) {
		t.Errorf("error = %v, want ErrResourceLimit", err)
	}
	if !strings.Contains(err.Error(), "network requests") {
		t.Errorf("error = %q, want mention of network requests", err)
	}
}

func TestResourceMonitorUsageStats(t *testing.T) {
	policy := DefaultPolicy()
	m := NewResourceMonitor(policy)

	m.LogFileOperation()
	m.LogFileOperation()
	if err := m.LogNetworkRequest(); err != nil {
		t.Fatalf("LogNetworkRequest: %v", err)
	}

	stats := m.GetUsageStats()
	if stats.FileOperations != 2 {
		t.Errorf("FileOperations = %d, want 2", stats.FileOperations)
	}
	if stats.NetworkRequests != 1 {
		t.Errorf("NetworkRequests = %d, want 1", stats.NetworkRequests)
	}
	if stats.ExecutionTime < 0 {
		t.Errorf("ExecutionTime = %f, want >= 0", stats.ExecutionTime)
	}

	// Snapshots must not mutate the counters.
	again := m.GetUsageStats()
	if again.FileOperations != stats.FileOperations || again.NetworkRequests != stats.NetworkRequests {
		t.Errorf("second snapshot changed counters: %+v vs %+v", again, stats)
	}
}

func TestResourceMonitorFileOperationsUncapped(t *testing.T) {
	policy := DefaultPolicy()
	m := NewResourceMonitor(policy)

	for i := 0; i < 1000; i++ {
		m.LogFileOperation()
	}
	if err := m.CheckLimits(); err != nil {
		t.Errorf("CheckLimits after 1000 file operations: %v", err)
	}
	if got := m.GetUsageStats().FileOperations; got != 1000 {
		t.Errorf("FileOperations = %d, want 1000", got)
	}
}
