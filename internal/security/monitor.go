package security

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ResourceMonitor tracks one protected operation against the policy
// ceilings: elapsed wall-clock time, resident memory growth, CPU
// percent, and network request count. A monitor is created at the
// start of the operation and discarded at the end; it is owned by a
// single goroutine and needs no locking.
type ResourceMonitor struct {
	policy      Policy
	proc        *process.Process
	startTime   time.Time
	startMemory uint64

	networkRequests int
	fileOperations  int
}

// UsageStats is a side-effect-free snapshot of a monitor's counters,
// shaped for audit event details.
type UsageStats struct {
	ExecutionTime   float64 `json:"execution_time"` // seconds since baseline
	MemoryUsage     int64   `json:"memory_usage"`   // bytes grown since baseline
	NetworkRequests int     `json:"network_requests"`
	FileOperations  int     `json:"file_operations"`
}

// NewResourceMonitor captures the baseline: wall-clock start and the
// process resident set size. Process inspection is best-effort; when
// the platform refuses it, memory and CPU ceilings are not enforced.
func NewResourceMonitor(policy Policy) *ResourceMonitor {
	m := &ResourceMonitor{
		policy:    policy,
		startTime: time.Now(),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = proc
		if mem, err := proc.MemoryInfo(); err == nil {
			m.startMemory = mem.RSS
		}
	}
	return m
}

// CheckLimits compares current usage against every policy ceiling and
// returns an ErrResourceLimit-wrapped error naming the first ceiling
// crossed. Calling it repeatedly has no side effects: a second call
// without intervening resource use returns the same verdict.
func (m *ResourceMonitor) CheckLimits() error {
	elapsed := time.Since(m.startTime)
	if elapsed > m.policy.MaxExecutionTime {
		return fmt.Errorf("%w: execution time %.2fs > %.2fs",
			ErrResourceLimit, elapsed.Seconds(), m.policy.MaxExecutionTime.Seconds())
	}

	if m.proc != nil {
		if mem, err := m.proc.MemoryInfo(); err == nil {
			used := int64(mem.RSS) - int64(m.startMemory)
			if used > int64(m.policy.MaxMemoryBytes) {
				return fmt.Errorf("%w: memory usage %.2fMB > %.2fMB",
					ErrResourceLimit,
					float64(used)/1024/1024,
					float64(m.policy.MaxMemoryBytes)/1024/1024)
			}
		}
		if cpu, err := m.proc.CPUPercent(); err == nil && cpu > m.policy.MaxCPUPercent {
			return fmt.Errorf("%w: CPU usage %.2f%% > %.2f%%",
				ErrResourceLimit, cpu, m.policy.MaxCPUPercent)
		}
	}

	if m.networkRequests > m.policy.MaxNetworkRequests {
		return fmt.Errorf("%w: too many network requests: %d > %d",
			ErrResourceLimit, m.networkRequests, m.policy.MaxNetworkRequests)
	}

	return nil
}

// LogNetworkRequest counts one outbound request and immediately
// re-checks the ceilings, so crossing the network limit fails on the
// triggering call rather than the next check.
func (m *ResourceMonitor) LogNetworkRequest() error {
	m.networkRequests++
	return m.CheckLimits()
}

// LogFileOperation counts one file operation. File counts have no
// ceiling; size, type, and path are the file checker's job.
func (m *ResourceMonitor) LogFileOperation() {
	m.fileOperations++
}

// GetUsageStats returns a snapshot of current usage.
func (m *ResourceMonitor) GetUsageStats() UsageStats {
	var memUsed int64
	if m.proc != nil {
		if mem, err := m.proc.MemoryInfo(); err == nil {
			memUsed = int64(mem.RSS) - int64(m.startMemory)
		}
	}
	return UsageStats{
		ExecutionTime:   time.Since(m.startTime).Seconds(),
		MemoryUsage:     memUsed,
		NetworkRequests: m.networkRequests,
		FileOperations:  m.fileOperations,
	}
}
