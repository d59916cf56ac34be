package rollup

import (
	"sync"
	"time"
)

const (
	// staleAfter is how long rollups may go without a success before the
	// service reports degraded (hourly cadence plus slack).
	staleAfter = 2 * time.Hour

	// startupGrace covers the window between boot and the first hourly
	// fire, which can be up to an hour away. Reporting degraded during it
	// would kill-loop fresh deploys behind a health-checking orchestrator.
	startupGrace = 2 * time.Hour

	// maxConsecutiveErrors failures in a row flips health regardless of
	// the last success time.
	maxConsecutiveErrors = 3
)

// Monitor tracks rollup health and failures.
type Monitor struct {
	mu                sync.RWMutex
	startedAt         time.Time
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// NewMonitor creates a monitor anchored at the current time. A monitor that
// has never seen a success stays healthy until the startup grace runs out.
func NewMonitor() *Monitor {
	return &Monitor{startedAt: time.Now()}
}

// RecordSuccess records a successful rollup run.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSuccess = time.Now()
	m.lastAttempt = time.Now()
	m.consecutiveErrors = 0
	m.lastError = ""
}

// RecordFailure records a failed rollup run.
func (m *Monitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = time.Now()
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy returns true if rollups are working properly.
// Unhealthy conditions:
//   - Never succeeded and the startup grace has run out
//   - Haven't succeeded in >2 hours
//   - More than 3 consecutive failures
func (m *Monitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isHealthyLocked()
}

// MonitorStatus is the rollup health view exposed on health checks.
type MonitorStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current rollup status for health checks.
func (m *Monitor) Status() MonitorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := MonitorStatus{
		Healthy: m.isHealthyLocked(),
	}

	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(m.lastSuccess).String()
	}

	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}

	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}

	return status
}

func (m *Monitor) isHealthyLocked() bool {
	if m.consecutiveErrors > maxConsecutiveErrors {
		return false
	}
	if m.lastSuccess.IsZero() {
		// Fresh boot: the first hourly window may not have fired yet.
		return time.Since(m.startedAt) < startupGrace
	}
	return time.Since(m.lastSuccess) <= staleAfter
}
