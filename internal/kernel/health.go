package kernel

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/llmkernel/kernel/internal/capability"
	"github.com/llmkernel/kernel/internal/protocol"
)

// Level is quick_health_check's verdict.
type Level string

const (
	Healthy   Level = "Healthy"
	Degraded  Level = "Degraded"
	Unhealthy Level = "Unhealthy"
)

// Monitor tracks per-channel activity and latency, and combines them
// with an optional host-supplied capability.HealthProbe for resource
// metrics.
type Monitor struct {
	cfg Config

	mu       sync.Mutex
	lastSeen map[protocol.Channel]time.Time

	latencyMu sync.Mutex
	latencies []time.Duration

	errorMu    sync.Mutex
	errorTimes []time.Time
}

func newMonitor(cfg Config) *Monitor {
	return &Monitor{cfg: cfg, lastSeen: make(map[protocol.Channel]time.Time)}
}

func (m *Monitor) recordActivity(ch protocol.Channel) {
	m.mu.Lock()
	m.lastSeen[ch] = time.Now()
	m.mu.Unlock()
}

func (m *Monitor) recordLatency(d time.Duration) {
	m.latencyMu.Lock()
	m.latencies = append(m.latencies, d)
	if len(m.latencies) > 256 {
		m.latencies = m.latencies[len(m.latencies)-256:]
	}
	m.latencyMu.Unlock()
}

func (m *Monitor) recordError() {
	m.errorMu.Lock()
	m.errorTimes = append(m.errorTimes, time.Now())
	m.errorMu.Unlock()
}

func (m *Monitor) avgLatency() time.Duration {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range m.latencies {
		total += l
	}
	return total / time.Duration(len(m.latencies))
}

func (m *Monitor) errorRatePerMinute() float64 {
	m.errorMu.Lock()
	defer m.errorMu.Unlock()
	cutoff := time.Now().Add(-time.Minute)
	kept := m.errorTimes[:0]
	for _, t := range m.errorTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.errorTimes = kept
	return float64(len(kept))
}

func (m *Monitor) channelHealth() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, 5)
	for _, ch := range []protocol.Channel{protocol.ChannelShell, protocol.ChannelControl, protocol.ChannelStdin, protocol.ChannelHeartbeat} {
		seen, ok := m.lastSeen[ch]
		out[string(ch)] = !ok || time.Since(seen) < 30*time.Second
	}
	out[string(protocol.ChannelIOPub)] = true
	return out
}

// QuickCheck implements quick_health_check.
func (m *Monitor) QuickCheck(ctx context.Context) (Level, []string) {
	var issues []string

	status := capability.HealthStatus{}
	if m.cfg.HealthProbe != nil {
		status = m.cfg.HealthProbe.Check(ctx, false)
	}

	if status.MemoryMB > m.cfg.MaxMemoryMB {
		issues = append(issues, "memory over limit")
	}
	if status.CPUPercent > m.cfg.MaxCPUPercent {
		issues = append(issues, "cpu over limit")
	}
	if us := m.avgLatency().Microseconds(); us > m.cfg.MaxAvgLatencyMicros {
		issues = append(issues, "avg latency over limit")
	}
	if rate := m.errorRatePerMinute(); rate > m.cfg.MaxErrorRatePerMin {
		issues = append(issues, "error rate over limit")
	}
	for ch, healthy := range m.channelHealth() {
		if !healthy {
			issues = append(issues, "channel "+ch+" inactive")
		}
	}

	switch {
	case len(issues) == 0:
		return Healthy, nil
	case len(issues) <= 1:
		return Degraded, issues
	default:
		return Unhealthy, issues
	}
}

// FullCheck implements health_check: QuickCheck plus system info.
func (m *Monitor) FullCheck(ctx context.Context) map[string]any {
	level, issues := m.QuickCheck(ctx)
	status := capability.HealthStatus{}
	if m.cfg.HealthProbe != nil {
		status = m.cfg.HealthProbe.Check(ctx, true)
	}
	return map[string]any{
		"status":           string(level),
		"issues":           issues,
		"pid":              os.Getpid(),
		"memory_mb":        status.MemoryMB,
		"cpu_percent":      status.CPUPercent,
		"avg_latency_us":   m.avgLatency().Microseconds(),
		"error_rate_per_min": m.errorRatePerMinute(),
		"channel_health":   m.channelHealth(),
	}
}
