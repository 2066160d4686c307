package simulation

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultMonitorWindow is how many recent frames feed the jitter estimate.
const DefaultMonitorWindow = 256

// TickMetricsSnapshot summarises observed frame durations.
type TickMetricsSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
	// StdDev is the standard deviation over the most recent window of frames.
	StdDev time.Duration
}

// AverageFPS derives the frames-per-second equivalent of the average frame duration.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor accumulates timing statistics for the frame loop.
type TickMonitor struct {
	mu      sync.Mutex
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
	window  []float64
	next    int
}

// NewTickMonitor constructs an empty monitor with the default jitter window.
func NewTickMonitor() *TickMonitor {
	return NewTickMonitorWindow(DefaultMonitorWindow)
}

// NewTickMonitorWindow constructs an empty monitor keeping size recent samples.
func NewTickMonitorWindow(size int) *TickMonitor {
	if size < 2 {
		size = 2
	}
	return &TickMonitor{window: make([]float64, 0, size)}
}

// Observe records the duration of a completed frame.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	if len(m.window) < cap(m.window) {
		m.window = append(m.window, float64(duration))
		return
	}
	m.window[m.next] = float64(duration)
	m.next = (m.next + 1) % len(m.window)
}

// Snapshot returns a copy of the aggregated frame statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := TickMetricsSnapshot{Samples: m.samples, Max: m.max, Last: m.last}
	if m.samples > 0 {
		snap.Average = m.total / time.Duration(m.samples)
	}
	if len(m.window) > 1 {
		_, std := stat.MeanStdDev(m.window, nil)
		snap.StdDev = time.Duration(std)
	}
	return snap
}

// Reset clears the accumulated statistics.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples = 0
	m.total = 0
	m.max = 0
	m.last = 0
	m.window = m.window[:0]
	m.next = 0
	m.mu.Unlock()
}
