package networking

import (
	"sort"
	"sync"
)

// DropReason explains why a frame was not delivered to a viewer.
type DropReason string

const (
	// DropBandwidth means the viewer's byte budget was exhausted.
	DropBandwidth DropReason = "bandwidth"
	// DropBackpressure means the viewer's send queue was full.
	DropBackpressure DropReason = "backpressure"
	// DropEncode means compression failed.
	DropEncode DropReason = "encode"
)

// EncodingStats aggregates delivered frames for one encoding.
type EncodingStats struct {
	Frames          uint64
	RawBytes        uint64
	CompressedBytes uint64
}

// Ratio is the mean compressed/raw size ratio, or 1 without traffic.
func (s EncodingStats) Ratio() float64 {
	if s.RawBytes == 0 {
		return 1
	}
	return float64(s.CompressedBytes) / float64(s.RawBytes)
}

// FrameMetrics tracks frame delivery across all transports.
type FrameMetrics struct {
	mu        sync.RWMutex
	encodings map[string]EncodingStats
	drops     map[DropReason]uint64
}

// NewFrameMetrics constructs an empty metrics tracker.
func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		encodings: make(map[string]EncodingStats),
		drops:     make(map[DropReason]uint64),
	}
}

// ObserveSent records a delivered frame.
func (m *FrameMetrics) ObserveSent(encoding string, rawBytes, compressedBytes int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.encodings[encoding]
	stats.Frames++
	stats.RawBytes += uint64(rawBytes)
	stats.CompressedBytes += uint64(compressedBytes)
	m.encodings[encoding] = stats
	m.mu.Unlock()
}

// ObserveDrop records a frame that was not delivered.
func (m *FrameMetrics) ObserveDrop(reason DropReason) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.drops[reason]++
	m.mu.Unlock()
}

// Encodings returns the per-encoding statistics keyed by encoding name.
func (m *FrameMetrics) Encodings() map[string]EncodingStats {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]EncodingStats, len(m.encodings))
	for name, stats := range m.encodings {
		out[name] = stats
	}
	return out
}

// Drops returns a copy of the drop counters.
func (m *FrameMetrics) Drops() map[DropReason]uint64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[DropReason]uint64, len(m.drops))
	for reason, count := range m.drops {
		out[reason] = count
	}
	return out
}

// SortedEncodings lists the observed encodings in name order.
func (m *FrameMetrics) SortedEncodings() []string {
	stats := m.Encodings()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
