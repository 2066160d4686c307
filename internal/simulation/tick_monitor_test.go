package simulation

import (
	"testing"
	"time"
)

func TestTickMonitorAggregates(t *testing.T) {
	monitor := NewTickMonitorWindow(4)
	for _, d := range []time.Duration{10, 20, 30} {
		monitor.Observe(d * time.Millisecond)
	}
	monitor.Observe(0)

	snap := monitor.Snapshot()
	if snap.Samples != 3 {
		t.Fatalf("expected 3 samples, got %d", snap.Samples)
	}
	if snap.Average != 20*time.Millisecond || snap.Max != 30*time.Millisecond || snap.Last != 30*time.Millisecond {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.StdDev != 10*time.Millisecond {
		t.Fatalf("expected 10ms std dev, got %v", snap.StdDev)
	}
	if fps := snap.AverageFPS(); fps != 50 {
		t.Fatalf("expected 50 fps, got %v", fps)
	}
}

func TestTickMonitorWindowWraps(t *testing.T) {
	monitor := NewTickMonitorWindow(2)
	monitor.Observe(time.Millisecond)
	monitor.Observe(5 * time.Millisecond)
	monitor.Observe(5 * time.Millisecond)

	snap := monitor.Snapshot()
	if snap.StdDev != 0 {
		t.Fatalf("expected the oldest sample to be evicted, got std dev %v", snap.StdDev)
	}
	if snap.Samples != 3 {
		t.Fatalf("lifetime samples should keep counting, got %d", snap.Samples)
	}

	monitor.Reset()
	if snap := monitor.Snapshot(); snap.Samples != 0 || snap.StdDev != 0 {
		t.Fatalf("expected reset snapshot, got %+v", snap)
	}
}

func TestTickMonitorNilSafe(t *testing.T) {
	var monitor *TickMonitor
	monitor.Observe(time.Millisecond)
	if snap := monitor.Snapshot(); snap.Samples != 0 {
		t.Fatalf("expected empty snapshot from nil monitor")
	}
}
