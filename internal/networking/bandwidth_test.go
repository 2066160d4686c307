package networking

import (
	"testing"
	"time"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBandwidthRegulatorEnforcesBudget(t *testing.T) {
	clock := &stepClock{now: time.Unix(0, 0)}
	regulator := NewBandwidthRegulator(1000, clock.Now)

	if !regulator.Allow("viewer", 600) {
		t.Fatalf("expected first frame to fit the initial burst")
	}
	if regulator.Allow("viewer", 600) {
		t.Fatalf("expected second frame to exceed remaining budget")
	}
	clock.Advance(200 * time.Millisecond)
	if !regulator.Allow("viewer", 600) {
		t.Fatalf("expected refill to admit the frame")
	}

	usage := regulator.SnapshotUsage()["viewer"]
	if usage.DeniedFrames != 1 || usage.SentBytes != 1200 {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if usage.BytesPerSecond != 6000 {
		t.Fatalf("expected 6000 B/s over 200ms, got %v", usage.BytesPerSecond)
	}
}

func TestBandwidthRegulatorAdmitsOversizedFramesFromFullBucket(t *testing.T) {
	clock := &stepClock{now: time.Unix(0, 0)}
	regulator := NewBandwidthRegulator(100, clock.Now)

	if !regulator.Allow("viewer", 250) {
		t.Fatalf("expected oversized frame to pass from a full bucket")
	}
	clock.Advance(time.Second)
	if regulator.Allow("viewer", 250) {
		t.Fatalf("expected debt to be repaid before the next oversized frame")
	}
	clock.Advance(2 * time.Second)
	if !regulator.Allow("viewer", 250) {
		t.Fatalf("expected frame once the bucket refilled")
	}
}

func TestBandwidthRegulatorDisabledAndForget(t *testing.T) {
	if regulator := NewBandwidthRegulator(0, nil); regulator != nil {
		t.Fatalf("expected nil regulator for unlimited bandwidth")
	}
	var unlimited *BandwidthRegulator
	if !unlimited.Allow("viewer", 1<<30) {
		t.Fatalf("nil regulator must allow everything")
	}

	clock := &stepClock{now: time.Unix(0, 0)}
	regulator := NewBandwidthRegulator(10, clock.Now)
	regulator.Allow("viewer", 5)
	regulator.Forget("viewer")
	if usage := regulator.SnapshotUsage(); usage != nil {
		t.Fatalf("expected forgotten viewer to disappear, got %+v", usage)
	}
}

func TestFrameMetrics(t *testing.T) {
	metrics := NewFrameMetrics()
	metrics.ObserveSent("zstd", 1000, 250)
	metrics.ObserveSent("zstd", 1000, 150)
	metrics.ObserveSent("raw", 1000, 1000)
	metrics.ObserveDrop(DropBackpressure)

	stats := metrics.Encodings()["zstd"]
	if stats.Frames != 2 || stats.Ratio() != 0.2 {
		t.Fatalf("unexpected zstd stats %+v", stats)
	}
	if names := metrics.SortedEncodings(); len(names) != 2 || names[0] != "raw" {
		t.Fatalf("unexpected encodings %v", names)
	}
	if metrics.Drops()[DropBackpressure] != 1 {
		t.Fatalf("expected backpressure drop to be counted")
	}
	if (EncodingStats{}).Ratio() != 1 {
		t.Fatalf("expected neutral ratio without traffic")
	}
}
