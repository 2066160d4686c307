package networking

import (
	"math"
	"sync"
	"time"
)

// BandwidthUsage captures the throttling state for a single viewer.
type BandwidthUsage struct {
	ViewerID        string
	AvailableBytes  float64
	BytesPerSecond  float64
	ObservedSeconds float64
	SentBytes       int64
	DeniedFrames    int64
	LastUpdated     time.Time
}

type bandwidthBucket struct {
	tokens  float64
	last    time.Time
	started time.Time
	sent    int64
	denied  int64
}

// BandwidthRegulator enforces a token-bucket byte budget per viewer. The
// bucket holds one second of budget. A frame larger than the whole bucket is
// let through when the bucket is full and leaves it in debt, so a low limit
// slows a viewer down instead of starving it.
type BandwidthRegulator struct {
	mu       sync.Mutex
	buckets  map[string]*bandwidthBucket
	capacity float64
	now      func() time.Time
}

// NewBandwidthRegulator constructs a regulator enforcing bytesPerSecond.
// A non-positive rate disables throttling and returns nil; a nil regulator
// allows everything.
func NewBandwidthRegulator(bytesPerSecond float64, clock func() time.Time) *BandwidthRegulator {
	if bytesPerSecond <= 0 || math.IsInf(bytesPerSecond, 0) || math.IsNaN(bytesPerSecond) {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &BandwidthRegulator{
		buckets:  make(map[string]*bandwidthBucket),
		capacity: bytesPerSecond,
		now:      clock,
	}
}

func (r *BandwidthRegulator) replenish(bucket *bandwidthBucket, now time.Time) {
	if !now.After(bucket.last) {
		return
	}
	bucket.tokens = math.Min(r.capacity, bucket.tokens+now.Sub(bucket.last).Seconds()*r.capacity)
	bucket.last = now
}

// Allow charges payloadBytes against the viewer's budget and reports whether
// the frame may be sent.
func (r *BandwidthRegulator) Allow(viewerID string, payloadBytes int) bool {
	if r == nil || viewerID == "" || payloadBytes <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	bucket := r.buckets[viewerID]
	if bucket == nil {
		//1.- New viewers start with a full bucket so the first frame goes out immediately.
		bucket = &bandwidthBucket{tokens: r.capacity, last: now, started: now}
		r.buckets[viewerID] = bucket
	}
	r.replenish(bucket, now)

	request := float64(payloadBytes)
	full := bucket.tokens >= r.capacity
	if request > bucket.tokens && !(full && request > r.capacity) {
		bucket.denied++
		return false
	}
	//2.- Oversized frames may push the bucket negative; refills pay the debt back first.
	bucket.tokens -= request
	bucket.sent += int64(payloadBytes)
	return true
}

// Forget removes the bucket for a disconnected viewer.
func (r *BandwidthRegulator) Forget(viewerID string) {
	if r == nil || viewerID == "" {
		return
	}
	r.mu.Lock()
	delete(r.buckets, viewerID)
	r.mu.Unlock()
}

// SnapshotUsage reports the current throttling statistics per viewer.
func (r *BandwidthRegulator) SnapshotUsage() map[string]BandwidthUsage {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buckets) == 0 {
		return nil
	}
	now := r.now()
	snapshot := make(map[string]BandwidthUsage, len(r.buckets))
	for viewerID, bucket := range r.buckets {
		r.replenish(bucket, now)
		observed := math.Max(now.Sub(bucket.started).Seconds(), 0)
		rate := 0.0
		if observed > 0 {
			rate = float64(bucket.sent) / observed
		}
		snapshot[viewerID] = BandwidthUsage{
			ViewerID:        viewerID,
			AvailableBytes:  math.Max(bucket.tokens, 0),
			BytesPerSecond:  rate,
			ObservedSeconds: observed,
			SentBytes:       bucket.sent,
			DeniedFrames:    bucket.denied,
			LastUpdated:     bucket.last,
		}
	}
	return snapshot
}
