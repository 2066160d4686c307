package networking

import "testing"

func TestFrameMetricsAggregatesPerEncoding(t *testing.T) {
	metrics := NewFrameMetrics()
	metrics.ObserveSent("zstd", 1000, 250)
	metrics.ObserveSent("zstd", 1000, 150)
	metrics.ObserveSent("raw", 400, 400)
	metrics.ObserveDrop(DropBackpressure)
	metrics.ObserveDrop(DropBackpressure)
	metrics.ObserveDrop(DropBandwidth)

	stats := metrics.Encodings()
	if got := stats["zstd"]; got.Frames != 2 || got.Ratio() != 0.2 {
		t.Fatalf("unexpected zstd stats %+v ratio=%v", got, got.Ratio())
	}
	if got := stats["raw"].Ratio(); got != 1 {
		t.Fatalf("expected raw ratio 1, got %v", got)
	}
	if names := metrics.SortedEncodings(); len(names) != 2 || names[0] != "raw" || names[1] != "zstd" {
		t.Fatalf("unexpected encoding order %v", names)
	}
	drops := metrics.Drops()
	if drops[DropBackpressure] != 2 || drops[DropBandwidth] != 1 || drops[DropEncode] != 0 {
		t.Fatalf("unexpected drops %v", drops)
	}

	//1.- Returned maps are copies.
	drops[DropEncode] = 9
	if metrics.Drops()[DropEncode] != 0 {
		t.Fatal("expected Drops to return a copy")
	}
}

func TestFrameMetricsNilSafe(t *testing.T) {
	var metrics *FrameMetrics
	metrics.ObserveSent("raw", 1, 1)
	metrics.ObserveDrop(DropEncode)
	if metrics.Encodings() != nil || metrics.Drops() != nil || len(metrics.SortedEncodings()) != 0 {
		t.Fatal("nil metrics should report nothing")
	}
	if (EncodingStats{}).Ratio() != 1 {
		t.Fatal("expected empty stats ratio 1")
	}
}
