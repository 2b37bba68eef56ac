package cache

import (
	"testing"
	"time"
)

func TestFrameKey(t *testing.T) {
	k1 := FrameKey("s1", 3, 800, 600)
	k2 := FrameKey("s1", 4, 800, 600)
	if k1 == k2 {
		t.Fatal("different state versions must produce different frame keys")
	}
	k3 := FrameKey("s1", 3, 801, 600)
	if k1 == k3 {
		t.Fatal("different viewports must produce different frame keys")
	}
	if k1 != FrameKey("s1", 3, 800, 600) {
		t.Fatal("frame keys must be stable")
	}
}

func TestRangeKey(t *testing.T) {
	k1 := RangeKey("ds", "CD3E", 1)
	k2 := RangeKey("ds", "CD3E", 2)
	if k1 == k2 {
		t.Fatal("visibility version must be part of the range key")
	}
}

func TestManagerRoundTrip(t *testing.T) {
	m, err := NewManager(Config{FrameCacheSizeMB: 8, FrameTTL: time.Minute, RangeCacheSize: 16})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if _, ok := m.GetFrame("missing"); ok {
		t.Error("unexpected frame cache hit")
	}
	if err := m.SetFrame("f", []byte{1, 2, 3}); err != nil {
		t.Fatalf("SetFrame: %v", err)
	}
	data, ok := m.GetFrame("f")
	if !ok || len(data) != 3 {
		t.Fatalf("GetFrame = (%v, %v)", data, ok)
	}

	m.SetRange("r", ChannelRange{Low: 0.1, High: 4.2})
	r, ok := m.GetRange("r")
	if !ok || r.Low != 0.1 || r.High != 4.2 {
		t.Fatalf("GetRange = (%+v, %v)", r, ok)
	}
}
