package view

import (
	"math"
	"testing"
)

const epsilon = 1e-9

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

func TestRoundTrip(t *testing.T) {
	transforms := []Transform{
		{Scale: 1},
		{Scale: 264, TX: 400, TY: 300},
		{Scale: 0.001, TX: -123.4, TY: 5678.9},
		{Scale: 20000, TX: 17, TY: -3},
	}
	points := [][2]float64{{0, 0}, {1, 1}, {-37.5, 0.125}, {1e4, -1e4}}

	for _, tr := range transforms {
		for _, p := range points {
			sx, sy := tr.WorldToScreen(p[0], p[1])
			x, y := tr.ScreenToWorld(sx, sy)
			if !approxEqual(x, p[0], 1e-6) || !approxEqual(y, p[1], 1e-6) {
				t.Errorf("transform %+v: round trip of %v gave (%v, %v)", tr, p, x, y)
			}
		}
	}
}

func TestResetToFitCentersData(t *testing.T) {
	s := NewState(Config{})
	s.SetViewport(800, 600)
	s.ResetToFit(-1, -1, 1, 1, true)

	// Data center must land on the viewport center.
	sx, sy := s.Transform().WorldToScreen(0, 0)
	if !approxEqual(sx, 400, epsilon) || !approxEqual(sy, 300, epsilon) {
		t.Errorf("data center at (%v, %v), want (400, 300)", sx, sy)
	}

	// Half-extent 1 at fit fraction 0.44 of the smaller dimension.
	if want := 0.44 * 600; !approxEqual(s.Scale(), want, epsilon) {
		t.Errorf("Scale = %v, want %v", s.Scale(), want)
	}
}

func TestResetToFitEmptyDataset(t *testing.T) {
	s := NewState(Config{})
	s.SetViewport(400, 400)
	s.ResetToFit(0, 0, 0, 0, false)

	sx, sy := s.Transform().WorldToScreen(0, 0)
	if !approxEqual(sx, 200, epsilon) || !approxEqual(sy, 200, epsilon) {
		t.Errorf("origin at (%v, %v), want (200, 200)", sx, sy)
	}
	if s.Scale() < 20 {
		t.Errorf("Scale = %v, below MinScale floor", s.Scale())
	}
}

func TestResetToFitRespectsMinScale(t *testing.T) {
	s := NewState(Config{MinScale: 50, MaxScale: 100})
	s.SetViewport(800, 600)
	// Huge data extent would push scale far below the floor.
	s.ResetToFit(-1e6, -1e6, 1e6, 1e6, true)
	if s.Scale() != 50 {
		t.Errorf("Scale = %v, want MinScale 50", s.Scale())
	}
}

func TestZoomAtPreservesAnchor(t *testing.T) {
	s := NewState(Config{})
	s.SetViewport(800, 600)
	s.ResetToFit(-1, -1, 1, 1, true)

	anchorX, anchorY := 213.7, 455.1
	wx, wy := s.Transform().ScreenToWorld(anchorX, anchorY)

	for _, ratio := range []float64{1.25, 0.8, 3, 0.1} {
		s.ZoomAt(anchorX, anchorY, ratio)
		sx, sy := s.Transform().WorldToScreen(wx, wy)
		if !approxEqual(sx, anchorX, 1e-6) || !approxEqual(sy, anchorY, 1e-6) {
			t.Fatalf("ratio %v moved anchor to (%v, %v), want (%v, %v)", ratio, sx, sy, anchorX, anchorY)
		}
	}
}

func TestZoomClampedToRange(t *testing.T) {
	s := NewState(Config{MinScale: 10, MaxScale: 100})
	s.SetViewport(800, 600)
	s.ResetToFit(-1, -1, 1, 1, true)

	for i := 0; i < 20; i++ {
		s.ZoomAt(400, 300, 10)
	}
	if s.Scale() != 100 {
		t.Errorf("Scale = %v, want clamp at 100", s.Scale())
	}
	for i := 0; i < 20; i++ {
		s.ZoomAt(400, 300, 0.1)
	}
	if s.Scale() != 10 {
		t.Errorf("Scale = %v, want clamp at 10", s.Scale())
	}
}

func TestZoomIgnoresNonPositiveRatio(t *testing.T) {
	s := NewState(Config{})
	s.SetViewport(800, 600)
	before := s.Transform()
	s.ZoomAt(100, 100, 0)
	s.ZoomAt(100, 100, -2)
	if s.Transform() != before {
		t.Error("non-positive zoom ratio should be a no-op")
	}
}

func TestPanIsUnclamped(t *testing.T) {
	s := NewState(Config{})
	s.SetViewport(800, 600)
	s.ResetToFit(-1, -1, 1, 1, true)

	before := s.Transform()
	s.Pan(1e7, -1e7)
	after := s.Transform()
	if !approxEqual(after.TX, before.TX+1e7, epsilon) || !approxEqual(after.TY, before.TY-1e7, epsilon) {
		t.Errorf("pan delta not applied: %+v -> %+v", before, after)
	}
	if after.Scale != before.Scale {
		t.Error("pan must not change scale")
	}
}
