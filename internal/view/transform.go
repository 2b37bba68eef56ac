// Package view maps between world coordinates and screen pixels.
package view

import "math"

// Transform is the stateless world→screen mapping: screen = world*Scale
// + translate. It is a value type so a frame can hold a consistent
// snapshot while the live state mutates.
type Transform struct {
	Scale  float64
	TX, TY float64
}

// WorldToScreen maps a world position to screen pixels.
func (t Transform) WorldToScreen(x, y float64) (sx, sy float64) {
	return x*t.Scale + t.TX, y*t.Scale + t.TY
}

// ScreenToWorld is the exact inverse of WorldToScreen.
func (t Transform) ScreenToWorld(sx, sy float64) (x, y float64) {
	return (sx - t.TX) / t.Scale, (sy - t.TY) / t.Scale
}

// Config bounds the zoom range and sizes the reset-to-fit view.
type Config struct {
	// MinScale and MaxScale clamp Scale (screen pixels per world unit).
	MinScale float64
	MaxScale float64
	// FitFraction of min(viewport width, height) that the larger data
	// half-extent occupies after ResetToFit.
	FitFraction float64
}

// DefaultConfig returns the viewer defaults.
func DefaultConfig() Config {
	return Config{MinScale: 20, MaxScale: 20000, FitFraction: 0.44}
}

// State is the mutable view: the current transform plus viewport size.
// Scale is always clamped; panning is unclamped.
type State struct {
	cfg           Config
	t             Transform
	width, height int
}

// NewState creates a view state. Zeroed config fields fall back to
// defaults.
func NewState(cfg Config) *State {
	def := DefaultConfig()
	if cfg.MinScale <= 0 {
		cfg.MinScale = def.MinScale
	}
	if cfg.MaxScale <= cfg.MinScale {
		cfg.MaxScale = def.MaxScale
	}
	if cfg.FitFraction <= 0 {
		cfg.FitFraction = def.FitFraction
	}
	return &State{cfg: cfg, t: Transform{Scale: cfg.MinScale}}
}

// SetViewport records the drawable size in pixels.
func (s *State) SetViewport(width, height int) {
	s.width, s.height = width, height
}

// Viewport returns the drawable size.
func (s *State) Viewport() (width, height int) {
	return s.width, s.height
}

// Transform returns the current transform snapshot.
func (s *State) Transform() Transform {
	return s.t
}

// Scale returns the current scale.
func (s *State) Scale() float64 {
	return s.t.Scale
}

func (s *State) clampScale(scale float64) float64 {
	return math.Min(math.Max(scale, s.cfg.MinScale), s.cfg.MaxScale)
}

// ResetToFit recomputes the transform so the data bounds sit centered in
// the viewport at the configured fit fraction. Without bounds (empty
// dataset) the world origin is centered at the fraction of the smaller
// viewport dimension, floored at MinScale.
func (s *State) ResetToFit(minX, minY, maxX, maxY float64, hasData bool) {
	minDim := float64(s.width)
	if float64(s.height) < minDim {
		minDim = float64(s.height)
	}

	if !hasData {
		s.t.Scale = s.clampScale(s.cfg.FitFraction * minDim)
		s.t.TX = float64(s.width) / 2
		s.t.TY = float64(s.height) / 2
		return
	}

	halfExtent := math.Max(maxX-minX, maxY-minY) / 2
	if halfExtent <= 0 {
		halfExtent = 1
	}
	s.t.Scale = s.clampScale(s.cfg.FitFraction * minDim / halfExtent)

	cx := (minX + maxX) / 2
	cy := (minY + maxY) / 2
	s.t.TX = float64(s.width)/2 - cx*s.t.Scale
	s.t.TY = float64(s.height)/2 - cy*s.t.Scale
}

// Pan shifts the view by a screen-pixel delta. Unclamped: the world may
// be dragged arbitrarily far off-screen.
func (s *State) Pan(dx, dy float64) {
	s.t.TX += dx
	s.t.TY += dy
}

// ZoomAt rescales around a screen-space anchor: the world point under
// the anchor before the zoom maps to the same pixel afterwards.
func (s *State) ZoomAt(sx, sy, ratio float64) {
	if ratio <= 0 {
		return
	}
	wx, wy := s.t.ScreenToWorld(sx, sy)
	s.t.Scale = s.clampScale(s.t.Scale * ratio)
	s.t.TX = sx - wx*s.t.Scale
	s.t.TY = sy - wy*s.t.Scale
}
