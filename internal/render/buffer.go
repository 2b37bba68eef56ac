package render

import (
	"image/color"

	"github.com/spatialscope/server/internal/dataset"
)

// PositionBuffer is the static vertex data: world positions packed once
// per dataset identity. Panning and zooming never repack it; only
// replacing the entity array does.
type PositionBuffer struct {
	source *dataset.Dataset
	xs, ys []float64
}

// Sync repacks positions if the dataset identity changed. Returns true
// when an upload happened.
func (b *PositionBuffer) Sync(ds *dataset.Dataset) bool {
	if b.source == ds {
		return false
	}
	b.source = ds
	b.xs = make([]float64, len(ds.Entities))
	b.ys = make([]float64, len(ds.Entities))
	for i := range ds.Entities {
		b.xs[i] = ds.Entities[i].X
		b.ys[i] = ds.Entities[i].Y
	}
	return true
}

// AttrKey is the composite cache key for the dynamic attribute buffer.
// Pan/zoom/hover change none of these fields, so they never force a
// rebuild; only a transform-uniform update. The color mode is its own
// field: a channel may carry any name, including "category".
type AttrKey struct {
	CategoryMode bool
	Channel      string // active channel name; empty in category mode
	VisVersion   uint64
	Stride       int
	MaskID       uint64
}

// AttributeBuffer is the per-frame-varying vertex data: fill color, LOD
// visibility, and gate membership per entity. Rebuilt only when its key
// changes.
type AttributeBuffer struct {
	key   AttrKey
	valid bool

	Fill    []color.RGBA
	Visible []bool
	Gated   []bool

	rebuilds uint64
}

// Sync rebuilds the buffer through build when key differs from the
// cached key. Returns true when a rebuild happened.
func (b *AttributeBuffer) Sync(key AttrKey, n int, build func(*AttributeBuffer)) bool {
	if b.valid && b.key == key && len(b.Fill) == n {
		return false
	}
	if cap(b.Fill) < n {
		b.Fill = make([]color.RGBA, n)
		b.Visible = make([]bool, n)
		b.Gated = make([]bool, n)
	} else {
		b.Fill = b.Fill[:n]
		b.Visible = b.Visible[:n]
		b.Gated = b.Gated[:n]
	}
	build(b)
	b.key = key
	b.valid = true
	b.rebuilds++
	return true
}

// Rebuilds returns how many uploads this buffer has seen; tests use it
// to assert that pan/zoom never invalidates the buffer.
func (b *AttributeBuffer) Rebuilds() uint64 {
	return b.rebuilds
}

// Invalidate forces the next Sync to rebuild.
func (b *AttributeBuffer) Invalidate() {
	b.valid = false
}
