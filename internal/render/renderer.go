// Package render draws viewer frames with fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"sort"
	"sync"

	"github.com/fogleman/gg"
	"github.com/spatialscope/server/internal/dataset"
	"github.com/spatialscope/server/internal/gate"
	"github.com/spatialscope/server/internal/view"
	"github.com/spatialscope/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	// PointRadiusMin/Max clamp the zoom-dependent draw radius (pixels).
	PointRadiusMin float64
	PointRadiusMax float64
	// LODThreshold is the scale below which entities are subsampled.
	LODThreshold float64
	// LODMaxStride caps the subsampling stride.
	LODMaxStride int
	// Colormap names the channel-intensity ramp.
	Colormap string
}

// DefaultConfig returns the renderer defaults.
func DefaultConfig() Config {
	return Config{
		PointRadiusMin: 1.5,
		PointRadiusMax: 8,
		LODThreshold:   160,
		LODMaxStride:   12,
		Colormap:       "expression",
	}
}

// rangeExponent compresses the low end of the normalized channel range
// so dim signal stays distinguishable.
const rangeExponent = 0.65

// Range is a channel's display range, normally the 5th/95th percentile
// of values over visible categories.
type Range struct {
	Low, High float64
}

// Scene is everything one frame consumes. It is a snapshot: the renderer
// never reaches back into mutable session state.
type Scene struct {
	Dataset   *dataset.Dataset
	Transform view.Transform
	Width     int
	Height    int

	// ChannelSlot is the measurement slot colored by, or -1 for
	// category mode.
	ChannelSlot  int
	ChannelName  string
	ChannelRange Range

	VisVersion uint64

	GateEnabled bool
	GateMask    *gate.Bitset
	GateMaskID  uint64

	HoveredID  int32
	SelectedID int32
}

// Renderer renders scenes. Safe for concurrent use; per-viewer state
// lives in the buffers passed to RenderFrame.
type Renderer struct {
	config     Config
	bufferPool sync.Pool
	ramp       colormap.Colormap
}

// NewRenderer creates a renderer.
func NewRenderer(cfg Config) *Renderer {
	def := DefaultConfig()
	if cfg.PointRadiusMin <= 0 {
		cfg.PointRadiusMin = def.PointRadiusMin
	}
	if cfg.PointRadiusMax < cfg.PointRadiusMin {
		cfg.PointRadiusMax = def.PointRadiusMax
	}
	if cfg.LODThreshold <= 0 {
		cfg.LODThreshold = def.LODThreshold
	}
	if cfg.LODMaxStride <= 0 {
		cfg.LODMaxStride = def.LODMaxStride
	}
	return &Renderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
		ramp: colormap.ByName(cfg.Colormap),
	}
}

// LODStride returns the subsampling stride for a scale: 1 at or above
// the threshold, otherwise clamp(ceil(threshold/scale), 1, max). Strided
// entities are only hidden from drawing; picking still sees them.
func (r *Renderer) LODStride(scale float64) int {
	if scale >= r.config.LODThreshold {
		return 1
	}
	stride := int(math.Ceil(r.config.LODThreshold / scale))
	if stride < 1 {
		stride = 1
	}
	if stride > r.config.LODMaxStride {
		stride = r.config.LODMaxStride
	}
	return stride
}

// PointRadius returns the draw radius for a scale. A function of scale
// only, never per-entity.
func (r *Renderer) PointRadius(scale float64) float64 {
	radius := scale * 0.01
	if radius < r.config.PointRadiusMin {
		radius = r.config.PointRadiusMin
	}
	if radius > r.config.PointRadiusMax {
		radius = r.config.PointRadiusMax
	}
	return radius
}

// ChannelPercentileRange computes the 5th/95th percentile of one
// channel's values restricted to currently visible categories. Expensive
// (sorts a copy), so callers cache it per (channel, visibility version).
func ChannelPercentileRange(ds *dataset.Dataset, slot int) Range {
	var values []float64
	for i := range ds.Entities {
		e := &ds.Entities[i]
		if !ds.Categories.IsVisible(e.Category) {
			continue
		}
		values = append(values, float64(e.Values[slot]))
	}
	if len(values) == 0 {
		return Range{Low: 0, High: 1}
	}
	sort.Float64s(values)
	low := values[int(0.05*float64(len(values)-1))]
	high := values[int(math.Ceil(0.95 * float64(len(values)-1)))]
	if high <= low {
		high = low + 1
	}
	return Range{Low: low, High: high}
}

// channelColor normalizes a value into the display range, applies the
// low-end compression exponent, and samples the ramp.
func (r *Renderer) channelColor(v float64, rng Range) color.RGBA {
	t := (v - rng.Low) / (rng.High - rng.Low)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	t = math.Pow(t, rangeExponent)
	return r.ramp.At(t).(color.RGBA)
}

// attrKey derives the dynamic-buffer key from a scene.
func (r *Renderer) attrKey(scene *Scene) AttrKey {
	key := AttrKey{
		VisVersion: scene.VisVersion,
		Stride:     r.LODStride(scene.Transform.Scale),
	}
	if scene.ChannelSlot >= 0 {
		key.Channel = scene.ChannelName
	} else {
		key.CategoryMode = true
	}
	if scene.GateEnabled && scene.GateMask != nil {
		key.MaskID = scene.GateMaskID
	}
	return key
}

// buildAttrs fills the dynamic buffer for a scene.
func (r *Renderer) buildAttrs(scene *Scene, stride int, b *AttributeBuffer) {
	ds := scene.Dataset
	for i := range ds.Entities {
		e := &ds.Entities[i]

		visible := ds.Categories.IsVisible(e.Category)
		if visible && stride > 1 && int(e.ID)%stride != 0 {
			visible = false
		}
		b.Visible[i] = visible

		if scene.ChannelSlot >= 0 {
			b.Fill[i] = r.channelColor(float64(e.Values[scene.ChannelSlot]), scene.ChannelRange)
		} else if entry, ok := ds.Categories.Lookup(e.Category); ok {
			b.Fill[i] = entry.Color
		}

		b.Gated[i] = scene.GateEnabled && scene.GateMask != nil &&
			scene.GateMask.Get(int(e.ID)-1) && ds.Categories.IsVisible(e.Category)
	}
}

// RenderFrame syncs the buffers against the scene, draws every layer,
// and returns the encoded PNG.
func (r *Renderer) RenderFrame(scene *Scene, attrs *AttributeBuffer, pos *PositionBuffer) ([]byte, error) {
	if scene.Width <= 0 || scene.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", scene.Width, scene.Height)
	}

	pos.Sync(scene.Dataset)
	stride := r.LODStride(scene.Transform.Scale)
	attrs.Sync(r.attrKey(scene), len(scene.Dataset.Entities), func(b *AttributeBuffer) {
		r.buildAttrs(scene, stride, b)
	})

	dc := gg.NewContext(scene.Width, scene.Height)
	r.Draw(dc, scene, attrs, pos)
	return r.encodeContext(dc)
}

// Draw renders the scene layers back to front onto an existing context.
func (r *Renderer) Draw(dc *gg.Context, scene *Scene, attrs *AttributeBuffer, pos *PositionBuffer) {
	dc.SetColor(color.White)
	dc.Clear()

	t := scene.Transform
	radius := r.PointRadius(t.Scale)

	r.drawBoundary(dc, scene)
	r.drawBasePoints(dc, scene, attrs, pos, radius)
	r.drawGateRings(dc, scene, attrs, pos, radius)
	r.drawFocus(dc, scene, attrs, scene.HoveredID, radius*1.6, color.RGBA{51, 51, 51, 255})
	r.drawFocus(dc, scene, attrs, scene.SelectedID, radius*1.9, color.RGBA{0, 0, 0, 255})
	r.drawScaleBar(dc, scene)
	r.drawModeCaption(dc, scene)
}

// drawBoundary draws the tissue/context extent behind the points.
func (r *Renderer) drawBoundary(dc *gg.Context, scene *Scene) {
	b, ok := scene.Dataset.Bounds()
	if !ok {
		return
	}
	t := scene.Transform
	padX := b.Width() * 0.02
	padY := b.Height() * 0.02
	x0, y0 := t.WorldToScreen(b.MinX-padX, b.MinY-padY)
	x1, y1 := t.WorldToScreen(b.MaxX+padX, b.MaxY+padY)

	dc.SetRGBA255(245, 246, 248, 255)
	dc.DrawRectangle(x0, y0, x1-x0, y1-y0)
	dc.Fill()
	dc.SetRGBA255(208, 211, 218, 255)
	dc.SetLineWidth(1)
	dc.DrawRectangle(x0, y0, x1-x0, y1-y0)
	dc.Stroke()
}

func (r *Renderer) drawBasePoints(dc *gg.Context, scene *Scene, attrs *AttributeBuffer, pos *PositionBuffer, radius float64) {
	ds := scene.Dataset
	t := scene.Transform
	w, h := float64(scene.Width), float64(scene.Height)
	channelMode := scene.ChannelSlot >= 0

	for i := range ds.Entities {
		if !attrs.Visible[i] {
			continue
		}
		id := ds.Entities[i].ID
		if id == scene.HoveredID || id == scene.SelectedID {
			continue
		}
		sx, sy := t.WorldToScreen(pos.xs[i], pos.ys[i])
		if sx < -radius || sx > w+radius || sy < -radius || sy > h+radius {
			continue
		}
		dc.SetColor(attrs.Fill[i])
		dc.DrawCircle(sx, sy, radius)
		dc.Fill()
	}

	if !channelMode {
		return
	}

	// Second pass in channel mode: a thin category-colored ring so
	// category identity survives while fill encodes the channel.
	dc.SetLineWidth(1)
	for i := range ds.Entities {
		if !attrs.Visible[i] {
			continue
		}
		id := ds.Entities[i].ID
		if id == scene.HoveredID || id == scene.SelectedID {
			continue
		}
		sx, sy := t.WorldToScreen(pos.xs[i], pos.ys[i])
		if sx < -radius || sx > w+radius || sy < -radius || sy > h+radius {
			continue
		}
		entry, ok := ds.Categories.Lookup(ds.Entities[i].Category)
		if !ok {
			continue
		}
		dc.SetColor(entry.Color)
		dc.DrawCircle(sx, sy, radius)
		dc.Stroke()
	}
}

func (r *Renderer) drawGateRings(dc *gg.Context, scene *Scene, attrs *AttributeBuffer, pos *PositionBuffer, radius float64) {
	if !scene.GateEnabled || scene.GateMask == nil {
		return
	}
	ds := scene.Dataset
	t := scene.Transform
	w, h := float64(scene.Width), float64(scene.Height)

	dc.SetRGBA255(233, 30, 99, 255)
	dc.SetLineWidth(1.5)
	for i := range ds.Entities {
		// Rings follow LOD: no highlight on a point whose base circle
		// was strided out.
		if !attrs.Gated[i] || !attrs.Visible[i] {
			continue
		}
		sx, sy := t.WorldToScreen(pos.xs[i], pos.ys[i])
		if sx < -radius-2 || sx > w+radius+2 || sy < -radius-2 || sy > h+radius+2 {
			continue
		}
		dc.DrawCircle(sx, sy, radius+1.5)
		dc.Stroke()
	}
}

// drawFocus draws the hovered or selected entity oversized with a
// contrasting ring, on top of everything else.
func (r *Renderer) drawFocus(dc *gg.Context, scene *Scene, attrs *AttributeBuffer, id int32, radius float64, ring color.RGBA) {
	if id == 0 {
		return
	}
	e := scene.Dataset.ByID(id)
	if e == nil {
		return
	}
	sx, sy := scene.Transform.WorldToScreen(e.X, e.Y)

	dc.SetColor(attrs.Fill[id-1])
	dc.DrawCircle(sx, sy, radius)
	dc.Fill()

	dc.SetColor(color.White)
	dc.SetLineWidth(3)
	dc.DrawCircle(sx, sy, radius)
	dc.Stroke()

	dc.SetColor(ring)
	dc.SetLineWidth(1.5)
	dc.DrawCircle(sx, sy, radius+1.5)
	dc.Stroke()
}

// drawScaleBar draws a bottom-left bar covering a round world length.
func (r *Renderer) drawScaleBar(dc *gg.Context, scene *Scene) {
	scale := scene.Transform.Scale
	if scale <= 0 {
		return
	}
	// Pick 1/2/5 x 10^k world units so the bar lands near 100 px.
	target := 100.0 / scale
	mag := math.Pow(10, math.Floor(math.Log10(target)))
	worldLen := mag
	for _, m := range []float64{1, 2, 5, 10} {
		if mag*m >= target {
			worldLen = mag * m
			break
		}
	}
	px := worldLen * scale

	x := 16.0
	y := float64(scene.Height) - 20
	dc.SetRGBA255(51, 51, 51, 255)
	dc.SetLineWidth(2)
	dc.DrawLine(x, y, x+px, y)
	dc.Stroke()
	dc.DrawLine(x, y-4, x, y+4)
	dc.Stroke()
	dc.DrawLine(x+px, y-4, x+px, y+4)
	dc.Stroke()
	dc.DrawString(formatWorldLength(worldLen), x, y-8)
}

func formatWorldLength(v float64) string {
	if v >= 1 {
		return fmt.Sprintf("%g", v)
	}
	return fmt.Sprintf("%.3g", v)
}

// drawModeCaption labels the active color mode top-left.
func (r *Renderer) drawModeCaption(dc *gg.Context, scene *Scene) {
	caption := "category"
	if scene.ChannelSlot >= 0 {
		caption = "channel: " + scene.ChannelName
	}
	dc.SetRGBA255(51, 51, 51, 255)
	dc.DrawString(caption, 16, 20)
}

func (r *Renderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
