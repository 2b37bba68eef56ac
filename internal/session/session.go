// Package session ties the viewer engine together: one Session is one
// independent viewport over one dataset, owning the view transform,
// category filters, active channel, gate state, hover/selection, the
// spatial index, and the render buffers.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spatialscope/server/internal/cache"
	"github.com/spatialscope/server/internal/dataset"
	"github.com/spatialscope/server/internal/gate"
	"github.com/spatialscope/server/internal/render"
	"github.com/spatialscope/server/internal/spatial"
	"github.com/spatialscope/server/internal/view"
)

// ErrNoDataset is returned by operations that need a loaded dataset.
var ErrNoDataset = errors.New("no dataset loaded")

// ErrUnknownChannel is returned when activating a channel the panel
// does not contain.
var ErrUnknownChannel = errors.New("unknown channel")

// Config contains session configuration.
type Config struct {
	View view.Config

	// IndexKind selects the spatial index: "grid", "quadtree" or
	// "linear". Defaults to "grid".
	IndexKind string

	// GridCellSize is the grid bucket side in world units; zero derives
	// it from the data extent.
	GridCellSize float64

	// QuadtreeLeafSize and QuadtreeMaxDepth tune the quadtree; zero
	// uses the builder defaults.
	QuadtreeLeafSize int
	QuadtreeMaxDepth int

	// PickMargin widens the pick radius beyond the draw radius, in
	// screen pixels. Defaults to 2.
	PickMargin float64
}

// GateStatus is the caller-visible outcome of SetGate.
type GateStatus struct {
	MatchCount int      `json:"match_count"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Session is one viewer instance. All mutation goes through its mutex:
// the engine is a single logical thread per session, the lock only
// guards against racing HTTP handlers.
type Session struct {
	mu sync.Mutex

	id       string
	cfg      Config
	renderer *render.Renderer
	caches   *cache.Manager

	ds    *dataset.Dataset
	index spatial.Index
	view  *view.State
	sched *Scheduler

	visVersion   uint64
	stateVersion uint64

	channelSlot int
	channelName string

	gateConds   []gate.Condition
	gateExpr    string
	gateEnabled bool
	gateResult  *gate.Result
	gateMaskID  uint64

	hoveredID  int32
	selectedID int32

	attrs render.AttributeBuffer
	pos   render.PositionBuffer
}

// New creates a session. The renderer and cache manager are shared
// across sessions, the way the serving layer shares them across
// datasets.
func New(id string, cfg Config, renderer *render.Renderer, caches *cache.Manager) *Session {
	if cfg.PickMargin <= 0 {
		cfg.PickMargin = 2
	}
	if cfg.IndexKind == "" {
		cfg.IndexKind = "grid"
	}
	s := &Session{
		id:          id,
		cfg:         cfg,
		renderer:    renderer,
		caches:      caches,
		view:        view.NewState(cfg.View),
		channelSlot: -1,
	}
	s.sched = NewScheduler(s.paint)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Scheduler exposes the frame scheduler for the tick driver.
func (s *Session) Scheduler() *Scheduler { return s.sched }

// buildIndex builds the configured index over the dataset positions.
func (s *Session) buildIndex(ds *dataset.Dataset) spatial.Index {
	points := make([]spatial.Point, len(ds.Entities))
	for i := range ds.Entities {
		points[i] = spatial.Point{ID: ds.Entities[i].ID, X: ds.Entities[i].X, Y: ds.Entities[i].Y}
	}
	switch s.cfg.IndexKind {
	case "quadtree":
		return spatial.BuildQuadtree(points, spatial.QuadtreeOptions{
			LeafSize: s.cfg.QuadtreeLeafSize,
			MaxDepth: s.cfg.QuadtreeMaxDepth,
		})
	case "linear":
		return spatial.NewLinear(points)
	default:
		return spatial.BuildGrid(points, spatial.GridOptions{CellSize: s.cfg.GridCellSize})
	}
}

// LoadDataset replaces the dataset and atomically rebuilds every piece
// of derived state: spatial index, gate mask, caches, view fit,
// hover/selection.
func (s *Session) LoadDataset(ds *dataset.Dataset) error {
	if err := ds.Validate(); err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	index := s.buildIndex(ds)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ds = ds
	s.index = index
	s.channelSlot = -1
	s.channelName = ""
	s.gateConds = nil
	s.gateExpr = ""
	s.gateEnabled = false
	s.gateResult = nil
	s.hoveredID = 0
	s.selectedID = 0
	s.visVersion++
	s.attrs.Invalidate()

	b, ok := ds.Bounds()
	s.view.ResetToFit(b.MinX, b.MinY, b.MaxX, b.MaxY, ok)

	s.bumpLocked()
	return nil
}

// Dataset returns the loaded dataset, or nil.
func (s *Session) Dataset() *dataset.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ds
}

// IndexKind reports the active spatial index variant, or "" before any
// load.
func (s *Session) IndexKind() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return ""
	}
	return s.index.Kind()
}

// StateVersion returns the render-state version. Every mutation bumps
// it, so it keys the frame cache.
func (s *Session) StateVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateVersion
}

func (s *Session) bumpLocked() {
	s.stateVersion++
	s.sched.RequestRender()
}

// SetViewport records the drawable size.
func (s *Session) SetViewport(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, h := s.view.Viewport()
	if w == width && h == height {
		return
	}
	s.view.SetViewport(width, height)
	s.bumpLocked()
}

// Transform returns the current view transform.
func (s *Session) Transform() view.Transform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Transform()
}

// Pan shifts the view by a screen-pixel delta.
func (s *Session) Pan(dx, dy float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Pan(dx, dy)
	s.bumpLocked()
}

// ZoomAt zooms around a screen anchor.
func (s *Session) ZoomAt(sx, sy, ratio float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.ZoomAt(sx, sy, ratio)
	s.bumpLocked()
}

// ResetView refits the view to the dataset bounds.
func (s *Session) ResetView() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b dataset.Bounds
	ok := false
	if s.ds != nil {
		b, ok = s.ds.Bounds()
	}
	s.view.ResetToFit(b.MinX, b.MinY, b.MaxX, b.MaxY, ok)
	s.bumpLocked()
}

// SetCategoryVisible toggles a category filter. Hiding the category of
// the hovered or selected entity clears that state so no stale pick
// points at an invisible entity.
func (s *Session) SetCategoryVisible(label string, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ds == nil || !s.ds.Categories.SetVisible(label, visible) {
		return
	}
	s.visVersion++

	if !visible {
		if e := s.ds.ByID(s.hoveredID); e != nil && e.Category == label {
			s.hoveredID = 0
		}
		if e := s.ds.ByID(s.selectedID); e != nil && e.Category == label {
			s.selectedID = 0
		}
	}
	s.bumpLocked()
}

// VisibilityVersion returns the category-filter version.
func (s *Session) VisibilityVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visVersion
}

// SetActiveChannel switches the color mode: a channel name for channel
// mode, empty for category mode. Lookup is case-insensitive.
func (s *Session) SetActiveChannel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ds == nil {
		return ErrNoDataset
	}
	if name == "" {
		s.channelSlot = -1
		s.channelName = ""
		s.bumpLocked()
		return nil
	}
	slot, ok := s.ds.Channels.Index(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	s.channelSlot = slot
	s.channelName = s.ds.Channels.Names()[slot]
	s.bumpLocked()
	return nil
}

// ActiveChannel returns the active channel name, or "" in category
// mode.
func (s *Session) ActiveChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelName
}

// SetGate replaces the gate definition and recomputes the mask
// synchronously. A compile error leaves the gate matching nothing and
// is reported in the status, never as a pipeline failure.
func (s *Session) SetGate(conds []gate.Condition, expr string, enabled bool) (GateStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ds == nil {
		return GateStatus{}, ErrNoDataset
	}

	s.gateConds = append([]gate.Condition(nil), conds...)
	s.gateExpr = expr
	s.gateEnabled = enabled

	result, err := gate.Evaluate(s.ds, s.gateConds, expr)
	if err != nil {
		s.gateResult = nil
		s.gateMaskID++
		s.bumpLocked()
		return GateStatus{Error: err.Error()}, err
	}
	s.gateResult = result
	s.gateMaskID++
	s.bumpLocked()
	return GateStatus{MatchCount: result.MatchCount, Warnings: result.Warnings}, nil
}

// GateResult returns the current gate evaluation, or nil.
func (s *Session) GateResult() *gate.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gateResult
}

// Pick returns the id of the nearest visible entity within the pick
// radius of a screen point, or 0 when nothing is hit. Ties break to the
// first candidate seen, deterministic only for a fixed index build.
func (s *Session) Pick(sx, sy float64) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pickLocked(sx, sy)
}

func (s *Session) pickLocked(sx, sy float64) int32 {
	if s.ds == nil || len(s.ds.Entities) == 0 {
		return 0
	}
	t := s.view.Transform()
	wx, wy := t.ScreenToWorld(sx, sy)
	radius := (s.renderer.PointRadius(t.Scale) + s.cfg.PickMargin) / t.Scale

	best := int32(0)
	bestD2 := radius * radius

	consider := func(id int32) bool {
		e := s.ds.ByID(id)
		if e == nil || !s.ds.Categories.IsVisible(e.Category) {
			return true
		}
		dx, dy := e.X-wx, e.Y-wy
		d2 := dx*dx + dy*dy
		if d2 <= bestD2 && (best == 0 || d2 < bestD2) {
			best = id
			bestD2 = d2
		}
		return true
	}

	if s.index != nil {
		s.index.QueryCandidates(wx, wy, radius, consider)
	} else {
		// Correctness fallback, not a performance path.
		for i := range s.ds.Entities {
			consider(s.ds.Entities[i].ID)
		}
	}
	return best
}

// Hover picks at a screen point and records the result as the hovered
// entity. Returns the picked id.
func (s *Session) Hover(sx, sy float64) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.pickLocked(sx, sy)
	if id != s.hoveredID {
		s.hoveredID = id
		s.bumpLocked()
	}
	return id
}

// Select picks at a screen point and records the result as the selected
// entity. Picking nothing clears the selection.
func (s *Session) Select(sx, sy float64) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.pickLocked(sx, sy)
	if id != s.selectedID {
		s.selectedID = id
		s.bumpLocked()
	}
	return id
}

// Hovered returns the hovered entity id, 0 for none.
func (s *Session) Hovered() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hoveredID
}

// Selected returns the selected entity id, 0 for none.
func (s *Session) Selected() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// RequestRender marks the session dirty for the next scheduler tick.
func (s *Session) RequestRender() {
	s.sched.RequestRender()
}

// channelRangeLocked resolves the display range for the active channel,
// cached per (dataset, channel, visibility version) so pan/zoom/hover
// never recompute it.
func (s *Session) channelRangeLocked() render.Range {
	key := cache.RangeKey(s.ds.Name, s.channelName, s.visVersion)
	if s.caches != nil {
		if r, ok := s.caches.GetRange(key); ok {
			return render.Range{Low: r.Low, High: r.High}
		}
	}
	r := render.ChannelPercentileRange(s.ds, s.channelSlot)
	if s.caches != nil {
		s.caches.SetRange(key, cache.ChannelRange{Low: r.Low, High: r.High})
	}
	return r
}

func (s *Session) sceneLocked(width, height int) *render.Scene {
	scene := &render.Scene{
		Dataset:     s.ds,
		Transform:   s.view.Transform(),
		Width:       width,
		Height:      height,
		ChannelSlot: s.channelSlot,
		ChannelName: s.channelName,
		VisVersion:  s.visVersion,
		GateEnabled: s.gateEnabled,
		GateMaskID:  s.gateMaskID,
		HoveredID:   s.hoveredID,
		SelectedID:  s.selectedID,
	}
	if s.gateResult != nil {
		scene.GateMask = s.gateResult.Mask
	}
	if s.channelSlot >= 0 {
		scene.ChannelRange = s.channelRangeLocked()
	}
	return scene
}

// RenderFrame renders the current state at the given size, serving from
// the frame cache when the state version matches.
func (s *Session) RenderFrame(width, height int) ([]byte, error) {
	s.mu.Lock()
	if s.ds == nil {
		s.mu.Unlock()
		return nil, ErrNoDataset
	}
	s.view.SetViewport(width, height)

	key := cache.FrameKey(s.id, s.stateVersion, width, height)
	if s.caches != nil {
		if data, ok := s.caches.GetFrame(key); ok {
			s.mu.Unlock()
			return data, nil
		}
	}

	scene := s.sceneLocked(width, height)
	data, err := s.renderer.RenderFrame(scene, &s.attrs, &s.pos)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if s.caches != nil {
		s.caches.SetFrame(key, data)
	}
	return data, nil
}

// paint is the scheduler callback: it re-renders the current viewport
// into the frame cache so the next frame fetch is warm.
func (s *Session) paint() {
	s.mu.Lock()
	w, h := s.view.Viewport()
	ready := s.ds != nil && w > 0 && h > 0
	s.mu.Unlock()
	if !ready {
		return
	}
	// Errors here only cost the warm cache; the pull path re-renders.
	_, _ = s.RenderFrame(w, h)
}
