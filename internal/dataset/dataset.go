// Package dataset holds the in-memory data model for a loaded experiment:
// spatially positioned entities, their measurement channels, and the
// category vocabulary with per-category display state.
package dataset

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/spatialscope/server/pkg/colormap"
)

// Entity is one spatially positioned record. IDs are dense and 1-based,
// so Entities[id-1] is an O(1) lookup.
type Entity struct {
	ID       int32
	Key      string
	X, Y     float64
	Category string
	Values   []float32
}

// ChannelPanel is the ordered list of measurement channel names shared by
// every entity in a dataset, plus a case-insensitive name lookup.
type ChannelPanel struct {
	names []string
	index map[string]int
}

// NewChannelPanel builds a panel from an ordered name list. Duplicate
// names (case-insensitive) are an error because the lookup would be
// ambiguous against the measurement vector layout.
func NewChannelPanel(names []string) (*ChannelPanel, error) {
	p := &ChannelPanel{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	copy(p.names, names)
	for i, name := range names {
		key := strings.ToLower(name)
		if _, ok := p.index[key]; ok {
			return nil, fmt.Errorf("duplicate channel name %q", name)
		}
		p.index[key] = i
	}
	return p, nil
}

// Index resolves a channel name to its slot in the measurement vector.
// Lookup is case-insensitive.
func (p *ChannelPanel) Index(name string) (int, bool) {
	i, ok := p.index[strings.ToLower(name)]
	return i, ok
}

// Names returns the ordered channel names.
func (p *ChannelPanel) Names() []string {
	return p.names
}

// Len returns the number of channels.
func (p *ChannelPanel) Len() int {
	return len(p.names)
}

// CategoryEntry is one category label with its display color and
// visibility flag. Visibility is the only mutable field in the model.
type CategoryEntry struct {
	Label   string
	Color   color.RGBA
	Visible bool
}

// CategoryRegistry is the ordered list of distinct category labels
// observed in a dataset.
type CategoryRegistry struct {
	entries []CategoryEntry
	index   map[string]int
}

// NewCategoryRegistry creates an empty registry.
func NewCategoryRegistry() *CategoryRegistry {
	return &CategoryRegistry{index: make(map[string]int)}
}

// Add registers a label if it is not already present, assigning the next
// palette color. Returns the entry index.
func (r *CategoryRegistry) Add(label string) int {
	if i, ok := r.index[label]; ok {
		return i
	}
	i := len(r.entries)
	c := colormap.Categorical.AtIndex(i).(color.RGBA)
	r.entries = append(r.entries, CategoryEntry{Label: label, Color: c, Visible: true})
	r.index[label] = i
	return i
}

// Lookup returns the entry for a label.
func (r *CategoryRegistry) Lookup(label string) (CategoryEntry, bool) {
	i, ok := r.index[label]
	if !ok {
		return CategoryEntry{}, false
	}
	return r.entries[i], true
}

// SetVisible flips a label's visibility. Returns false if the label is
// unknown or the flag already had the requested value.
func (r *CategoryRegistry) SetVisible(label string, visible bool) bool {
	i, ok := r.index[label]
	if !ok || r.entries[i].Visible == visible {
		return false
	}
	r.entries[i].Visible = visible
	return true
}

// IsVisible reports whether a label is currently visible. Unknown labels
// are reported visible so malformed state never hides data silently.
func (r *CategoryRegistry) IsVisible(label string) bool {
	i, ok := r.index[label]
	if !ok {
		return true
	}
	return r.entries[i].Visible
}

// Entries returns the ordered category entries.
func (r *CategoryRegistry) Entries() []CategoryEntry {
	return r.entries
}

// Len returns the number of registered categories.
func (r *CategoryRegistry) Len() int {
	return len(r.entries)
}

// Bounds is the axis-aligned bounding box of entity positions.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Width returns the X extent.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the Y extent.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Dataset is one fully loaded experiment. It is immutable after load
// except for category visibility flags.
type Dataset struct {
	Name       string
	Entities   []Entity
	Channels   *ChannelPanel
	Categories *CategoryRegistry
}

// ByID returns the entity with the given 1-based id, or nil when out of
// range.
func (d *Dataset) ByID(id int32) *Entity {
	if id < 1 || int(id) > len(d.Entities) {
		return nil
	}
	return &d.Entities[id-1]
}

// Bounds computes the position bounding box. ok is false for an empty
// dataset.
func (d *Dataset) Bounds() (Bounds, bool) {
	if len(d.Entities) == 0 {
		return Bounds{}, false
	}
	b := Bounds{
		MinX: d.Entities[0].X, MaxX: d.Entities[0].X,
		MinY: d.Entities[0].Y, MaxY: d.Entities[0].Y,
	}
	for _, e := range d.Entities[1:] {
		if e.X < b.MinX {
			b.MinX = e.X
		}
		if e.X > b.MaxX {
			b.MaxX = e.X
		}
		if e.Y < b.MinY {
			b.MinY = e.Y
		}
		if e.Y > b.MaxY {
			b.MaxY = e.Y
		}
	}
	return b, true
}

// Validate checks the invariants the viewer core assumes: dense 1-based
// ids, measurement vectors matching the panel width, and every category
// label present in the registry. Violations are loader bugs, so the
// message names the offending entity.
func (d *Dataset) Validate() error {
	width := d.Channels.Len()
	for i := range d.Entities {
		e := &d.Entities[i]
		if e.ID != int32(i+1) {
			return fmt.Errorf("entity at index %d has id %d, want dense id %d", i, e.ID, i+1)
		}
		if len(e.Values) != width {
			return fmt.Errorf("entity %d has %d measurements, panel has %d channels", e.ID, len(e.Values), width)
		}
		if _, ok := d.Categories.Lookup(e.Category); !ok {
			return fmt.Errorf("entity %d has unregistered category %q", e.ID, e.Category)
		}
	}
	return nil
}
