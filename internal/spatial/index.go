// Package spatial provides point indexes for nearest-entity picking.
//
// Both index variants answer circle queries with a conservative candidate
// superset: every point truly within the radius is yielded, but points
// outside it may be too. Callers apply the exact distance cutoff.
package spatial

// Point is one indexed position. ID is the owning entity's 1-based id.
type Point struct {
	ID   int32
	X, Y float64
}

// Index answers candidate queries for a fixed point set. Indexes are
// built once per dataset version and never mutated.
type Index interface {
	// Kind identifies the index variant ("grid", "quadtree", "linear").
	Kind() string

	// QueryCandidates calls visit for every candidate within the query
	// circle's conservative cover. visit returning false stops the scan.
	// Candidates are not distance-filtered.
	QueryCandidates(x, y, r float64, visit func(id int32) bool)

	// Len returns the number of indexed points.
	Len() int
}

// Linear is the correctness fallback: every point is a candidate for
// every query.
type Linear struct {
	points []Point
}

// NewLinear builds the fallback index.
func NewLinear(points []Point) *Linear {
	return &Linear{points: points}
}

// Kind implements Index.
func (l *Linear) Kind() string { return "linear" }

// Len implements Index.
func (l *Linear) Len() int { return len(l.points) }

// QueryCandidates implements Index by scanning everything.
func (l *Linear) QueryCandidates(x, y, r float64, visit func(id int32) bool) {
	for i := range l.points {
		if !visit(l.points[i].ID) {
			return
		}
	}
}

// padFraction is applied to the observed per-axis range when padding
// index bounds, so edge points never land outside the structure.
const padFraction = 0.02

// minPad keeps padding positive for degenerate (zero-area) point sets.
const minPad = 1e-9

func paddedBounds(points []Point) (minX, minY, maxX, maxY float64) {
	if len(points) == 0 {
		return 0, 0, 0, 0
	}
	minX, maxX = points[0].X, points[0].X
	minY, maxY = points[0].Y, points[0].Y
	for _, p := range points[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	padX := (maxX - minX) * padFraction
	if padX < minPad {
		padX = minPad
	}
	padY := (maxY - minY) * padFraction
	if padY < minPad {
		padY = minPad
	}
	return minX - padX, minY - padY, maxX + padX, maxY + padY
}
