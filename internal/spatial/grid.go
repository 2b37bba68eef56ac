package spatial

import "math"

// GridOptions configures the uniform grid.
type GridOptions struct {
	// CellSize is the square bucket side length in world units. When
	// zero or negative the builder derives one from the point extent
	// (longest axis / 64).
	CellSize float64
}

// Grid buckets points into uniform square cells over the padded bounding
// box. Fast to build and query when density is roughly uniform; heavy
// clustering concentrates points into few buckets and degrades queries.
type Grid struct {
	minX, minY float64
	cellSize   float64
	cols, rows int
	buckets    [][]int32
	n          int
}

// gridDeriveDivisor sizes derived cells so a typical query touches a
// handful of buckets.
const gridDeriveDivisor = 64

// BuildGrid builds a uniform grid over the given points. Empty input
// yields a valid empty grid.
func BuildGrid(points []Point, opts GridOptions) *Grid {
	g := &Grid{cellSize: opts.CellSize, cols: 1, rows: 1, n: len(points)}
	if len(points) == 0 {
		if g.cellSize <= 0 {
			g.cellSize = 1
		}
		g.buckets = make([][]int32, 1)
		return g
	}

	minX, minY, maxX, maxY := paddedBounds(points)
	g.minX, g.minY = minX, minY

	if g.cellSize <= 0 {
		longest := math.Max(maxX-minX, maxY-minY)
		g.cellSize = longest / gridDeriveDivisor
		if g.cellSize <= 0 {
			g.cellSize = 1
		}
	}

	g.cols = int(math.Ceil((maxX - minX) / g.cellSize))
	g.rows = int(math.Ceil((maxY - minY) / g.cellSize))
	if g.cols < 1 {
		g.cols = 1
	}
	if g.rows < 1 {
		g.rows = 1
	}

	g.buckets = make([][]int32, g.cols*g.rows)
	for _, p := range points {
		ci := g.clampCol(int((p.X - minX) / g.cellSize))
		ri := g.clampRow(int((p.Y - minY) / g.cellSize))
		idx := ri*g.cols + ci
		g.buckets[idx] = append(g.buckets[idx], p.ID)
	}
	return g
}

func (g *Grid) clampCol(c int) int {
	if c < 0 {
		return 0
	}
	if c >= g.cols {
		return g.cols - 1
	}
	return c
}

func (g *Grid) clampRow(r int) int {
	if r < 0 {
		return 0
	}
	if r >= g.rows {
		return g.rows - 1
	}
	return r
}

// Kind implements Index.
func (g *Grid) Kind() string { return "grid" }

// Len implements Index.
func (g *Grid) Len() int { return g.n }

// QueryCandidates yields the union of every bucket overlapping the
// axis-aligned square around the query circle.
func (g *Grid) QueryCandidates(x, y, r float64, visit func(id int32) bool) {
	if g.n == 0 {
		return
	}
	c0 := g.clampCol(int((x - r - g.minX) / g.cellSize))
	c1 := g.clampCol(int((x + r - g.minX) / g.cellSize))
	r0 := g.clampRow(int((y - r - g.minY) / g.cellSize))
	r1 := g.clampRow(int((y + r - g.minY) / g.cellSize))

	for ri := r0; ri <= r1; ri++ {
		for ci := c0; ci <= c1; ci++ {
			for _, id := range g.buckets[ri*g.cols+ci] {
				if !visit(id) {
					return
				}
			}
		}
	}
}
