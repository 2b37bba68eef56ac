package spatial

// QuadtreeOptions configures the quadtree builder.
type QuadtreeOptions struct {
	// LeafSize is the item count at or below which a node stays a leaf.
	// Defaults to 16.
	LeafSize int
	// MaxDepth caps subdivision. Defaults to 12.
	MaxDepth int
}

const (
	defaultLeafSize = 16
	defaultMaxDepth = 12
)

type quadNode struct {
	minX, minY, maxX, maxY float64
	// ids is non-nil for leaves.
	ids      []int32
	children [4]*quadNode
}

// Quadtree recursively splits the padded bounding box at quadrant
// midpoints, adapting to clustered point sets.
type Quadtree struct {
	root *quadNode
	n    int
}

// BuildQuadtree builds a quadtree over the given points. Empty input
// yields a valid empty tree.
func BuildQuadtree(points []Point, opts QuadtreeOptions) *Quadtree {
	if opts.LeafSize <= 0 {
		opts.LeafSize = defaultLeafSize
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}

	t := &Quadtree{n: len(points)}
	if len(points) == 0 {
		return t
	}

	minX, minY, maxX, maxY := paddedBounds(points)
	pts := make([]Point, len(points))
	copy(pts, points)
	t.root = buildQuadNode(pts, minX, minY, maxX, maxY, 0, opts)
	return t
}

func buildQuadNode(pts []Point, minX, minY, maxX, maxY float64, depth int, opts QuadtreeOptions) *quadNode {
	n := &quadNode{minX: minX, minY: minY, maxX: maxX, maxY: maxY}
	if len(pts) <= opts.LeafSize || depth >= opts.MaxDepth {
		n.ids = pointIDs(pts)
		return n
	}

	midX := (minX + maxX) / 2
	midY := (minY + maxY) / 2

	var quads [4][]Point
	for _, p := range pts {
		q := 0
		if p.X >= midX {
			q |= 1
		}
		if p.Y >= midY {
			q |= 2
		}
		quads[q] = append(quads[q], p)
	}

	// Reject a split that puts everything in one quadrant (points
	// coincident on the split line); subdividing again would never
	// terminate, so the node stays a leaf.
	for _, q := range quads {
		if len(q) == len(pts) {
			n.ids = pointIDs(pts)
			return n
		}
	}

	n.children[0] = buildQuadNode(quads[0], minX, minY, midX, midY, depth+1, opts)
	n.children[1] = buildQuadNode(quads[1], midX, minY, maxX, midY, depth+1, opts)
	n.children[2] = buildQuadNode(quads[2], minX, midY, midX, maxY, depth+1, opts)
	n.children[3] = buildQuadNode(quads[3], midX, midY, maxX, maxY, depth+1, opts)
	return n
}

func pointIDs(pts []Point) []int32 {
	ids := make([]int32, len(pts))
	for i, p := range pts {
		ids[i] = p.ID
	}
	return ids
}

// Kind implements Index.
func (t *Quadtree) Kind() string { return "quadtree" }

// Len implements Index.
func (t *Quadtree) Len() int { return t.n }

// QueryCandidates walks the tree with an explicit stack, pruning nodes
// whose box cannot intersect the query circle, and yields every id in
// the surviving leaves.
func (t *Quadtree) QueryCandidates(x, y, r float64, visit func(id int32) bool) {
	if t.root == nil {
		return
	}
	r2 := r * r
	stack := []*quadNode{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !boxIntersectsCircle(n.minX, n.minY, n.maxX, n.maxY, x, y, r2) {
			continue
		}
		if n.ids != nil || n.children[0] == nil {
			for _, id := range n.ids {
				if !visit(id) {
					return
				}
			}
			continue
		}
		for _, c := range n.children {
			stack = append(stack, c)
		}
	}
}

// boxIntersectsCircle tests the axis distance from the circle center to
// the box, not the box corners.
func boxIntersectsCircle(minX, minY, maxX, maxY, x, y, r2 float64) bool {
	dx := 0.0
	if x < minX {
		dx = minX - x
	} else if x > maxX {
		dx = x - maxX
	}
	dy := 0.0
	if y < minY {
		dy = minY - y
	} else if y > maxY {
		dy = y - maxY
	}
	return dx*dx+dy*dy <= r2
}
