package main

import "math"

// DefaultCellSize is the grid cell edge in pixels
const DefaultCellSize = 50.0

// EntityKind tags which flat list an EntityRef indexes into
type EntityKind byte

const (
	KindZombie     EntityKind = 'z'
	KindThirdParty EntityKind = 't'
)

// EntityRef identifies an entity in the grid
type EntityRef struct {
	Kind EntityKind
	Idx  int // index into the corresponding flat list
}

// SpatialGrid is a uniform grid for broad-phase collision queries.
// It holds references for the current frame only and is rebuilt every tick.
type SpatialGrid struct {
	cellSize float64
	cols     int
	rows     int
	cells    [][]EntityRef

	// query de-duplication: a ref is already collected when seen[ref] == gen
	seen map[EntityRef]uint32
	gen  uint32
}

// NewSpatialGrid creates a grid covering width x height pixels
func NewSpatialGrid(width, height, cellSize float64) *SpatialGrid {
	if !invariant(cellSize > 0, "spatial grid cell size must be positive") {
		cellSize = DefaultCellSize
	}
	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(height / cellSize))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return &SpatialGrid{
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		cells:    make([][]EntityRef, cols*rows),
		seen:     make(map[EntityRef]uint32),
	}
}

// Dims returns the grid size in cells
func (g *SpatialGrid) Dims() (cols, rows int) {
	return g.cols, g.rows
}

// Clear resets all cells (keeps allocated capacity)
func (g *SpatialGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

// cellRange returns the inclusive, clamped cell span covered by b
func (g *SpatialGrid) cellRange(b Rect) (minCX, minCY, maxCX, maxCY int) {
	minCX = g.clampCol(int(math.Floor(b.Left() / g.cellSize)))
	maxCX = g.clampCol(int(math.Floor(b.Right() / g.cellSize)))
	minCY = g.clampRow(int(math.Floor(b.Top() / g.cellSize)))
	maxCY = g.clampRow(int(math.Floor(b.Bottom() / g.cellSize)))
	return
}

func (g *SpatialGrid) clampCol(c int) int {
	if c < 0 {
		return 0
	}
	if c >= g.cols {
		return g.cols - 1
	}
	return c
}

func (g *SpatialGrid) clampRow(r int) int {
	if r < 0 {
		return 0
	}
	if r >= g.rows {
		return g.rows - 1
	}
	return r
}

// Insert adds ref to every cell its bounding box overlaps. Boxes outside
// the grid land in the nearest boundary cells.
func (g *SpatialGrid) Insert(ref EntityRef, bounds Rect) {
	minCX, minCY, maxCX, maxCY := g.cellRange(bounds)
	for cy := minCY; cy <= maxCY; cy++ {
		for cx := minCX; cx <= maxCX; cx++ {
			idx := cy*g.cols + cx
			g.cells[idx] = append(g.cells[idx], ref)
		}
	}
}

// QueryNearby returns the de-duplicated refs found in all cells that
// overlap bounds, in first-seen order
func (g *SpatialGrid) QueryNearby(bounds Rect) []EntityRef {
	return g.QueryNearbyBuf(bounds, nil)
}

// QueryNearbyBuf appends results to buf and returns the extended slice, avoiding per-call allocation
func (g *SpatialGrid) QueryNearbyBuf(bounds Rect, buf []EntityRef) []EntityRef {
	g.gen++
	if g.gen == 0 {
		// stamp counter wrapped; old stamps could alias the new generation
		clear(g.seen)
		g.gen = 1
	}
	minCX, minCY, maxCX, maxCY := g.cellRange(bounds)
	for cy := minCY; cy <= maxCY; cy++ {
		for cx := minCX; cx <= maxCX; cx++ {
			for _, ref := range g.cells[cy*g.cols+cx] {
				if g.seen[ref] == g.gen {
					continue
				}
				g.seen[ref] = g.gen
				buf = append(buf, ref)
			}
		}
	}
	return buf
}
