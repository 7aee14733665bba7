// Package grid holds the in-memory tile window of one map layer.
//
// The window is a fixed Size x Size ring buffer addressed toroidally: the
// physical cell of a tile is its offset from the centre tile, shifted by a
// rolling centre cell and wrapped modulo Size. Panning moves the centre cell
// instead of moving data, and only the lines that scroll into view are
// invalidated.
package grid

import (
	"sync"
	"sync/atomic"

	"maptiles/internal/tile"
)

const (
	// Size is the number of tiles along each side of the window. It is odd
	// so the centre tile sits in the middle.
	Size = 15
	// Radius is how far the window reaches from the centre tile.
	Radius = Size / 2
)

// Window is the part of tile space the grid currently represents.
type Window struct {
	Zoom   int        `json:"zoom"`
	Centre tile.Coord `json:"centre"`
	Cell   tile.Coord `json:"cell"`
}

// Index returns the linear cell index for an absolute tile coordinate.
func (w Window) Index(x, y int) int {
	cx := tile.Wrap(x-w.Centre.X+w.Cell.X, Size)
	cy := tile.Wrap(y-w.Centre.Y+w.Cell.Y, Size)
	return cx + cy*Size
}

// Contains reports whether (x, y) at zoom is inside the window. Coordinates
// outside it alias onto cells owned by other tiles.
func (w Window) Contains(zoom, x, y int) bool {
	return zoom == w.Zoom &&
		tile.Abs(x-w.Centre.X) <= Radius &&
		tile.Abs(y-w.Centre.Y) <= Radius
}

// Grid is safe for concurrent use. Reads never take the lock; recentring and
// writes are serialised.
type Grid struct {
	mu     sync.Mutex
	window atomic.Pointer[Window]
	cells  [Size * Size]atomic.Pointer[tile.Image]
}

func New() *Grid {
	g := &Grid{}
	g.window.Store(&Window{
		Zoom:   -1,
		Centre: tile.Coord{X: -1, Y: -1},
	})
	return g
}

// Window returns a snapshot of the current window.
func (g *Grid) Window() Window {
	return *g.window.Load()
}

func (g *Grid) AddressOf(x, y int) int {
	return g.window.Load().Index(x, y)
}

func (g *Grid) Contains(zoom, x, y int) bool {
	return g.window.Load().Contains(zoom, x, y)
}

// Recenter moves the window to the given centre tile. A zoom change or a
// jump further than Radius clears the whole grid; a smaller slide clears the
// lines that scrolled into view, however many there are.
func (g *Grid) Recenter(zoom, x, y int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := *g.window.Load()
	dx := x - cur.Centre.X
	dy := y - cur.Centre.Y
	shift := max(tile.Abs(dx), tile.Abs(dy))
	if shift == 0 && zoom == cur.Zoom {
		return
	}

	next := &Window{
		Zoom:   zoom,
		Centre: tile.Coord{X: x, Y: y},
		Cell: tile.Coord{
			X: tile.Wrap(cur.Cell.X+dx, Size),
			Y: tile.Wrap(cur.Cell.Y+dy, Size),
		},
	}

	if zoom != cur.Zoom || shift > Radius {
		g.clearAll()
		g.window.Store(next)
		return
	}

	// Clear before publishing: readers of the old or the new window must
	// not see a tile under the wrong coordinate.
	for _, col := range exposed(x, dx) {
		for row := y - Radius; row <= y+Radius; row++ {
			g.cells[next.Index(col, row)].Store(nil)
		}
	}
	for _, row := range exposed(y, dy) {
		for col := x - Radius; col <= x+Radius; col++ {
			g.cells[next.Index(col, row)].Store(nil)
		}
	}
	g.window.Store(next)
}

// exposed lists the lines along one axis that entered the window when its
// centre moved by delta to centre.
func exposed(centre, delta int) []int {
	n := tile.Abs(delta)
	lines := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if delta > 0 {
			lines = append(lines, centre+Radius-i)
		} else {
			lines = append(lines, centre-Radius+i)
		}
	}
	return lines
}

func (g *Grid) Get(x, y int) *tile.Image {
	return g.cells[g.AddressOf(x, y)].Load()
}

// Set stores img at (x, y) unconditionally, overwriting whatever shared the
// cell. This positional overwrite is the only eviction there is.
func (g *Grid) Set(img *tile.Image, x, y int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cells[g.AddressOf(x, y)].Store(img)
}

// SetIfCurrent stores img only while (x, y) at zoom is inside the window.
func (g *Grid) SetIfCurrent(img *tile.Image, zoom, x, y int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := g.window.Load()
	if !w.Contains(zoom, x, y) {
		return false
	}
	g.cells[w.Index(x, y)].Store(img)
	return true
}

// Remove empties the cell of (x, y) if it still holds img.
func (g *Grid) Remove(img *tile.Image, x, y int) bool {
	if img == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cells[g.AddressOf(x, y)].CompareAndSwap(img, nil)
}

func (g *Grid) ClearAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clearAll()
}

func (g *Grid) clearAll() {
	for i := range g.cells {
		g.cells[i].Store(nil)
	}
}

// Populated counts the non-empty cells.
func (g *Grid) Populated() int {
	n := 0
	for i := range g.cells {
		if g.cells[i].Load() != nil {
			n++
		}
	}
	return n
}
