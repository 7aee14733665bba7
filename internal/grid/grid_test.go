package grid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maptiles/internal/tile"
)

func img() *tile.Image {
	return tile.NewLoaded([]byte("x"), 256, 256)
}

func snapshot(g *Grid) [Size * Size]*tile.Image {
	var out [Size * Size]*tile.Image
	for i := range g.cells {
		out[i] = g.cells[i].Load()
	}
	return out
}

func TestSlideByOneKeepsWindowAndClearsLeadingEdge(t *testing.T) {
	g := New()
	g.Recenter(5, 100, 100)

	a := img()
	g.Set(a, 100, 100)
	require.Same(t, a, g.Get(100, 100))

	// 93 was inside the old window and aliases column 108 after the slide.
	old := img()
	g.Set(old, 93, 100)

	g.Recenter(5, 101, 100)
	assert.Same(t, a, g.Get(100, 100))
	assert.Nil(t, g.Get(93, 100))
	assert.Nil(t, g.Get(108, 100))
}

func TestRecenterSameCoordinatesIsIdempotent(t *testing.T) {
	g := New()
	g.Recenter(3, 10, 10)
	for x := 5; x <= 15; x++ {
		g.Set(img(), x, 10)
	}
	once := snapshot(g)

	g.Recenter(3, 10, 10)
	assert.Equal(t, once, snapshot(g))
	assert.Equal(t, Window{Zoom: 3, Centre: tile.Coord{X: 10, Y: 10}, Cell: g.Window().Cell}, g.Window())
}

func TestAddressesInsideWindowAreDistinct(t *testing.T) {
	g := New()
	g.Recenter(7, -3, 42)
	g.Recenter(7, 1, 39)

	w := g.Window()
	seen := make(map[int]tile.Coord)
	for x := w.Centre.X - Radius; x <= w.Centre.X+Radius; x++ {
		for y := w.Centre.Y - Radius; y <= w.Centre.Y+Radius; y++ {
			idx := g.AddressOf(x, y)
			prev, dup := seen[idx]
			require.False(t, dup, "(%d,%d) collides with %v", x, y, prev)
			seen[idx] = tile.Coord{X: x, Y: y}
		}
	}
	assert.Len(t, seen, Size*Size)
}

func TestZoomChangeClearsAll(t *testing.T) {
	g := New()
	g.Recenter(5, 0, 0)
	coords := []tile.Coord{{X: 0, Y: 0}, {X: 3, Y: -2}, {X: -7, Y: 7}}
	for _, c := range coords {
		g.Set(img(), c.X, c.Y)
	}

	g.Recenter(6, 1, 0)
	for _, c := range coords {
		assert.Nil(t, g.Get(c.X, c.Y))
	}
	assert.Zero(t, g.Populated())
}

func TestZoomChangeWithoutMoveClearsAll(t *testing.T) {
	g := New()
	g.Recenter(5, 0, 0)
	g.Set(img(), 0, 0)

	g.Recenter(6, 0, 0)
	assert.Nil(t, g.Get(0, 0))
	assert.Equal(t, 6, g.Window().Zoom)
}

func TestLargeJumpClearsAll(t *testing.T) {
	g := New()
	g.Recenter(5, 100, 100)
	g.Set(img(), 100, 100)
	g.Set(img(), 104, 97)

	g.Recenter(5, 100+Radius+1, 100)
	assert.Zero(t, g.Populated())
}

func TestMultiTileSlideClearsEveryExposedLine(t *testing.T) {
	g := New()
	g.Recenter(4, 50, 50)
	for x := 50 - Radius; x <= 50+Radius; x++ {
		for y := 50 - Radius; y <= 50+Radius; y++ {
			g.Set(img(), x, y)
		}
	}

	g.Recenter(4, 53, 48)

	w := g.Window()
	for x := w.Centre.X - Radius; x <= w.Centre.X+Radius; x++ {
		for y := w.Centre.Y - Radius; y <= w.Centre.Y+Radius; y++ {
			wasInside := tile.Abs(x-50) <= Radius && tile.Abs(y-50) <= Radius
			if wasInside {
				assert.NotNil(t, g.Get(x, y), "(%d,%d) should survive", x, y)
			} else {
				assert.Nil(t, g.Get(x, y), "(%d,%d) should be cleared", x, y)
			}
		}
	}
}

func TestNegativeSlide(t *testing.T) {
	g := New()
	g.Recenter(2, 0, 0)
	kept := img()
	g.Set(kept, -Radius, 0)
	g.Set(img(), Radius, 0)

	g.Recenter(2, -1, 0)
	assert.Same(t, kept, g.Get(-Radius, 0))
	// Radius aliases the newly exposed column -1-Radius.
	assert.Nil(t, g.Get(-1-Radius, 0))
}

func TestSetIfCurrent(t *testing.T) {
	g := New()
	g.Recenter(5, 10, 10)

	assert.True(t, g.SetIfCurrent(img(), 5, 12, 8))
	assert.False(t, g.SetIfCurrent(img(), 4, 12, 8))
	assert.False(t, g.SetIfCurrent(img(), 5, 10+Radius+1, 10))
	assert.Equal(t, 1, g.Populated())
}

func TestRemoveOnlyMatchingImage(t *testing.T) {
	g := New()
	g.Recenter(1, 0, 0)
	a, b := img(), img()
	g.Set(a, 1, 1)

	assert.False(t, g.Remove(b, 1, 1))
	assert.Same(t, a, g.Get(1, 1))
	assert.True(t, g.Remove(a, 1, 1))
	assert.Nil(t, g.Get(1, 1))
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	g := New()
	g.Recenter(3, 0, 0)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				g.SetIfCurrent(img(), 3, i%Size-Radius, w)
				g.Get(i%Size-Radius, w)
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			g.Recenter(3, i%3, 0)
		}
	}()
	wg.Wait()
}
