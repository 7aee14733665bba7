package tile

import "fmt"

// Coord is an absolute tile coordinate at some zoom level.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Key identifies one tile request: the layer, zoom and coordinate it was issued for.
type Key struct {
	Layer int
	Zoom  int
	X     int
	Y     int
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d/%d", k.Layer, k.Zoom, k.X, k.Y)
}

// Wrap maps any integer into [0, n) (floored modulo). n must be positive.
func Wrap(v, n int) int {
	m := v % n
	if m < 0 {
		m += n
	}
	return m
}

// Abs returns the absolute value of v.
func Abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
