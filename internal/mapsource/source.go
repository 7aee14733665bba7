package mapsource

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"maptiles/internal/tile"
)

var (
	ErrNoLayer      = errors.New("layer out of range")
	ErrOutOfBounds  = errors.New("tile outside the world")
	ErrBadTemplate  = errors.New("invalid url template")
	ErrNoSourceName = errors.New("source name is empty")
)

// Source builds tile locations for one map provider.
type Source interface {
	Name() string
	NumLayers() int
	MaxZoom() int
	// TileURL returns the network location of a tile.
	TileURL(layer, zoom, x, y int) (string, error)
	// TilePath returns the location of a tile relative to a cache root.
	TilePath(layer, zoom, x, y int) string
}

// Layer is one image plane of a templated source.
type Layer struct {
	// URL is either a template with {z}, {x} and {y} placeholders or a base
	// URL to which z/x/y.ext is appended.
	URL string `yaml:"url" json:"url"`
	Ext string `yaml:"ext" json:"ext"`
	Dir string `yaml:"dir" json:"dir"`
}

// Templated is a Source described entirely by URL templates.
type Templated struct {
	ID       string  `yaml:"name" json:"name"`
	Layers   []Layer `yaml:"layers" json:"layers"`
	MaxLevel int     `yaml:"max_zoom" json:"max_zoom"`
}

var _ Source = (*Templated)(nil)

func (s *Templated) Name() string {
	return s.ID
}

func (s *Templated) NumLayers() int {
	return len(s.Layers)
}

func (s *Templated) MaxZoom() int {
	return s.MaxLevel
}

// Validate checks that every layer has a usable URL.
func (s *Templated) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrNoSourceName
	}
	if len(s.Layers) == 0 {
		return fmt.Errorf("source %s: no layers", s.ID)
	}
	for i, l := range s.Layers {
		u, err := url.Parse(strings.NewReplacer("{z}", "0", "{x}", "0", "{y}", "0").Replace(l.URL))
		if err != nil {
			return fmt.Errorf("source %s layer %d: %w", s.ID, i, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("source %s layer %d: %w: %q", s.ID, i, ErrBadTemplate, l.URL)
		}
	}
	return nil
}

// TileURL wraps x around the antimeridian; y outside the world is an error.
func (s *Templated) TileURL(layer, zoom, x, y int) (string, error) {
	if layer < 0 || layer >= len(s.Layers) {
		return "", fmt.Errorf("%w: %d", ErrNoLayer, layer)
	}
	x, y, err := normalise(zoom, x, y)
	if err != nil {
		return "", err
	}

	l := s.Layers[layer]
	var raw string
	if strings.Contains(l.URL, "{z}") {
		raw = strings.NewReplacer(
			"{z}", strconv.Itoa(zoom),
			"{x}", strconv.Itoa(x),
			"{y}", strconv.Itoa(y),
		).Replace(l.URL)
	} else {
		raw = strings.TrimSuffix(l.URL, "/") + fmt.Sprintf("/%d/%d/%d.%s", zoom, x, y, l.ext())
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("tile url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("tile url %q: %w", raw, ErrBadTemplate)
	}
	return u.String(), nil
}

// TilePath is {source}/{layer dir}/{z}/{x}/{y}.{ext}, with x wrapped like
// TileURL so both tiers agree on the tile.
func (s *Templated) TilePath(layer, zoom, x, y int) string {
	dir, ext := strconv.Itoa(layer), "png"
	if layer >= 0 && layer < len(s.Layers) {
		dir, ext = s.Layers[layer].dir(layer), s.Layers[layer].ext()
	}
	if nx, ny, err := normalise(zoom, x, y); err == nil {
		x, y = nx, ny
	}
	return path.Join(s.ID, dir, strconv.Itoa(zoom), strconv.Itoa(x), fmt.Sprintf("%d.%s", y, ext))
}

func (l Layer) ext() string {
	if l.Ext == "" {
		return "png"
	}
	return strings.TrimPrefix(l.Ext, ".")
}

func (l Layer) dir(i int) string {
	if l.Dir == "" {
		return strconv.Itoa(i)
	}
	return l.Dir
}

func normalise(zoom, x, y int) (int, int, error) {
	if zoom < 0 || zoom > 30 {
		return 0, 0, fmt.Errorf("%w: zoom %d", ErrOutOfBounds, zoom)
	}
	n := 1 << zoom
	if y < 0 || y >= n {
		return 0, 0, fmt.Errorf("%w: y %d at zoom %d", ErrOutOfBounds, y, zoom)
	}
	return tile.Wrap(x, n), y, nil
}
