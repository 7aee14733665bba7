// Package tiles is the tile cache manager. It owns one grid per map layer and
// answers tile requests from memory, then the disk store, then the network,
// populating the faster tiers as loads complete.
package tiles

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"maptiles/internal/grid"
	"maptiles/internal/logger"
	"maptiles/internal/mapsource"
	"maptiles/internal/metrics"
	"maptiles/internal/settings"
	"maptiles/internal/tile"
)

var ErrNoSource = errors.New("no map source available")

// Sources resolves a selected source index.
type Sources interface {
	Get(i int) mapsource.Source
}

// DiskStore is the disk tier.
type DiskStore interface {
	Get(ctx context.Context, root, relPath string, online bool) (*tile.Image, bool)
	Save(key tile.Key, url, root, relPath string, obs tile.Observer) bool
}

// ImageLoader starts asynchronous loads into memory.
type ImageLoader interface {
	Load(key tile.Key, url string, obs tile.Observer) *tile.Image
}

// Notifier is told whenever a load finishes. It is called from loader
// goroutines.
type Notifier interface {
	TilesUpdated(loaded bool)
}

type Options struct {
	Sources  Sources
	Store    DiskStore
	Loader   ImageLoader
	Notifier Notifier
	Logger   *zap.Logger
}

type Manager struct {
	sources  Sources
	store    DiskStore
	loader   ImageLoader
	notifier Notifier
	logger   *zap.Logger

	mu       sync.RWMutex
	layers   []*grid.Grid
	source   mapsource.Source
	settings settings.Tiles
	zoom     int
	centre   tile.Coord
}

var _ tile.Observer = (*Manager)(nil)

// New builds a manager and applies cfg with ResetConfig.
func New(opts Options, cfg settings.Tiles) (*Manager, error) {
	m := &Manager{
		sources:  opts.Sources,
		store:    opts.Store,
		loader:   opts.Loader,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		zoom:     -1,
		centre:   tile.Coord{X: -1, Y: -1},
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if err := m.ResetConfig(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// CentreMap records the zoom and recentres every layer on (x, y).
func (m *Manager) CentreMap(zoom, x, y int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.zoom = zoom
	m.centre = tile.Coord{X: x, Y: y}
	for _, g := range m.layers {
		g.Recenter(zoom, x, y)
	}
}

// IsOverzoomed reports whether the current zoom is beyond the deepest level
// the source serves.
func (m *Manager) IsOverzoomed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zoom > m.source.MaxZoom()
}

// ResetConfig applies new settings. An invalid source index falls back to
// the first source. Grids are recreated when the layer count changes and
// emptied otherwise.
func (m *Manager) ResetConfig(cfg settings.Tiles) error {
	src := m.sources.Get(cfg.MapSourceIndex)
	if src == nil {
		m.logger.Warn("Map source index out of range, using default",
			zap.Int("index", cfg.MapSourceIndex),
		)
		src = m.sources.Get(0)
	}
	if src == nil {
		return ErrNoSource
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.source = src
	m.settings = cfg

	if n := src.NumLayers(); n != len(m.layers) {
		m.layers = make([]*grid.Grid, n)
		for i := range m.layers {
			g := grid.New()
			g.Recenter(m.zoom, m.centre.X, m.centre.Y)
			m.layers[i] = g
		}
	} else {
		for _, g := range m.layers {
			g.ClearAll()
		}
	}

	m.logger.Info("Tile cache configured",
		zap.String("source", src.Name()),
		zap.Int("layers", len(m.layers)),
		zap.Bool("disk", cfg.DiskEnabled()),
		zap.Bool("online", cfg.OnlineMode),
	)
	return nil
}

func (m *Manager) NumLayers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.layers)
}

func (m *Manager) Zoom() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zoom
}

func (m *Manager) Source() mapsource.Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

func (m *Manager) Settings() settings.Tiles {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

type view struct {
	layers   []*grid.Grid
	source   mapsource.Source
	settings settings.Tiles
	zoom     int
}

func (m *Manager) view() view {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{
		layers:   m.layers,
		source:   m.source,
		settings: m.settings,
		zoom:     m.zoom,
	}
}

// GetTile returns the tile at (x, y) on layer at the current zoom. It never
// waits for the network: a miss starts a background load and reports false,
// and the notifier fires once the load finishes. An image found in memory is
// returned even while it is still loading.
func (m *Manager) GetTile(ctx context.Context, layer, x, y int) (*tile.Image, bool) {
	v := m.view()
	if layer < 0 || layer >= len(v.layers) {
		return nil, false
	}
	g := v.layers[layer]

	if img := g.Get(x, y); img != nil {
		if img.State() != tile.Failed {
			metrics.TileLookups.WithLabelValues(metrics.TierMemory).Inc()
			return img, true
		}
		g.Remove(img, x, y)
	}

	if v.settings.DiskEnabled() {
		rel := v.source.TilePath(layer, v.zoom, x, y)
		if img, ok := m.store.Get(ctx, v.settings.DiskCachePath, rel, v.settings.OnlineMode); ok {
			metrics.TileLookups.WithLabelValues(metrics.TierDisk).Inc()
			g.SetIfCurrent(img, v.zoom, x, y)
			if img.Ready() {
				return img, true
			}
			return nil, false
		}
	}

	if !v.settings.OnlineMode {
		metrics.TileLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	url, err := v.source.TileURL(layer, v.zoom, x, y)
	if err != nil {
		m.logger.Debug("Skipping network fetch", logger.Tile(layer, v.zoom, x, y), zap.Error(err))
		metrics.TileLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	metrics.TileLookups.WithLabelValues(metrics.TierNetwork).Inc()
	key := tile.Key{Layer: layer, Zoom: v.zoom, X: x, Y: y}

	if v.settings.DiskEnabled() {
		rel := v.source.TilePath(layer, v.zoom, x, y)
		if m.store.Save(key, url, v.settings.DiskCachePath, rel, m) {
			return nil, false
		}
	}

	img := m.loader.Load(key, url, m)
	g.SetIfCurrent(img, v.zoom, x, y)
	// The load may have failed before the image was stored.
	if img.State() == tile.Failed {
		g.Remove(img, x, y)
		return nil, false
	}
	if img.Ready() {
		return img, true
	}
	return nil, false
}

// ImageUpdate receives load progress. Finished images whose coordinate has
// left the window are dropped, and failed images are removed from their
// cell so a later request retries.
func (m *Manager) ImageUpdate(u tile.Update) bool {
	if !u.Flags.Finished() {
		return true
	}

	if u.Image != nil {
		m.settle(u)
	}

	m.notifier.TilesUpdated(u.Flags.Has(tile.FlagAllBits) && !u.Flags.Has(tile.FlagError))
	return false
}

func (m *Manager) settle(u tile.Update) {
	v := m.view()
	k := u.Key
	if k.Layer < 0 || k.Layer >= len(v.layers) {
		return
	}
	g := v.layers[k.Layer]

	if !g.Contains(k.Zoom, k.X, k.Y) {
		g.Remove(u.Image, k.X, k.Y)
		metrics.StaleDiscards.Inc()
		m.logger.Debug("Discarding tile outside the window", logger.Tile(k.Layer, k.Zoom, k.X, k.Y))
		return
	}
	if u.Flags.Has(tile.FlagError) {
		g.Remove(u.Image, k.X, k.Y)
	}
}

// LayerStats describes one layer grid.
type LayerStats struct {
	Layer     int         `json:"layer"`
	Populated int         `json:"populated"`
	Window    grid.Window `json:"window"`
}

// Stats reports the state of every layer grid.
func (m *Manager) Stats() []LayerStats {
	v := m.view()
	stats := make([]LayerStats, len(v.layers))
	for i, g := range v.layers {
		n := g.Populated()
		metrics.GridPopulated.WithLabelValues(strconv.Itoa(i)).Set(float64(n))
		stats[i] = LayerStats{
			Layer:     i,
			Populated: n,
			Window:    g.Window(),
		}
	}
	return stats
}

type nopNotifier struct{}

func (nopNotifier) TilesUpdated(bool) {}
