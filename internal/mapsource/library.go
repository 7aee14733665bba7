package mapsource

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultNumFixed is the number of fixed sources assumed when settings
// written by an older release do not record it.
const DefaultNumFixed = 6

func fixedSources() []Source {
	return []Source{
		&Templated{ID: "mapnik", MaxLevel: 19, Layers: []Layer{
			{URL: "https://tile.openstreetmap.org/{z}/{x}/{y}.png"},
		}},
		&Templated{ID: "osmhot", MaxLevel: 19, Layers: []Layer{
			{URL: "https://a.tile.openstreetmap.fr/hot/{z}/{x}/{y}.png"},
		}},
		&Templated{ID: "opentopomap", MaxLevel: 17, Layers: []Layer{
			{URL: "https://a.tile.opentopomap.org/{z}/{x}/{y}.png"},
		}},
		&Templated{ID: "openseamap", MaxLevel: 18, Layers: []Layer{
			{URL: "https://tile.openstreetmap.org/{z}/{x}/{y}.png", Dir: "base"},
			{URL: "https://tiles.openseamap.org/seamark/{z}/{x}/{y}.png", Dir: "seamark"},
		}},
		&Templated{ID: "cyclosm", MaxLevel: 20, Layers: []Layer{
			{URL: "https://a.tile-cyclosm.openstreetmap.fr/cyclosm/{z}/{x}/{y}.png"},
		}},
		&Templated{ID: "wikimedia", MaxLevel: 18, Layers: []Layer{
			{URL: "https://maps.wikimedia.org/osm-intl/{z}/{x}/{y}.png"},
		}},
		&Templated{ID: "esri-imagery", MaxLevel: 19, Layers: []Layer{
			{URL: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}", Ext: "jpg"},
		}},
	}
}

// Library is the catalog of selectable sources: the fixed ones first, then
// custom sources loaded from disk.
type Library struct {
	mu     sync.RWMutex
	fixed  []Source
	custom []Source
	logger *zap.Logger
}

func NewLibrary(logger *zap.Logger) *Library {
	return &Library{
		fixed:  fixedSources(),
		logger: logger,
	}
}

// NewLibraryWith builds a library from explicit sources, all treated as fixed.
func NewLibraryWith(logger *zap.Logger, sources ...Source) *Library {
	return &Library{
		fixed:  sources,
		logger: logger,
	}
}

func (l *Library) NumFixed() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fixed)
}

func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fixed) + len(l.custom)
}

// Get returns the source at index i, or nil when i is out of range.
func (l *Library) Get(i int) Source {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch {
	case i < 0:
		return nil
	case i < len(l.fixed):
		return l.fixed[i]
	case i < len(l.fixed)+len(l.custom):
		return l.custom[i-len(l.fixed)]
	default:
		return nil
	}
}

func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.fixed)+len(l.custom))
	for _, s := range l.fixed {
		names = append(names, s.Name())
	}
	for _, s := range l.custom {
		names = append(names, s.Name())
	}
	return names
}

// LoadDir replaces the custom sources with the *.yaml definitions in dir.
// Invalid files are logged and skipped.
func (l *Library) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read source directory: %w", err)
	}

	var custom []Source
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		src, err := loadSource(path)
		if err != nil {
			l.logger.Warn("Skipping map source definition", zap.String("path", path), zap.Error(err))
			continue
		}
		custom = append(custom, src)
		l.logger.Info("Loaded custom map source", zap.String("name", src.Name()), zap.Int("layers", src.NumLayers()))
	}

	l.mu.Lock()
	l.custom = custom
	l.mu.Unlock()
	return nil
}

func loadSource(path string) (*Templated, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var src Templated
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	if src.MaxLevel == 0 {
		src.MaxLevel = 18
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	return &src, nil
}

// AdjustSelectedIndex keeps a stored selection pointing at the same custom
// source after the number of fixed sources changed between releases.
// prevFixed == 0 means the count was never stored.
func AdjustSelectedIndex(index, prevFixed, currFixed int) (int, bool) {
	if prevFixed == 0 {
		prevFixed = DefaultNumFixed
	}
	if currFixed == prevFixed {
		return index, false
	}
	if index >= prevFixed || index >= currFixed {
		return index + currFixed - prevFixed, true
	}
	return index, false
}
