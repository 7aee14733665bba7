// Package settings persists the viewer settings that select the map source
// and enable the disk and network tile tiers.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"maptiles/internal/mapsource"
)

// Tiles holds the settings consumed by the tile manager. An empty
// DiskCachePath disables the disk tier; OnlineMode false disables the network.
// DiskCachePath is relative to the tile store root and may not leave it.
type Tiles struct {
	MapSourceIndex int    `yaml:"map_source_index" json:"map_source_index" validate:"gte=0"`
	NumFixedMaps   int    `yaml:"num_fixed_maps" json:"num_fixed_maps" validate:"gte=0"`
	DiskCachePath  string `yaml:"disk_cache,omitempty" json:"disk_cache,omitempty" validate:"omitempty,max=4096,cachepath"`
	OnlineMode     bool   `yaml:"online_mode" json:"online_mode"`
}

func (t Tiles) DiskEnabled() bool {
	return t.DiskCachePath != ""
}

func Defaults() Tiles {
	return Tiles{OnlineMode: true}
}

// Migrate keeps the selected source pointing at the same map after the
// number of fixed sources changed, and falls back to the first source when
// the index is outside the catalog. It reports whether anything changed.
func (t Tiles) Migrate(numFixed, numSources int) (Tiles, bool) {
	index, _ := mapsource.AdjustSelectedIndex(t.MapSourceIndex, t.NumFixedMaps, numFixed)
	if index < 0 || index >= numSources {
		index = 0
	}
	changed := index != t.MapSourceIndex || t.NumFixedMaps != numFixed
	t.MapSourceIndex = index
	t.NumFixedMaps = numFixed
	return t, changed
}

// NewValidator returns a validator that knows the cachepath tag.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("cachepath", func(fl validator.FieldLevel) bool {
		return ValidCachePath(fl.Field().String())
	})
	return v
}

// ValidCachePath accepts relative paths that stay below their base.
func ValidCachePath(p string) bool {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	clean := filepath.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

// Store reads and writes persisted settings.
type Store interface {
	Load() (Tiles, error)
	Save(Tiles) error
}

// FileStore keeps settings in a YAML file.
type FileStore struct {
	mu       sync.Mutex
	path     string
	validate *validator.Validate
	logger   *zap.Logger
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{
		path:     path,
		validate: NewValidator(),
		logger:   logger,
	}
}

// Load returns Defaults when the file does not exist yet.
func (s *FileStore) Load() (Tiles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("Settings file not found, using defaults", zap.String("path", s.path))
		return Defaults(), nil
	}
	if err != nil {
		return Tiles{}, fmt.Errorf("failed to read settings: %w", err)
	}

	t := Defaults()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tiles{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.validate.Struct(t); err != nil {
		return Tiles{}, fmt.Errorf("invalid settings: %w", err)
	}
	return t, nil
}

// Save writes atomically through a temporary file.
func (s *FileStore) Save(t Tiles) error {
	if err := s.validate.Struct(t); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// Memory is an in-process Store.
type Memory struct {
	mu sync.Mutex
	t  Tiles
}

func NewMemory(t Tiles) *Memory {
	return &Memory{t: t}
}

func (m *Memory) Load() (Tiles, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t, nil
}

func (m *Memory) Save(t Tiles) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
	return nil
}
