// Package imaging reads tile image headers with libvips.
package imaging

import (
	"errors"
	"fmt"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"maptiles/internal/tile"
)

var ErrEmpty = errors.New("empty tile data")

type Options struct {
	MaxCacheMB  int
	Concurrency int
}

// Startup initialises libvips and routes its warnings and errors to log.
// The returned function shuts libvips down.
func Startup(opts Options, log *zap.Logger) func() {
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelWarning)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: opts.Concurrency,
		MaxCacheMem:      opts.MaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	})

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", opts.MaxCacheMB),
		zap.Int("concurrency", opts.Concurrency),
	)
	return vips.Shutdown
}

// Decoder implements tile.Decoder. libvips loads lazily, so reading the size
// only parses the header.
type Decoder struct{}

var _ tile.Decoder = Decoder{}

func (Decoder) DecodeSize(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, ErrEmpty
	}

	image, err := vips.NewImageFromBuffer(data, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer image.Close()

	width, height := image.Width(), image.Height()
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	return width, height, nil
}
