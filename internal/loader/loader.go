// Package loader loads tile images asynchronously. A load hands back a
// pending image at once; the download and header decode happen in the
// background and progress is reported to an observer, tagged with the key
// the load was issued for.
package loader

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maptiles/internal/logger"
	"maptiles/internal/metrics"
	"maptiles/internal/tile"
)

// Downloader fetches raw tile bytes.
type Downloader interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

type Loader struct {
	ctx     context.Context
	client  Downloader
	decoder tile.Decoder
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New returns a loader whose downloads are cancelled when ctx is done.
func New(ctx context.Context, client Downloader, decoder tile.Decoder, logger *zap.Logger) *Loader {
	return &Loader{
		ctx:     ctx,
		client:  client,
		decoder: decoder,
		logger:  logger,
	}
}

// Load starts fetching url and returns the image that will receive it.
func (l *Loader) Load(key tile.Key, url string, obs tile.Observer) *tile.Image {
	img := tile.NewPending()
	metrics.FetchesStarted.WithLabelValues(metrics.TierMemory).Inc()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(uuid.NewString(), key, url, img, obs)
	}()
	return img
}

func (l *Loader) run(id string, key tile.Key, url string, img *tile.Image, obs tile.Observer) {
	log := l.logger.With(zap.String("load_id", id), logger.Tile(key.Layer, key.Zoom, key.X, key.Y))

	data, err := l.client.Get(l.ctx, url)
	if err != nil {
		log.Debug("Tile load failed", zap.String("url", url), zap.Error(err))
		l.fail(key, img, obs, err)
		return
	}

	width, height, err := l.decoder.DecodeSize(data)
	if err != nil {
		log.Debug("Tile decode failed", zap.String("url", url), zap.Error(err))
		l.fail(key, img, obs, err)
		return
	}

	img.SetSize(width, height)
	more := obs.ImageUpdate(tile.Update{Key: key, Image: img, Flags: tile.FlagWidth | tile.FlagHeight})

	img.Complete(data, width, height)
	metrics.FetchResults.WithLabelValues("loaded").Inc()
	log.Debug("Tile loaded", zap.Int("size", len(data)))
	if more {
		obs.ImageUpdate(tile.Update{Key: key, Image: img, Flags: tile.FlagWidth | tile.FlagHeight | tile.FlagAllBits})
	}
}

func (l *Loader) fail(key tile.Key, img *tile.Image, obs tile.Observer, err error) {
	img.Fail(err)
	metrics.FetchResults.WithLabelValues("error").Inc()
	obs.ImageUpdate(tile.Update{Key: key, Image: img, Flags: tile.FlagError})
}

// Wait blocks until every started load has finished.
func (l *Loader) Wait() {
	l.wg.Wait()
}
