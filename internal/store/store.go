package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"maptiles/internal/logger"
	"maptiles/internal/metrics"
	"maptiles/internal/tile"
)

// Downloader fetches raw tile bytes.
type Downloader interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

type Options struct {
	Backend Backend
	Client  Downloader
	Decoder tile.Decoder
	// MaxAge is the age after which a stored tile is refreshed while
	// online. Zero keeps tiles forever.
	MaxAge time.Duration
	Logger *zap.Logger
}

// DiskStore reads tiles through a Backend and downloads missing tiles
// straight into it.
type DiskStore struct {
	ctx     context.Context
	backend Backend
	client  Downloader
	decoder tile.Decoder
	maxAge  time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New returns a store whose background downloads stop when ctx is done.
func New(ctx context.Context, opts Options) *DiskStore {
	return &DiskStore{
		ctx:      ctx,
		backend:  opts.Backend,
		client:   opts.Client,
		decoder:  opts.Decoder,
		maxAge:   opts.MaxAge,
		logger:   opts.Logger,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Get returns the stored tile at root/relPath. Stored tiles older than
// MaxAge are reported missing while online so the caller refetches them;
// offline, any stored tile is served.
func (s *DiskStore) Get(ctx context.Context, root, relPath string, online bool) (*tile.Image, bool) {
	data, written, err := s.backend.Read(ctx, root, relPath)
	if errors.Is(err, ErrNotFound) {
		return nil, false
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues(s.backend.Name(), "read").Inc()
		s.logger.Warn("Failed to read stored tile", zap.String("path", relPath), zap.Error(err))
		return nil, false
	}

	if online && s.maxAge > 0 && !written.IsZero() && s.now().Sub(written) > s.maxAge {
		s.logger.Debug("Stored tile expired", zap.String("path", relPath), zap.Time("written", written))
		return nil, false
	}

	width, height, err := s.decoder.DecodeSize(data)
	if err != nil {
		s.logger.Debug("Stored tile is not decodable", zap.String("path", relPath), zap.Error(err))
		return nil, false
	}
	return tile.NewLoaded(data, width, height), true
}

// Save starts downloading url into root/relPath and reports whether the
// download was started. The observer receives an update with a nil image
// and FlagAllBits or FlagError once the tile is stored or the attempt fails.
// A second Save for a tile that is still downloading returns true without
// starting another download.
func (s *DiskStore) Save(key tile.Key, url, root, relPath string, obs tile.Observer) bool {
	if err := s.backend.Probe(s.ctx, root); err != nil {
		if !errors.Is(err, ErrDisabled) {
			metrics.StoreErrors.WithLabelValues(s.backend.Name(), "probe").Inc()
			s.logger.Warn("Tile store is not writable", zap.String("root", root), zap.Error(err))
		}
		return false
	}

	id := root + "/" + relPath
	s.mu.Lock()
	if _, ok := s.inflight[id]; ok {
		s.mu.Unlock()
		return true
	}
	s.inflight[id] = struct{}{}
	s.mu.Unlock()

	metrics.FetchesStarted.WithLabelValues(metrics.TierDisk).Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, id)
			s.mu.Unlock()
		}()

		flags := tile.FlagAllBits
		if err := s.download(url, root, relPath); err != nil {
			s.logger.Debug("Tile download to store failed",
				logger.Tile(key.Layer, key.Zoom, key.X, key.Y),
				zap.String("url", url),
				zap.Error(err),
			)
			metrics.FetchResults.WithLabelValues("error").Inc()
			flags = tile.FlagError
		} else {
			metrics.FetchResults.WithLabelValues("stored").Inc()
		}
		obs.ImageUpdate(tile.Update{Key: key, Flags: flags})
	}()
	return true
}

func (s *DiskStore) download(url, root, relPath string) error {
	data, err := s.client.Get(s.ctx, url)
	if err != nil {
		return err
	}
	if _, _, err := s.decoder.DecodeSize(data); err != nil {
		return fmt.Errorf("downloaded tile is not an image: %w", err)
	}
	if err := s.backend.Write(s.ctx, root, relPath, data); err != nil {
		metrics.StoreErrors.WithLabelValues(s.backend.Name(), "write").Inc()
		return err
	}
	return nil
}

// Clear removes the tiles of one source stored under root.
func (s *DiskStore) Clear(ctx context.Context, root, source string) error {
	return s.backend.Clear(ctx, root, source)
}

// Wait blocks until every started download has finished.
func (s *DiskStore) Wait() {
	s.wg.Wait()
}
