package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"maptiles/internal/config"
	"maptiles/internal/mapsource"
	"maptiles/internal/store"
	"maptiles/internal/tile"
)

// prefetchTiles downloads every tile of the low zoom levels into the disk
// store so an offline start still has a world overview.
func prefetchTiles(ctx context.Context, cfg config.Prefetch, timeout time.Duration, src mapsource.Source, root string, ds *store.DiskStore, log *zap.Logger) {
	maxZoom := min(cfg.Zoom, src.MaxZoom())
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	log.Info("Starting tile prefetch",
		zap.String("source", src.Name()),
		zap.Int("max_zoom", maxZoom),
		zap.Int("workers", workers),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	started := 0
	for layer := 0; layer < src.NumLayers(); layer++ {
		for z := 0; z <= maxZoom; z++ {
			n := 1 << z
			for x := 0; x < n; x++ {
				for y := 0; y < n; y++ {
					if ctx.Err() != nil {
						g.Wait()
						log.Info("Tile prefetch cancelled", zap.Int("tiles", started))
						return
					}
					key := tile.Key{Layer: layer, Zoom: z, X: x, Y: y}
					started++
					g.Go(func() error {
						prefetchOne(ctx, key, timeout, src, root, ds, log)
						return nil
					})
				}
			}
		}
	}

	g.Wait()
	log.Info("Tile prefetch completed", zap.Int("tiles", started))
}

func prefetchOne(ctx context.Context, key tile.Key, timeout time.Duration, src mapsource.Source, root string, ds *store.DiskStore, log *zap.Logger) {
	rel := src.TilePath(key.Layer, key.Zoom, key.X, key.Y)
	if _, ok := ds.Get(ctx, root, rel, true); ok {
		return
	}

	url, err := src.TileURL(key.Layer, key.Zoom, key.X, key.Y)
	if err != nil {
		log.Debug("Prefetch skipped tile", zap.Stringer("tile", key), zap.Error(err))
		return
	}

	done := make(chan struct{})
	obs := tile.ObserverFunc(func(u tile.Update) bool {
		if u.Flags.Finished() {
			close(done)
		}
		return false
	})
	if !ds.Save(key, url, root, rel, obs) {
		return
	}

	// A tile already downloading for a viewer never reports to obs.
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}
}
