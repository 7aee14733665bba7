package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"maptiles/internal/config"
	"maptiles/internal/fetch"
	httphandlers "maptiles/internal/http"
	"maptiles/internal/imaging"
	"maptiles/internal/loader"
	"maptiles/internal/logger"
	"maptiles/internal/mapsource"
	"maptiles/internal/notify"
	"maptiles/internal/settings"
	"maptiles/internal/store"
	"maptiles/internal/tiles"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	shutdownVips := imaging.Startup(imaging.Options{
		MaxCacheMB:  cfg.VipsMaxCacheMB,
		Concurrency: cfg.VipsConcurrency,
	}, log)
	defer shutdownVips()

	log.Info("Starting maptiles server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	library := mapsource.NewLibrary(log)
	if cfg.SourcesDir != "" {
		if err := library.LoadDir(cfg.SourcesDir); err != nil {
			log.Warn("Failed to load custom map sources", zap.Error(err))
		}
	}

	settingsStore := settings.NewFileStore(cfg.SettingsFile, log)
	tilesCfg, err := settingsStore.Load()
	if err != nil {
		log.Fatal("Failed to load settings", zap.Error(err))
	}
	tilesCfg = migrateSettings(tilesCfg, library, settingsStore, log)

	backend, err := store.NewBackend(ctx, cfg.Store, log)
	if err != nil {
		log.Fatal("Failed to initialize tile store", zap.Error(err))
	}
	if c, ok := backend.(io.Closer); ok {
		defer c.Close()
	}

	client := fetch.New(fetch.Options{
		UserAgent:   cfg.Fetch.UserAgent,
		Timeout:     cfg.Fetch.Timeout,
		Concurrency: cfg.Fetch.Concurrency,
		RatePerSec:  cfg.Fetch.RatePerSec,
		Burst:       cfg.Fetch.Burst,
	}, log)
	decoder := imaging.Decoder{}

	diskStore := store.New(ctx, store.Options{
		Backend: backend,
		Client:  client,
		Decoder: decoder,
		MaxAge:  cfg.Store.MaxAge,
		Logger:  log,
	})
	imageLoader := loader.New(ctx, client, decoder, log)
	events := notify.New(64, log)

	manager, err := tiles.New(tiles.Options{
		Sources:  library,
		Store:    diskStore,
		Loader:   imageLoader,
		Notifier: events,
		Logger:   log,
	}, tilesCfg)
	if err != nil {
		log.Fatal("Failed to initialize tile manager", zap.Error(err))
	}

	handlers := httphandlers.New(cfg, log, manager, diskStore, library, settingsStore, events)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Routes(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server started", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if cfg.Prefetch.Enabled {
		if tilesCfg.DiskEnabled() && tilesCfg.OnlineMode {
			g.Go(func() error {
				prefetchTiles(gctx, cfg.Prefetch, cfg.Fetch.Timeout, manager.Source(), tilesCfg.DiskCachePath, diskStore, log)
				return nil
			})
		} else {
			log.Info("Prefetch needs a disk cache and online mode, skipping")
		}
	}

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
	}

	stop()
	imageLoader.Wait()
	diskStore.Wait()
	log.Info("Server stopped")
}

// migrateSettings keeps the selected source stable when the number of
// built-in sources changed since the settings were written.
func migrateSettings(t settings.Tiles, library *mapsource.Library, s settings.Store, log *zap.Logger) settings.Tiles {
	migrated, changed := t.Migrate(library.NumFixed(), library.Len())
	if !changed {
		return t
	}

	log.Info("Migrating selected map source",
		zap.Int("from", t.MapSourceIndex),
		zap.Int("to", migrated.MapSourceIndex),
		zap.Int("num_fixed", migrated.NumFixedMaps),
	)
	if err := s.Save(migrated); err != nil {
		log.Warn("Failed to persist migrated settings", zap.Error(err))
	}
	return migrated
}
