package store

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"

	"maptiles/internal/config"
)

// NewBackend creates the backend named by cfg.Type. The file backend is
// chrooted at cfg.Root; cache roots are paths below it.
func NewBackend(ctx context.Context, cfg config.Store, log *zap.Logger) (Backend, error) {
	switch cfg.Type {
	case "file":
		if cfg.Root == "" {
			return nil, fmt.Errorf("file tile store needs a root directory")
		}
		log.Info("Using file tile store", zap.String("root", cfg.Root))
		return NewFileBackend(osfs.New(cfg.Root)), nil
	case "memory":
		log.Info("Using memory tile store", zap.Int("max_tiles", cfg.MemoryTiles))
		return NewMemoryBackend(cfg.MemoryTiles)
	case "redis":
		log.Info("Using redis tile store", zap.String("addr", cfg.Redis.Addr))
		return NewRedisBackend(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
	case "sqlite":
		return NewSQLiteBackend(cfg.SQLitePath, log)
	case "disabled":
		log.Info("Tile store disabled")
		return NewNoopBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s (supported: file, memory, redis, sqlite, disabled)", cfg.Type)
	}
}
