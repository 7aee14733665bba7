package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		Port          int    `env:"PORT" envDefault:"8080"`
		DataDir       string `env:"DATA_DIR" envDefault:"/data"`
		SettingsFile  string `env:"SETTINGS_FILE"`
		SourcesDir    string `env:"SOURCES_DIR"`
		LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
		AllowedOrigin string `env:"ALLOWED_ORIGIN"`

		VipsMaxCacheMB  int `env:"VIPS_MAX_CACHE_MB" envDefault:"64"`
		VipsConcurrency int `env:"VIPS_CONCURRENCY" envDefault:"1"`

		Store    Store    `envPrefix:"STORE_"`
		Fetch    Fetch    `envPrefix:"FETCH_"`
		Prefetch Prefetch `envPrefix:"PREFETCH_"`
	}

	// Store selects the backend behind the disk tier. The tier itself is
	// enabled by the disk cache path in the viewer settings, which is
	// relative to Root.
	Store struct {
		Type        string        `env:"TYPE" envDefault:"file"`
		Root        string        `env:"ROOT"`
		MemoryTiles int           `env:"MEMORY_TILES" envDefault:"2000"`
		MaxAge      time.Duration `env:"MAX_AGE" envDefault:"720h"`
		SQLitePath  string        `env:"SQLITE_PATH"`
		Redis       Redis         `envPrefix:"REDIS_"`
	}

	Redis struct {
		Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
		Password string        `env:"PASSWORD"`
		DB       int           `env:"DB" envDefault:"0"`
		TTL      time.Duration `env:"TTL" envDefault:"24h"`
	}

	Fetch struct {
		UserAgent   string        `env:"USER_AGENT" envDefault:"maptiles/1.0"`
		Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
		Concurrency int           `env:"CONCURRENCY" envDefault:"4"`
		RatePerSec  float64       `env:"RATE_PER_SEC" envDefault:"8"`
		Burst       int           `env:"BURST" envDefault:"4"`
	}

	Prefetch struct {
		Enabled bool `env:"ENABLED" envDefault:"false"`
		Zoom    int  `env:"ZOOM" envDefault:"3"`
		Workers int  `env:"WORKERS" envDefault:"2"`
	}
)

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	if cfg.SettingsFile == "" {
		cfg.SettingsFile = filepath.Join(cfg.DataDir, "settings.yaml")
	}
	if cfg.Store.Root == "" {
		cfg.Store.Root = filepath.Join(cfg.DataDir, "tiles")
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = filepath.Join(cfg.DataDir, "tiles.db")
	}
	return &cfg, nil
}
