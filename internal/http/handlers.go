package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"maptiles/internal/config"
	"maptiles/internal/mapsource"
	"maptiles/internal/notify"
	"maptiles/internal/settings"
	"maptiles/internal/tile"
	"maptiles/internal/tiles"
)

// TileCache is the part of the tile manager served over HTTP.
type TileCache interface {
	GetTile(ctx context.Context, layer, x, y int) (*tile.Image, bool)
	CentreMap(zoom, x, y int)
	IsOverzoomed() bool
	Zoom() int
	Source() mapsource.Source
	Settings() settings.Tiles
	Stats() []tiles.LayerStats
	ResetConfig(cfg settings.Tiles) error
}

// Catalog lists the selectable map sources.
type Catalog interface {
	Names() []string
	NumFixed() int
	Len() int
}

// DiskCache is the disk tier, cleared on request.
type DiskCache interface {
	Clear(ctx context.Context, root, source string) error
}

type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	cache    TileCache
	disk     DiskCache
	catalog  Catalog
	settings settings.Store
	events   *notify.Broadcaster
	validate *validator.Validate
}

func New(config *config.Config, logger *zap.Logger, cache TileCache, disk DiskCache, catalog Catalog, store settings.Store, events *notify.Broadcaster) *Handlers {
	return &Handlers{
		config:   config,
		logger:   logger,
		cache:    cache,
		disk:     disk,
		catalog:  catalog,
		settings: store,
		events:   events,
		validate: settings.NewValidator(),
	}
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleTile serves one tile of the current zoom. A tile that is not
// available yet answers 202 so the client retries after the next tiles
// event.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	layer, err := strconv.Atoi(chi.URLParam(r, "layer"))
	if err != nil {
		http.Error(w, "Invalid layer", http.StatusBadRequest)
		return
	}
	x, err := strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		http.Error(w, "Invalid x coordinate", http.StatusBadRequest)
		return
	}
	y, err := strconv.Atoi(chi.URLParam(r, "y"))
	if err != nil {
		http.Error(w, "Invalid y coordinate", http.StatusBadRequest)
		return
	}

	img, ok := h.cache.GetTile(r.Context(), layer, x, y)
	if !ok || img.State() != tile.Loaded {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	data := img.Data()
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(data))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Tile-Size", fmt.Sprintf("%dx%d", img.Width(), img.Height()))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(data)
}

type centreRequest struct {
	Zoom int `json:"zoom" validate:"gte=0,lte=30"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

func (h *Handlers) HandleCentre(w http.ResponseWriter, r *http.Request) {
	var req centreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.cache.CentreMap(req.Zoom, req.X, req.Y)
	h.writeStatus(w)
}

type statusResponse struct {
	Source     string             `json:"source"`
	Zoom       int                `json:"zoom"`
	MaxZoom    int                `json:"max_zoom"`
	Overzoomed bool               `json:"overzoomed"`
	Settings   settings.Tiles     `json:"settings"`
	Layers     []tiles.LayerStats `json:"layers"`
}

func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w)
}

func (h *Handlers) writeStatus(w http.ResponseWriter) {
	src := h.cache.Source()
	writeJSON(w, statusResponse{
		Source:     src.Name(),
		Zoom:       h.cache.Zoom(),
		MaxZoom:    src.MaxZoom(),
		Overzoomed: h.cache.IsOverzoomed(),
		Settings:   h.cache.Settings(),
		Layers:     h.cache.Stats(),
	})
}

func (h *Handlers) HandleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"sources":   h.catalog.Names(),
		"num_fixed": h.catalog.NumFixed(),
		"selected":  h.cache.Settings().MapSourceIndex,
	})
}

// HandleReload re-reads the persisted settings and applies them.
func (h *Handlers) HandleReload(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.settings.Load()
	if err != nil {
		h.logger.Error("Failed to load settings", zap.Error(err))
		http.Error(w, "Failed to load settings", http.StatusInternalServerError)
		return
	}
	if migrated, changed := cfg.Migrate(h.catalog.NumFixed(), h.catalog.Len()); changed {
		h.logger.Info("Migrating selected map source",
			zap.Int("from", cfg.MapSourceIndex),
			zap.Int("to", migrated.MapSourceIndex),
		)
		if err := h.settings.Save(migrated); err != nil {
			h.logger.Warn("Failed to persist migrated settings", zap.Error(err))
		}
		cfg = migrated
	}
	h.apply(w, cfg)
}

// HandleSettings replaces the persisted settings and applies them.
func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	var cfg settings.Tiles
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// The index is in the current numbering; out-of-range picks the default.
	cfg.NumFixedMaps = h.catalog.NumFixed()
	cfg, _ = cfg.Migrate(h.catalog.NumFixed(), h.catalog.Len())
	if err := h.settings.Save(cfg); err != nil {
		h.logger.Error("Failed to save settings", zap.Error(err))
		http.Error(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}
	h.apply(w, cfg)
}

// HandleClearCache empties the active source's disk cache and the in-memory
// grids.
func (h *Handlers) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	cfg := h.cache.Settings()
	if cfg.DiskEnabled() {
		source := h.cache.Source().Name()
		if err := h.disk.Clear(r.Context(), cfg.DiskCachePath, source); err != nil {
			h.logger.Error("Failed to clear disk cache",
				zap.String("root", cfg.DiskCachePath),
				zap.String("source", source),
				zap.Error(err),
			)
			http.Error(w, "Failed to clear disk cache", http.StatusInternalServerError)
			return
		}
	}
	h.apply(w, cfg)
}

func (h *Handlers) apply(w http.ResponseWriter, cfg settings.Tiles) {
	if err := h.cache.ResetConfig(cfg); err != nil {
		if errors.Is(err, tiles.ErrNoSource) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "Failed to apply settings", http.StatusInternalServerError)
		return
	}
	h.writeStatus(w)
}

// HandleEvents streams a server-sent event for every finished tile load.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := h.events.Subscribe()
	defer h.events.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: tiles\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
