// Package fetch downloads tiles from upstream tile servers politely: requests
// are rate limited, bounded in number, and shared between concurrent callers
// asking for the same URL.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"maptiles/internal/metrics"
)

// MaxTileBytes caps the size of a downloaded tile.
const MaxTileBytes = 8 << 20

type Options struct {
	UserAgent   string
	Timeout     time.Duration
	Concurrency int
	RatePerSec  float64
	Burst       int
}

// StatusError reports a non-200 upstream response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d for %s", e.Code, e.URL)
}

type Client struct {
	http      *http.Client
	userAgent string
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	group     singleflight.Group
	logger    *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		sem:       semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter:   rate.NewLimiter(limit, opts.Burst),
		logger:    logger,
	}
}

// Get downloads url. Callers asking for the same URL while a download is in
// flight receive the same bytes.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	v, err, shared := c.group.Do(url, func() (interface{}, error) {
		return c.get(ctx, url)
	})
	if shared {
		c.logger.Debug("Shared in-flight download", zap.String("url", url))
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for download slot: %w", err)
	}
	defer c.sem.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxTileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read tile data: %w", err)
	}
	if len(data) > MaxTileBytes {
		return nil, fmt.Errorf("tile larger than %d bytes: %s", MaxTileBytes, url)
	}
	metrics.FetchLatency.Observe(time.Since(start).Seconds())

	c.logger.Debug("Downloaded tile", zap.String("url", url), zap.Int("size", len(data)))
	return data, nil
}
