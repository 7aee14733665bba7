package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisBackend shares tiles between processes. Each tile is a hash holding
// the bytes and the write time; keys expire after TTL.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBackend{
		client: client,
		ttl:    opts.TTL,
	}, nil
}

func (b *RedisBackend) Name() string {
	return "redis"
}

// rootPrefix hashes the root so arbitrary paths make compact, safe keys.
func rootPrefix(root string) string {
	return fmt.Sprintf("tile:%016x:", xxhash.Sum64String(root))
}

func (b *RedisBackend) keyFor(root, path string) string {
	return rootPrefix(root) + path
}

func (b *RedisBackend) Read(ctx context.Context, root, path string) ([]byte, time.Time, error) {
	vals, err := b.client.HGetAll(ctx, b.keyFor(root, path)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis HGETALL %q: %w", path, err)
	}
	data, ok := vals["data"]
	if !ok {
		return nil, time.Time{}, ErrNotFound
	}

	var written time.Time
	if ts, err := strconv.ParseInt(vals["mtime"], 10, 64); err == nil {
		written = time.Unix(0, ts)
	}
	return []byte(data), written, nil
}

func (b *RedisBackend) Write(ctx context.Context, root, path string, data []byte) error {
	key := b.keyFor(root, path)
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "data", data, "mtime", time.Now().UnixNano())
		if b.ttl > 0 {
			p.Expire(ctx, key, b.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis HSET %q: %w", path, err)
	}
	return nil
}

func (b *RedisBackend) Probe(ctx context.Context, root string) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Clear(ctx context.Context, root, prefix string) error {
	if err := checkPrefix(prefix); err != nil {
		return err
	}
	iter := b.client.Scan(ctx, 0, rootPrefix(root)+escapeGlob(prefix)+"/*", 256).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 256 {
			if err := b.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis DEL %d keys: %w", len(batch), err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis SCAN: %w", err)
	}
	if len(batch) > 0 {
		if err := b.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis DEL %d keys: %w", len(batch), err)
		}
	}
	return nil
}

var globEscaper = strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
