package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	data    []byte
	written time.Time
}

// MemoryBackend keeps up to a fixed number of tiles, evicting the least
// recently used.
type MemoryBackend struct {
	cache *lru.Cache[string, memoryEntry]
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend(maxTiles int) (*MemoryBackend, error) {
	if maxTiles <= 0 {
		maxTiles = 2000
	}
	c, err := lru.New[string, memoryEntry](maxTiles)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory backend: %w", err)
	}
	return &MemoryBackend{cache: c}, nil
}

func (b *MemoryBackend) Name() string {
	return "memory"
}

func memoryKey(root, path string) string {
	return root + "|" + path
}

func (b *MemoryBackend) Read(ctx context.Context, root, path string) ([]byte, time.Time, error) {
	e, ok := b.cache.Get(memoryKey(root, path))
	if !ok {
		return nil, time.Time{}, ErrNotFound
	}
	return e.data, e.written, nil
}

func (b *MemoryBackend) Write(ctx context.Context, root, path string, data []byte) error {
	b.cache.Add(memoryKey(root, path), memoryEntry{data: data, written: time.Now()})
	return nil
}

func (b *MemoryBackend) Probe(ctx context.Context, root string) error {
	return nil
}

func (b *MemoryBackend) Clear(ctx context.Context, root, prefix string) error {
	if err := checkPrefix(prefix); err != nil {
		return err
	}
	keyPrefix := memoryKey(root, prefix+"/")
	for _, k := range b.cache.Keys() {
		if strings.HasPrefix(k, keyPrefix) {
			b.cache.Remove(k)
		}
	}
	return nil
}

func (b *MemoryBackend) Len() int {
	return b.cache.Len()
}
