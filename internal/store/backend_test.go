package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maptiles/internal/config"
)

func newRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func newSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "tiles.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func backends(t *testing.T) map[string]Backend {
	mem, err := NewMemoryBackend(16)
	require.NoError(t, err)
	rb, _ := newRedisBackend(t)

	return map[string]Backend{
		"file":   NewFileBackend(memfs.New()),
		"memory": mem,
		"redis":  rb,
		"sqlite": newSQLiteBackend(t),
	}
}

func TestBackendsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Probe(ctx, "/cache"))

			_, _, err := b.Read(ctx, "/cache", "osm/tiles/3/1/2.png")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Write(ctx, "/cache", "osm/tiles/3/1/2.png", []byte("first")))
			require.NoError(t, b.Write(ctx, "/cache", "osm/tiles/3/1/2.png", []byte("second")))

			data, written, err := b.Read(ctx, "/cache", "osm/tiles/3/1/2.png")
			require.NoError(t, err)
			assert.Equal(t, []byte("second"), data)
			assert.False(t, written.IsZero())

			_, _, err = b.Read(ctx, "/other", "osm/tiles/3/1/2.png")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackendsClearOnlyTouchesSourceInRoot(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Write(ctx, "/a", "osm/0/0/0.png", []byte("a")))
			require.NoError(t, b.Write(ctx, "/a", "osmhot/0/0/0.png", []byte("hot")))
			require.NoError(t, b.Write(ctx, "/b", "osm/0/0/0.png", []byte("b")))

			require.NoError(t, b.Clear(ctx, "/a", "osm"))

			_, _, err := b.Read(ctx, "/a", "osm/0/0/0.png")
			assert.ErrorIs(t, err, ErrNotFound)
			data, _, err := b.Read(ctx, "/a", "osmhot/0/0/0.png")
			require.NoError(t, err)
			assert.Equal(t, []byte("hot"), data)
			data, _, err = b.Read(ctx, "/b", "osm/0/0/0.png")
			require.NoError(t, err)
			assert.Equal(t, []byte("b"), data)
		})
	}
}

func TestBackendsRejectBadClearPrefix(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, prefix := range []string{"", ".", "..", "osm/0", "../etc"} {
				assert.ErrorIs(t, b.Clear(ctx, "/a", prefix), ErrBadPrefix, prefix)
			}
		})
	}
}

func TestFileBackendStaysInsideStoreRoot(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	storeRoot := filepath.Join(base, "store")
	require.NoError(t, os.MkdirAll(storeRoot, 0755))
	keep := filepath.Join(base, "notes", "important.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(keep), 0755))
	require.NoError(t, os.WriteFile(keep, []byte("keep"), 0644))

	b := NewFileBackend(osfs.New(storeRoot))

	require.NoError(t, b.Write(ctx, "tiles", "osm/1/0/0.png", []byte("png")))
	_, err := os.Stat(filepath.Join(storeRoot, "tiles", "osm", "1", "0", "0.png"))
	assert.NoError(t, err, "relative cache roots resolve inside the store root")

	assert.Error(t, b.Write(ctx, "../notes", "osm/0/0/0.png", []byte("x")))
	assert.Error(t, b.Probe(ctx, "../outside"))
	_, err = os.Stat(filepath.Join(base, "outside"))
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, b.Clear(ctx, "..", "notes"))
	_, err = os.Stat(keep)
	assert.NoError(t, err)
}

func TestFileBackendLeavesNoTempFiles(t *testing.T) {
	fs := memfs.New()
	b := NewFileBackend(fs)
	require.NoError(t, b.Write(context.Background(), "/cache", "osm/1/0/0.png", []byte("png")))

	entries, err := fs.ReadDir("/cache/osm/1/0")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0.png", entries[0].Name())
}

func TestMemoryBackendEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	b, err := NewMemoryBackend(2)
	require.NoError(t, err)

	require.NoError(t, b.Write(ctx, "/r", "1.png", []byte("1")))
	require.NoError(t, b.Write(ctx, "/r", "2.png", []byte("2")))
	require.NoError(t, b.Write(ctx, "/r", "3.png", []byte("3")))

	assert.Equal(t, 2, b.Len())
	_, _, err = b.Read(ctx, "/r", "1.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisBackendExpiresKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(context.Background(), RedisOptions{Addr: mr.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Write(context.Background(), "/r", "0/0/0.png", []byte("png")))
	mr.FastForward(2 * time.Minute)

	_, _, err = b.Read(context.Background(), "/r", "0/0/0.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisBackendRequiresServer(t *testing.T) {
	_, err := NewRedisBackend(context.Background(), RedisOptions{})
	assert.Error(t, err)
}

func TestNoopBackendIsNotWritable(t *testing.T) {
	b := NewNoopBackend()
	assert.ErrorIs(t, b.Probe(context.Background(), "/r"), ErrDisabled)
	assert.ErrorIs(t, b.Write(context.Background(), "/r", "p", nil), ErrDisabled)
}

func TestNewBackend(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	b, err := NewBackend(ctx, config.Store{Type: "memory", MemoryTiles: 10}, log)
	require.NoError(t, err)
	assert.Equal(t, "memory", b.Name())

	b, err = NewBackend(ctx, config.Store{Type: "file", Root: t.TempDir()}, log)
	require.NoError(t, err)
	assert.Equal(t, "file", b.Name())

	_, err = NewBackend(ctx, config.Store{Type: "file"}, log)
	assert.Error(t, err)

	b, err = NewBackend(ctx, config.Store{Type: "disabled"}, log)
	require.NoError(t, err)
	assert.Equal(t, "disabled", b.Name())

	b, err = NewBackend(ctx, config.Store{Type: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "t.db")}, log)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", b.Name())
	b.(*SQLiteBackend).Close()

	_, err = NewBackend(ctx, config.Store{Type: "s3"}, log)
	assert.Error(t, err)
}
