package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// FileBackend stores each tile as a file: {root}/{path}. Writes go through a
// temporary file and a rename so readers never see a partial tile.
type FileBackend struct {
	mu sync.RWMutex
	fs billy.Filesystem
}

var _ Backend = (*FileBackend)(nil)

func NewFileBackend(fs billy.Filesystem) *FileBackend {
	return &FileBackend{fs: fs}
}

func (b *FileBackend) Name() string {
	return "file"
}

func (b *FileBackend) filePath(root, path string) string {
	return b.fs.Join(root, path)
}

func (b *FileBackend) Read(ctx context.Context, root, path string) ([]byte, time.Time, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	filePath := b.filePath(root, path)
	info, err := b.fs.Stat(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to stat tile: %w", err)
	}

	f, err := b.fs.Open(filePath)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to open tile: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read tile: %w", err)
	}
	return data, info.ModTime(), nil
}

func (b *FileBackend) Write(ctx context.Context, root, path string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	filePath := b.filePath(root, path)
	if err := b.fs.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}

	tmpPath := filePath + ".tmp"
	if err := util.WriteFile(b.fs, tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := b.fs.Rename(tmpPath, filePath); err != nil {
		b.fs.Remove(tmpPath)
		return fmt.Errorf("failed to move tile into place: %w", err)
	}
	return nil
}

func (b *FileBackend) Probe(ctx context.Context, root string) error {
	if err := b.fs.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("cache root not writable: %w", err)
	}
	return nil
}

func (b *FileBackend) Clear(ctx context.Context, root, prefix string) error {
	if err := checkPrefix(prefix); err != nil {
		return err
	}

	// util.RemoveAll works on the underlying filesystem, past the chroot.
	target := b.fs.Join(root, prefix)
	if clean := filepath.Clean(target); clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q leaves the store root", ErrBadPrefix, target)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := util.RemoveAll(b.fs, target); err != nil {
		return fmt.Errorf("failed to clear %s: %w", prefix, err)
	}
	return nil
}
