// Package store is the disk tile tier: tile bytes kept under a cache root,
// addressed by the path the map source builds for each tile.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("tile not found")
	ErrDisabled  = errors.New("tile store disabled")
	ErrBadPrefix = errors.New("invalid clear prefix")
)

// Backend keeps encoded tiles. root namespaces a cache (a directory for the
// file backend, a key prefix elsewhere); path is the tile's relative path.
type Backend interface {
	Name() string
	// Read returns the tile bytes and when they were written, or ErrNotFound.
	Read(ctx context.Context, root, path string) ([]byte, time.Time, error)
	Write(ctx context.Context, root, path string, data []byte) error
	// Probe reports whether root can accept writes.
	Probe(ctx context.Context, root string) error
	// Clear removes the tiles below prefix (a source directory) in root.
	Clear(ctx context.Context, root, prefix string) error
}

// checkPrefix accepts a single relative path element such as a source name.
func checkPrefix(prefix string) error {
	if prefix == "" || prefix == "." || prefix == ".." || strings.ContainsAny(prefix, "/\\") {
		return fmt.Errorf("%w: %q", ErrBadPrefix, prefix)
	}
	return nil
}
