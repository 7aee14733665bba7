package store

import (
	"context"
	"time"
)

type NoopBackend struct{}

var _ Backend = NoopBackend{}

func (NoopBackend) Name() string {
	return "disabled"
}

func (NoopBackend) Read(ctx context.Context, root, path string) ([]byte, time.Time, error) {
	return nil, time.Time{}, ErrNotFound
}

func (NoopBackend) Write(ctx context.Context, root, path string, data []byte) error {
	return ErrDisabled
}

func (NoopBackend) Probe(ctx context.Context, root string) error {
	return ErrDisabled
}

func (NoopBackend) Clear(ctx context.Context, root, prefix string) error {
	return nil
}

func NewNoopBackend() NoopBackend {
	return NoopBackend{}
}
