package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteBackend keeps every tile of every root in a single database file.
type SQLiteBackend struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Backend = (*SQLiteBackend)(nil)

func NewSQLiteBackend(path string, logger *zap.Logger) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	b := &SQLiteBackend{
		db:     db,
		logger: logger,
	}
	if err := b.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite tile store initialized", zap.String("path", path))
	return b, nil
}

func (b *SQLiteBackend) runMigrations() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(b.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Name() string {
	return "sqlite"
}

func (b *SQLiteBackend) Read(ctx context.Context, root, path string) ([]byte, time.Time, error) {
	query := `SELECT data, updated_at
	FROM tiles
	WHERE root = ? AND path = ?`

	var (
		data      []byte
		updatedAt int64
	)
	err := b.db.QueryRowContext(ctx, query, root, path).Scan(&data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("sqlite read %s: %w", path, err)
	}
	return data, time.Unix(0, updatedAt), nil
}

func (b *SQLiteBackend) Write(ctx context.Context, root, path string, data []byte) error {
	query := `INSERT INTO tiles (root, path, data, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(root, path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`

	if _, err := b.db.ExecContext(ctx, query, root, path, data, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("sqlite write %s: %w", path, err)
	}
	return nil
}

func (b *SQLiteBackend) Probe(ctx context.Context, root string) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Clear(ctx context.Context, root, prefix string) error {
	if err := checkPrefix(prefix); err != nil {
		return err
	}
	query := `DELETE FROM tiles
	WHERE root = ? AND substr(path, 1, ?) = ?`

	dir := prefix + "/"
	if _, err := b.db.ExecContext(ctx, query, root, len(dir), dir); err != nil {
		return fmt.Errorf("sqlite clear: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
