package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/bmac-node/internal/infrastructure/database"
	"github.com/nerrad567/bmac-node/migrations"
)

// queryTimeout bounds each blob query.
const queryTimeout = 5 * time.Second

// SQLiteStore keeps blobs in the blobs table.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore migrates db and wraps it. The store takes ownership of db.
func NewSQLiteStore(ctx context.Context, db *database.DB) (*SQLiteStore, error) {
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("migrating blob store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Read implements Store.
func (s *SQLiteStore) Read(name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM blobs WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Write implements Store. A single upsert statement is atomic in SQLite.
func (s *SQLiteStore) Write(name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, name, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Close implements Backend.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
