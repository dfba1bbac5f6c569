// Package store persists the node's small named byte blobs.
//
// Blob names and contents are byte-exact with the files the node has always
// kept: location.txt, config.txt (4 raw little-endian bytes) and
// wifi_creds.txt. Two backends are available: one file per blob in a
// directory, or a single SQLite table.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/bmac-node/internal/infrastructure/config"
	"github.com/nerrad567/bmac-node/internal/infrastructure/database"
)

// Blob names.
const (
	LocationFile = "location.txt"
	ModuleFile   = "config.txt"
	WiFiFile     = "wifi_creds.txt"
)

// Store reads and writes named blobs.
type Store interface {
	// Read returns the blob contents, or ErrNotFound.
	Read(name string) ([]byte, error)

	// Write replaces the blob atomically: readers see either the old or the
	// new contents, never a mix.
	Write(name string, data []byte) error
}

// Backend is a Store with a lifecycle.
type Backend interface {
	Store
	Close() error
}

// Open creates the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path)
	case "sqlite":
		db, err := database.Open(cfg)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLiteStore(ctx, db)
		if err != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
