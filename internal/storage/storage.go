package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// Storage is the interface for all record sinks.
type Storage interface {
	// Store persists a batch of records.
	Store(records []*types.Record) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// openFile creates the parent directory and opens path for writing,
// truncating it when overwrite is set and appending otherwise.
func openFile(backend, path string, overwrite bool) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.StorageError{Backend: backend, Err: fmt.Errorf("create output dir: %w", err)}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, &types.StorageError{Backend: backend, Err: fmt.Errorf("open output file: %w", err)}
	}
	return f, nil
}
