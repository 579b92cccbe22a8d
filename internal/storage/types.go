package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict is returned by Create when a record with the same key
	// already exists and the backend enforces uniqueness.
	ErrConflict = errors.New("storage: key already exists")

	ErrClosed = errors.New("storage: closed")
)

// Keyed is implemented by values that derive a stable identity from themselves.
// Key must only depend on identity fields, never on display fields.
type Keyed[K comparable] interface {
	Key() K
}

// Store persists processed records.
//
// Find returns ok=false (and no error) for an absent key. Deleting an absent
// key is a no-op. List makes no ordering promise across backends.
type Store[T Keyed[K], K comparable] interface {
	List(ctx context.Context) ([]T, error)
	Find(ctx context.Context, key K) (T, bool, error)
	Create(ctx context.Context, item T) error
	Delete(ctx context.Context, key K) error
}

// Config selects and configures a SQL database.
//
// Driver values:
//   - "sqlite": SQLite database file (modernc.org/sqlite)
//   - "postgres": PostgreSQL via pgx (DSN required)
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
