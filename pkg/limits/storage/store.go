package storage

import (
	"fmt"
	"time"
)

const (
	// BackendMemory selects MemoryStore.
	BackendMemory = "memory"

	// BackendSQLite selects SQLiteStore.
	BackendSQLite = "sqlite"
)

// Config selects and configures a Store.
type Config struct {
	// Backend is "memory" or "sqlite".
	// Default: memory
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// Driver is the SQLite driver, "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: sqlite
	Driver string `yaml:"driver"`

	// BusyTimeout is the SQLite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// Retention is how long usage records are kept by the memory backend.
	// Default: 30 days
	Retention time.Duration `yaml:"retention"`
}

// New opens the store selected by cfg.Backend.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStoreWithConfig(MemoryStoreConfig{Retention: cfg.Retention}), nil
	case BackendSQLite:
		return NewSQLiteStoreWithConfig(SQLiteStoreConfig{
			Path:        cfg.Path,
			Driver:      cfg.Driver,
			BusyTimeout: cfg.BusyTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
