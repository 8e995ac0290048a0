// Package storage persists token limits and the token usage log.
//
// The Store interface is the limiter's only I/O boundary. Two backends are
// provided:
//
//   - MemoryStore: process-local maps, no persistence (default)
//   - SQLiteStore: a single SQLite file in WAL mode, using either the
//     pure-Go modernc.org/sqlite driver or the cgo mattn/go-sqlite3 driver
//
// # Usage
//
//	store, err := storage.New(storage.Config{Backend: "sqlite", Path: "tollgate.db"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.SetUserTokenLimit(ctx, "alice", 100000, "1 day")
//	limit, err := store.GetUserTokenLimit(ctx, "alice")
//
// Usage counters only grow. Resetting them when a period ends is left to an
// external process.
package storage
