package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure-Go SQLite driver, registered as "sqlite"
)

const (
	// DriverModernc selects the pure-Go driver.
	DriverModernc = "sqlite"

	// DriverMattn selects the cgo driver.
	DriverMattn = "sqlite3"
)

// SQLiteStore implements Store on a single SQLite database file.
// Writes go through one connection; WAL mode keeps readers from blocking
// on it, and a background loop checkpoints the WAL.
type SQLiteStore struct {
	db                 *sql.DB
	path               string
	checkpointInterval time.Duration
	now                func() time.Time
	done               chan struct{}
	closeOnce          sync.Once

	getLimitStmt *sql.Stmt
	setLimitStmt *sql.Stmt
	addUsageStmt *sql.Stmt
	logUsageStmt *sql.Stmt
	getUsageStmt *sql.Stmt
	listStmt     *sql.Stmt
	cleanupStmt  *sql.Stmt

	logRequestStmt     *sql.Stmt
	getRequestsStmt    *sql.Stmt
	cleanupRequestStmt *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path string

	// Driver is DriverModernc or DriverMattn.
	// Default: DriverModernc
	Driver string

	// BusyTimeout is how long to wait for a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// NewSQLiteStore opens the database at path with default settings.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{Path: path})
}

// NewSQLiteStoreWithConfig opens the database and creates the schema.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q (must be %q or %q)", cfg.Driver, DriverModernc, DriverMattn)
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:                 db,
		path:               cfg.Path,
		checkpointInterval: cfg.CheckpointInterval,
		now:                cfg.Now,
		done:               make(chan struct{}),
	}

	if err := s.configure(cfg.BusyTimeout); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		s.closeStatements()
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.checkpointLoop()

	return s, nil
}

func (s *SQLiteStore) configure(busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS token_limits (
		user_id TEXT PRIMARY KEY,
		max_tokens_per_period INTEGER NOT NULL,
		tokens_used_in_period INTEGER NOT NULL DEFAULT 0,
		period_start INTEGER NOT NULL,
		period_interval TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS token_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		tokens_used INTEGER NOT NULL,
		api_endpoint TEXT NOT NULL DEFAULT '',
		priority_level TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_user_time ON token_usage(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_time ON token_usage(timestamp);

	CREATE TABLE IF NOT EXISTS rate_limit_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		api_endpoint TEXT NOT NULL DEFAULT '',
		weight INTEGER NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_key_time ON rate_limit_requests(user_id, api_endpoint, timestamp);
	CREATE INDEX IF NOT EXISTS idx_requests_time ON rate_limit_requests(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	stmts := []struct {
		dst   **sql.Stmt
		name  string
		query string
	}{
		{&s.getLimitStmt, "get limit", `
			SELECT user_id, max_tokens_per_period, tokens_used_in_period, period_start, period_interval
			FROM token_limits
			WHERE user_id = ?`},
		{&s.setLimitStmt, "set limit", `
			INSERT INTO token_limits (user_id, max_tokens_per_period, tokens_used_in_period, period_start, period_interval)
			VALUES (?, ?, 0, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				max_tokens_per_period = excluded.max_tokens_per_period,
				period_interval = excluded.period_interval`},
		{&s.addUsageStmt, "add usage", `
			UPDATE token_limits
			SET tokens_used_in_period = tokens_used_in_period + ?
			WHERE user_id = ?`},
		{&s.logUsageStmt, "log usage", `
			INSERT INTO token_usage (user_id, session_id, tokens_used, api_endpoint, priority_level, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`},
		{&s.getUsageStmt, "get usage", `
			SELECT user_id, session_id, tokens_used, api_endpoint, priority_level, timestamp
			FROM token_usage
			WHERE user_id = ? AND timestamp >= ? AND timestamp <= ?
			ORDER BY timestamp, id`},
		{&s.listStmt, "list limits", `
			SELECT user_id, max_tokens_per_period, tokens_used_in_period, period_start, period_interval
			FROM token_limits
			ORDER BY user_id`},
		{&s.cleanupStmt, "cleanup", `
			DELETE FROM token_usage
			WHERE timestamp < ?`},
		{&s.logRequestStmt, "log request", `
			INSERT INTO rate_limit_requests (user_id, api_endpoint, weight, timestamp)
			VALUES (?, ?, ?, ?)`},
		{&s.getRequestsStmt, "get requests", `
			SELECT user_id, api_endpoint, weight, timestamp
			FROM rate_limit_requests
			WHERE user_id = ? AND api_endpoint = ? AND timestamp >= ? AND timestamp <= ?
			ORDER BY timestamp, id`},
		{&s.cleanupRequestStmt, "cleanup requests", `
			DELETE FROM rate_limit_requests
			WHERE timestamp < ?`},
	}

	for _, st := range stmts {
		stmt, err := s.db.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("failed to prepare %s statement: %w", st.name, err)
		}
		*st.dst = stmt
	}
	return nil
}

// GetUserTokenLimit returns the user's limit.
func (s *SQLiteStore) GetUserTokenLimit(ctx context.Context, userID string) (*TokenLimit, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}

	l, err := scanLimit(s.getLimitStmt.QueryRowContext(ctx, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token limit: %w", err)
	}
	return l, nil
}

// SetUserTokenLimit creates or updates the user's limit.
func (s *SQLiteStore) SetUserTokenLimit(ctx context.Context, userID string, maxTokens int64, periodInterval string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if maxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative: %d", maxTokens)
	}
	if _, err := ParsePeriodInterval(periodInterval); err != nil {
		return err
	}

	if _, err := s.setLimitStmt.ExecContext(ctx, userID, maxTokens, s.now().UnixMilli(), periodInterval); err != nil {
		return fmt.Errorf("failed to save token limit: %w", err)
	}
	return nil
}

// UpdateTokenUsage adds delta to the user's usage in a single statement.
func (s *SQLiteStore) UpdateTokenUsage(ctx context.Context, userID string, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("usage delta cannot be negative: %d", delta)
	}

	res, err := s.addUsageStmt.ExecContext(ctx, delta, userID)
	if err != nil {
		return fmt.Errorf("failed to update token usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w for user %q", ErrNoTokenLimit, userID)
	}
	return nil
}

// LogTokenUsage appends a usage record. A zero timestamp is set to now.
func (s *SQLiteStore) LogTokenUsage(ctx context.Context, rec *UsageRecord) error {
	if rec == nil {
		return fmt.Errorf("usage record cannot be nil")
	}
	if rec.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	_, err := s.logUsageStmt.ExecContext(ctx,
		rec.UserID,
		rec.SessionID,
		rec.TokensUsed,
		rec.APIEndpoint,
		rec.PriorityLevel,
		ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to log token usage: %w", err)
	}
	return nil
}

// GetUserTokenUsage returns the user's records in [start, end], oldest first.
func (s *SQLiteStore) GetUserTokenUsage(ctx context.Context, userID string, start, end time.Time) ([]*UsageRecord, error) {
	if end.IsZero() {
		end = s.now()
	}

	rows, err := s.getUsageStmt.QueryContext(ctx, userID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage: %w", err)
	}
	defer rows.Close()

	var records []*UsageRecord
	for rows.Next() {
		var (
			r  UsageRecord
			ts int64
		)
		if err := rows.Scan(&r.UserID, &r.SessionID, &r.TokensUsed, &r.APIEndpoint, &r.PriorityLevel, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Timestamp = time.UnixMilli(ts)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// LogRequest appends an admitted request. A zero timestamp is set to now.
func (s *SQLiteStore) LogRequest(ctx context.Context, rec *RequestRecord) error {
	if rec == nil {
		return fmt.Errorf("request record cannot be nil")
	}
	if rec.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	if _, err := s.logRequestStmt.ExecContext(ctx, rec.UserID, rec.APIEndpoint, rec.Weight, ts.UnixMilli()); err != nil {
		return fmt.Errorf("failed to log request: %w", err)
	}
	return nil
}

// GetRequests returns the requests for userID and endpoint in [start, end],
// oldest first.
func (s *SQLiteStore) GetRequests(ctx context.Context, userID, endpoint string, start, end time.Time) ([]*RequestRecord, error) {
	if end.IsZero() {
		end = s.now()
	}

	rows, err := s.getRequestsStmt.QueryContext(ctx, userID, endpoint, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var records []*RequestRecord
	for rows.Next() {
		var (
			r  RequestRecord
			ts int64
		)
		if err := rows.Scan(&r.UserID, &r.APIEndpoint, &r.Weight, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Timestamp = time.UnixMilli(ts)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// ListTokenLimits returns every limit ordered by user ID.
func (s *SQLiteStore) ListTokenLimits(ctx context.Context) ([]*TokenLimit, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list token limits: %w", err)
	}
	defer rows.Close()

	var limits []*TokenLimit
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		limits = append(limits, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return limits, nil
}

// Cleanup deletes usage and request records older than olderThan.
func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	var total int64
	for _, stmt := range []*sql.Stmt{s.cleanupStmt, s.cleanupRequestStmt} {
		res, err := stmt.ExecContext(ctx, olderThan.UnixMilli())
		if err != nil {
			return int(total), fmt.Errorf("failed to cleanup: %w", err)
		}
		deleted, err := res.RowsAffected()
		if err != nil {
			return int(total), fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += deleted
	}
	return int(total), nil
}

// Close checkpoints the WAL and closes the database. Close is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)
		s.closeStatements()
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})

	return closeErr
}

func (s *SQLiteStore) closeStatements() {
	for _, stmt := range []*sql.Stmt{
		s.getLimitStmt, s.setLimitStmt, s.addUsageStmt, s.logUsageStmt,
		s.getUsageStmt, s.listStmt, s.cleanupStmt,
		s.logRequestStmt, s.getRequestsStmt, s.cleanupRequestStmt,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLimit(row rowScanner) (*TokenLimit, error) {
	var (
		l           TokenLimit
		periodStart int64
	)
	if err := row.Scan(&l.UserID, &l.MaxTokensPerPeriod, &l.TokensUsedInPeriod, &periodStart, &l.PeriodInterval); err != nil {
		return nil, err
	}
	l.PeriodStart = time.UnixMilli(periodStart)
	return &l, nil
}
