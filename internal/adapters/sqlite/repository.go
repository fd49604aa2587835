package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"btcQuant/internal/domain"
	"btcQuant/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// defaultMaxAttempts bounds the refresh attempt log.
const defaultMaxAttempts = 5000

// Repository implements ports.DatasetStore using SQLite.
type Repository struct {
	db          *sql.DB
	logger      ports.Logger
	maxAttempts int
}

var _ ports.DatasetStore = (*Repository)(nil)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath      string
	MaxAttempts int // attempt rows kept; defaults to 5000
	Logger      ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/btcquant.db" // Default path
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w: %w", filepath.Dir(dbPath), ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer; the driver serialises access anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger, maxAttempts: maxAttempts}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite dataset store ready", ports.Fields{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist. Times are stored as unix milliseconds.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		ts INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		PRIMARY KEY (symbol, timeframe, ts)
	);

	CREATE TABLE IF NOT EXISTS datasets (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		candles INTEGER NOT NULL,
		PRIMARY KEY (symbol, timeframe)
	);

	CREATE TABLE IF NOT EXISTS refresh_attempts (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		candles INTEGER NOT NULL DEFAULT 0,
		error TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_refresh_attempts_started_at ON refresh_attempts (started_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- DatasetStore Implementation ---

// SaveDataset replaces the stored window for the dataset's symbol/timeframe in one transaction.
// Candles older than the dataset's first candle are pruned.
func (r *Repository) SaveDataset(ctx context.Context, ds *domain.Dataset) error {
	if err := ds.Validate(); err != nil {
		return fmt.Errorf("save dataset: %w: %w", ports.ErrInvalidRequest, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %w", ports.ErrQueryFailed, err)
	}
	defer tx.Rollback() // no-op after Commit

	const upsert = `
	INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
		open = excluded.open, high = excluded.high, low = excluded.low,
		close = excluded.close, volume = excluded.volume`
	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("failed to prepare candle upsert: %w: %w", ports.ErrQueryFailed, err)
	}
	defer stmt.Close()

	for _, c := range ds.Candles {
		if _, err := stmt.ExecContext(ctx, ds.Symbol, ds.Timeframe, c.Time.UnixMilli(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("failed to upsert candle %s: %w: %w", c.Time.Format(time.RFC3339), ports.ErrQueryFailed, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM candles WHERE symbol = ? AND timeframe = ? AND ts < ?`,
		ds.Symbol, ds.Timeframe, ds.Candles[0].Time.UnixMilli()); err != nil {
		return fmt.Errorf("failed to prune candles: %w: %w", ports.ErrQueryFailed, err)
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO datasets (symbol, timeframe, fetched_at, candles) VALUES (?, ?, ?, ?)
	ON CONFLICT (symbol, timeframe) DO UPDATE SET fetched_at = excluded.fetched_at, candles = excluded.candles`,
		ds.Symbol, ds.Timeframe, ds.FetchedAt.UnixMilli(), ds.Len()); err != nil {
		return fmt.Errorf("failed to upsert dataset: %w: %w", ports.ErrQueryFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dataset: %w: %w", ports.ErrQueryFailed, err)
	}
	r.logger.Debug(ctx, "Dataset saved", ports.Fields{"symbol": ds.Symbol, "timeframe": ds.Timeframe, "candles": ds.Len()})
	return nil
}

// LoadDataset returns the newest limit stored candles in ascending order, or nil when none exist.
func (r *Repository) LoadDataset(ctx context.Context, symbol, timeframe string, limit int) (*domain.Dataset, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	const query = `
	SELECT ts, open, high, low, close, volume FROM candles
	WHERE symbol = ? AND timeframe = ?
	ORDER BY ts DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles for %s %s: %w: %w", symbol, timeframe, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w: %w", ports.ErrQueryFailed, err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w: %w", ports.ErrQueryFailed, err)
	}
	if len(candles) == 0 {
		return nil, nil
	}

	var fetchedAt int64
	err = r.db.QueryRowContext(ctx,
		`SELECT fetched_at FROM datasets WHERE symbol = ? AND timeframe = ?`, symbol, timeframe).Scan(&fetchedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		fetchedAt = candles[0].Time.UnixMilli() // newest candle; rows are still descending here
	case err != nil:
		return nil, fmt.Errorf("failed to query dataset metadata: %w: %w", ports.ErrQueryFailed, err)
	}

	return domain.NewDataset(symbol, timeframe, candles, 0, time.UnixMilli(fetchedAt).UTC()), nil
}

// RecordAttempt appends one refresh attempt and trims the log to its configured size.
func (r *Repository) RecordAttempt(ctx context.Context, a domain.Attempt) error {
	const insert = `
	INSERT INTO refresh_attempts (id, symbol, timeframe, started_at, duration_ms, outcome, candles, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	var errText sql.NullString
	if a.Error != "" {
		errText = sql.NullString{String: a.Error, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, insert, a.ID, a.Symbol, a.Timeframe, a.StartedAt.UnixMilli(),
		a.Duration.Milliseconds(), string(a.Outcome), a.Candles, errText); err != nil {
		return fmt.Errorf("failed to record attempt %s: %w: %w", a.ID, ports.ErrQueryFailed, err)
	}

	const trim = `
	DELETE FROM refresh_attempts WHERE id NOT IN (
		SELECT id FROM refresh_attempts ORDER BY started_at DESC, id DESC LIMIT ?
	)`
	if _, err := r.db.ExecContext(ctx, trim, r.maxAttempts); err != nil {
		return fmt.Errorf("failed to trim attempt log: %w: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// RecentAttempts returns up to limit attempts, newest first.
func (r *Repository) RecentAttempts(ctx context.Context, limit int) ([]domain.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
	SELECT id, symbol, timeframe, started_at, duration_ms, outcome, candles, error
	FROM refresh_attempts ORDER BY started_at DESC, id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	attempts := make([]domain.Attempt, 0, limit)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w: %w", ports.ErrQueryFailed, err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w: %w", ports.ErrQueryFailed, err)
	}
	return attempts, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanCandle scans a row into a domain.Candle.
func scanCandle(s scanner) (domain.Candle, error) {
	var c domain.Candle
	var ts int64
	if err := s.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
		return domain.Candle{}, err
	}
	c.Time = time.UnixMilli(ts).UTC()
	return c, nil
}

// scanAttempt scans a row into a domain.Attempt.
func scanAttempt(s scanner) (domain.Attempt, error) {
	var a domain.Attempt
	var startedAt, durationMs int64
	var outcome string
	var errText sql.NullString
	if err := s.Scan(&a.ID, &a.Symbol, &a.Timeframe, &startedAt, &durationMs, &outcome, &a.Candles, &errText); err != nil {
		return domain.Attempt{}, err
	}
	a.StartedAt = time.UnixMilli(startedAt).UTC()
	a.Duration = time.Duration(durationMs) * time.Millisecond
	a.Outcome = domain.AttemptOutcome(outcome)
	if errText.Valid {
		a.Error = errText.String
	}
	return a, nil
}
