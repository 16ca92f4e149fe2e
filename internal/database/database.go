package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
)

// DB wraps the database connection
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New creates a new Postgres connection and prepares the schema.
func New(dsn string, logger *slog.Logger) (*DB, error) {
	return Open("postgres", dsn, logger)
}

// Open creates a connection through any registered driver. The schema only
// uses portable SQL so tests can run the same statements against SQLite.
func Open(driver, dsn string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db, err := NewFromConn(conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// NewFromConn prepares the schema on an already opened connection pool.
func NewFromConn(conn *sql.DB, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, logger: logger}

	if err := db.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	db.createIndexes()

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS voice_activities (
			id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			join_time TIMESTAMP NOT NULL,
			leave_time TIMESTAMP,
			duration BIGINT,
			is_session_starter BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS voice_sessions (
			id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS period_aggregates (
			server_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			period_type TEXT NOT NULL,
			period_key TEXT NOT NULL,
			total_duration BIGINT NOT NULL DEFAULT 0,
			session_count BIGINT NOT NULL DEFAULT 0,
			started_session_count BIGINT NOT NULL DEFAULT 0,
			longest_session BIGINT NOT NULL DEFAULT 0,
			average_session BIGINT NOT NULL DEFAULT 0,
			last_activity_id TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (server_id, user_id, period_type, period_key)
		)`,
		// At most one open record per user and channel, and one open session per channel.
		`CREATE UNIQUE INDEX IF NOT EXISTS voice_activities_one_active
			ON voice_activities (server_id, user_id, channel_id) WHERE is_active`,
		`CREATE UNIQUE INDEX IF NOT EXISTS voice_sessions_one_active
			ON voice_sessions (server_id, channel_id) WHERE is_active`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// createIndexes adds read-path indexes. They only affect performance, so a
// failure is logged rather than aborting startup.
func (db *DB) createIndexes() {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS voice_activities_server_join
			ON voice_activities (server_id, join_time)`,
		`CREATE INDEX IF NOT EXISTS voice_activities_server_user_join
			ON voice_activities (server_id, user_id, join_time)`,
		`CREATE INDEX IF NOT EXISTS voice_activities_channel_active
			ON voice_activities (server_id, channel_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS period_aggregates_period
			ON period_aggregates (server_id, period_type, period_key)`,
	}

	for _, index := range indexes {
		if _, err := db.conn.Exec(index); err != nil {
			db.logger.Warn("index creation failed", "error", err)
		}
	}
}
