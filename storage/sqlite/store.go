// Package sqlite provides the SQLite persistence layer for the sync
// pipeline: the durable operation queue, the dead-letter store, the
// per-entity sync state, the per-scope metadata, and the local comment
// cache, all in one database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/syncwell/commentsync/comment"
	syncErrors "github.com/syncwell/commentsync/errors"
	"github.com/syncwell/commentsync/logging"
	"github.com/syncwell/commentsync/queue"
	"github.com/syncwell/commentsync/syncstate"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const component = "storage/sqlite"

// ErrStoreClosed is returned by every method after Close.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by setDefaults, including WAL mode
// and a bounded connection pool.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:sync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// Enabled by default; when true, "?_journal_mode=WAL" is appended to
	// DataSourceName unless a journal mode is already set.
	EnableWAL bool

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Logger is optional; nil uses the package default.
	Logger *logging.Logger
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = logging.WithComponent(logging.Component(component))
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			sep := "?"
			if strings.Contains(c.DataSourceName, "?") {
				sep = "&"
			}
			c.DataSourceName += sep + "_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store owns the database handle. The typed accessors (Operations,
// DeadLetters, Entities, Metadata, Comments) hand out views implementing the
// pipeline's store contracts over the same handle.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
}

// New opens (creating if needed) the database and ensures the schema.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	config.Logger.Info("opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL))

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpInitialize, component,
			fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	s := &Store{db: db, logger: config.Logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDataSource is a convenience constructor using default settings.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	entity_kind     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	channel_id      TEXT NOT NULL DEFAULT '',
	payload         TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMP,
	last_error      TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL,
	completed_at    TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
CREATE INDEX IF NOT EXISTS idx_operations_entity ON operations(entity_kind, entity_id);

CREATE TABLE IF NOT EXISTS dead_letter (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	entity_kind     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	channel_id      TEXT NOT NULL DEFAULT '',
	payload         TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	priority        INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_states (
	entity_id                TEXT PRIMARY KEY,
	etag                     TEXT NOT NULL DEFAULT '',
	local_updated_at         TIMESTAMP,
	remote_updated_at        TIMESTAMP,
	last_synced_at           TIMESTAMP,
	version                  INTEGER NOT NULL DEFAULT 0,
	deleted                  INTEGER NOT NULL DEFAULT 0,
	modified_after_last_sync INTEGER NOT NULL DEFAULT 0,
	conflict_data            BLOB
);

CREATE TABLE IF NOT EXISTS scope_metadata (
	scope                    TEXT PRIMARY KEY,
	last_sync_token          TEXT NOT NULL DEFAULT '',
	last_full_sync_at        TIMESTAMP,
	last_incremental_sync_at TIMESTAMP,
	sync_count               INTEGER NOT NULL DEFAULT 0,
	failure_count            INTEGER NOT NULL DEFAULT 0,
	items_synced             INTEGER NOT NULL DEFAULT 0,
	last_error               TEXT NOT NULL DEFAULT '',
	last_error_at            TIMESTAMP,
	schema_version           INTEGER NOT NULL DEFAULT 0,
	migration_completed      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS comments (
	id         TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL DEFAULT '',
	author     TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_comments_channel ON comments(channel_id);
`

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return syncErrors.NewStorage(syncErrors.OpInitialize, component,
			fmt.Errorf("failed to create schema: %w", err))
	}
	return nil
}

// checkOpen guards every query against use after Close.
func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncErrors.NewInvalid(syncErrors.OpStore, component, ErrStoreClosed)
	}
	return nil
}

// Close closes the database handle. Subsequent calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing SQLite database")
	return s.db.Close()
}

// DB exposes the underlying handle for host-level maintenance (VACUUM,
// backup). Most callers never need it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Stats returns the connection pool statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// Operations returns the main operation queue store view.
func (s *Store) Operations() queue.OperationStore {
	return &operationStore{s: s}
}

// DeadLetters returns the dead-letter store view.
func (s *Store) DeadLetters() queue.DeadLetterStore {
	return &deadLetterStore{s: s}
}

// Entities returns the per-entity sync state store view.
func (s *Store) Entities() syncstate.EntityStore {
	return &entityStore{s: s}
}

// Metadata returns the per-scope metadata store view.
func (s *Store) Metadata() syncstate.MetadataStore {
	return &metadataStore{s: s}
}

// Comments returns the local comment store view.
func (s *Store) Comments() comment.Store {
	return &commentStore{s: s}
}

// nullTime converts a possibly-zero time for a nullable column.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// nullTimePtr converts an optional time for a nullable column.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timeValue(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
