// Package sqlite implements the conversation store on SQLite.
// It handles connection lifecycle, migrations, repositories and the change feed.
package sqlite

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zjrosen/crewchat/internal/clock"
	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/infrastructure/migrations"
	"github.com/zjrosen/crewchat/internal/log"
	"github.com/zjrosen/crewchat/internal/pubsub"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB manages the SQLite connection and the change broker shared by its repositories.
type DB struct {
	conn   *sql.DB
	path   string
	clock  clock.Clock
	broker *pubsub.Broker[domain.Change]
	backup bool
}

// Option configures NewDB.
type Option func(*DB)

// WithClock sets the clock used for created_at and updated_at.
func WithClock(c clock.Clock) Option {
	return func(db *DB) { db.clock = c }
}

// WithBackup copies an existing database file to {path}.bak before migrating.
func WithBackup(enabled bool) Option {
	return func(db *DB) { db.backup = enabled }
}

// NewDB opens a database connection, configures pragmas, and runs migrations.
// The parent directory is created when missing. MemoryPath opens an
// in-memory database on a single pooled connection.
//
// Example:
//
//	db, err := sqlite.NewDB("~/.crewchat/crewchat.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func NewDB(path string, opts ...Option) (*DB, error) {
	db := &DB{
		path:   path,
		clock:  clock.Real(),
		broker: pubsub.NewBroker[domain.Change](),
	}
	for _, opt := range opts {
		opt(db)
	}

	log.Debug(log.CatDB, "Opening database", "path", path)

	dsn := "file::memory:"
	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			log.ErrorErr(log.CatDB, "Failed to create database directory", err, "path", dir)
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
		if db.backup {
			if err := backupExisting(path); err != nil {
				log.ErrorErr(log.CatDB, "Failed to create pre-migration backup", err, "path", path)
				return nil, fmt.Errorf("failed to create pre-migration backup: %w", err)
			}
		}
		dsn = "file:" + path
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		log.ErrorErr(log.CatDB, "Failed to open database", err, "path", path)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == MemoryPath {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		log.ErrorErr(log.CatDB, "Failed to ping database", err, "path", path)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			log.ErrorErr(log.CatDB, "Failed to apply pragma", err, "pragma", p)
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := migrations.Up(conn); err != nil {
		_ = conn.Close()
		log.ErrorErr(log.CatDB, "Failed to run migrations", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db.conn = conn
	log.Info(log.CatDB, "Database initialized", "path", path)
	return db, nil
}

// Close closes the change broker and the connection.
func (db *DB) Close() error {
	db.broker.Close()
	if db.conn != nil {
		log.Debug(log.CatDB, "Closing database", "path", db.path)
		return db.conn.Close()
	}
	return nil
}

// Path returns the path the database was opened with.
func (db *DB) Path() string {
	return db.path
}

// Store returns the conversation store backed by this connection.
func (db *DB) Store() *Store {
	return newStore(db)
}

// Broker returns the in-process change broker. Every write through Store
// publishes on it.
func (db *DB) Broker() *pubsub.Broker[domain.Change] {
	return db.broker
}

// Connection returns the underlying *sql.DB for testing purposes.
func (db *DB) Connection() *sql.DB {
	return db.conn
}

func backupExisting(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	backupPath := path + ".bak"
	if err := copyFile(path, backupPath); err != nil {
		return err
	}
	log.Debug(log.CatDB, "Created pre-migration backup", "backup", backupPath)
	return nil
}

// copyFile copies src over dst. A close error on dst is returned so a
// truncated backup is never reported as success.
func copyFile(src, dst string) (retErr error) {
	in, err := os.Open(src) //nolint:gosec // src is the configured database path
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, info.Mode()) //nolint:gosec // dst is derived from the database path
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("failed to close backup file: %w", cerr)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
