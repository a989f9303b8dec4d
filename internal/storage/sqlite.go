// Package storage persists slots, booking results and the activity log in
// SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DB is the SQLite handle shared by the repositories.
type DB struct {
	*sql.DB
	path string
	log  *zap.Logger
}

// Open opens the SQLite file at path, creating its directory, and migrates
// the schema to the latest version.
func Open(path string, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}
	conn.SetMaxOpenConns(4)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	db := &DB{DB: conn, path: path, log: log.Named("storage")}
	n, err := db.Migrate(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	version, _ := db.SchemaVersion(ctx)
	db.log.Info("💾 database ready", zap.String("path", path), zap.Int("schema", version), zap.Int("migrated", n))
	return db, nil
}

// dsn keeps WAL on so the API can read while a scan is writing.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_synchronous", "NORMAL")
	return path + "?" + q.Encode()
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string { return db.path }

// InTx runs fn in a transaction that is committed only when fn succeeds.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.log.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
