// Package storeengine is the effectful executor for storeplan.Plan: a
// single SQLite-backed key/value table with per-row versioning for
// compare-and-swap, plus a Query surface for predicate scans. Bootstrap
// follows the teacher's internal/store/local_core.go pragma sequence
// (WAL journal mode, synchronous=NORMAL, busy_timeout) and
// migrations.go's versioned ALTER TABLE pattern, generalized from a
// fixed table-per-concern schema to a single namespace/key/sub_key
// addressed table (§4.3, §6).
package storeengine

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/obslog"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Engine is the durable backend for the pure storeplan algebra.
type Engine struct {
	db  *sql.DB
	mu  sync.Mutex
	log *obslog.Logger
}

// Open initializes the SQLite database at path, applying the same
// pragma sequence the teacher's LocalStore does.
func Open(path string, base *obslog.Logger) (*Engine, error) {
	log := base
	if log == nil {
		log = obslog.Noop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kerr.StorageIO("failed to create storage directory", err).WithContext("dir", dir)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, kerr.StorageIO("failed to open database", err).WithContext("path", path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	e := &Engine{db: db, log: log}
	if err := e.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		sub_key TEXT NOT NULL DEFAULT '',
		value BLOB,
		version INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY(namespace, key, sub_key)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_namespace_key ON kv(namespace, key);
	`
	if _, err := e.db.Exec(schema); err != nil {
		return kerr.StorageIO("failed to create schema", err)
	}
	return runMigrations(e.db, e.log)
}

// Close closes the underlying database connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

// DB exposes the underlying connection for packages (e.g. txlog) that
// need raw SQL access beyond the Plan algebra.
func (e *Engine) DB() *sql.DB {
	return e.db
}

func subKeyOf(sub *string) string {
	if sub == nil {
		return ""
	}
	return *sub
}
