package storeengine

import (
	"database/sql"
	"fmt"

	"github.com/kotobadb/core/internal/obslog"
	"go.uber.org/zap"
)

// migration describes a single additive schema change, in the teacher's
// migrations.go shape: table/column/definition, applied only if the
// column is missing.
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations is currently empty — the kv table's shape has not
// changed since its initial schema — but the runner stays in place so a
// future column addition (e.g. a TTL or a compaction marker) follows the
// same additive, idempotent path the teacher used for its own schema
// evolution.
var pendingMigrations []migration

func runMigrations(db *sql.DB, log *obslog.Logger) error {
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			log.Warn("migration failed", zap.String("table", m.Table), zap.String("column", m.Column), zap.Error(err))
			continue
		}
		log.Info("migration applied", zap.String("table", m.Table), zap.String("column", m.Column))
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
