package store

import (
	"database/sql"
	"fmt"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
)

// Migration defines a column addition for databases created before the
// column existed.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists all schema migrations to apply. These handle
// cases where tables exist but are missing newer columns.
var pendingMigrations = []Migration{
	// Embedding provenance columns (added with the backfill worker)
	{"memories", "embedding_model", "TEXT"},
	{"memories", "embedding_updated_at", "DATETIME"},
	// Adaptive importance counters (added with the retrieval pipeline)
	{"memories", "relevance_score", "REAL DEFAULT 0.5"},
	{"memories", "usage_frequency", "INTEGER DEFAULT 0"},
	{"memories", "last_accessed", "DATETIME"},
	// Supersession chain pointer (added with transactional supersession)
	{"memories", "superseded_by", "INTEGER REFERENCES memories(id)"},
	{"memories", "superseded_at", "DATETIME"},
	// Centroid sample tracking
	{"user_centroids", "sample_count", "INTEGER NOT NULL DEFAULT 0"},
}

// RunMigrations applies schema migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	logging.StoreDebug("Running schema migrations (%d pending)", len(pendingMigrations))

	appliedCount := 0
	skippedCount := 0

	for _, m := range pendingMigrations {
		// If the table doesn't exist in this DB, skip quietly.
		if !tableExists(db, m.Table) {
			skippedCount++
			continue
		}

		if !columnExists(db, m.Table, m.Column) {
			query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
			logging.StoreDebug("Executing migration: %s", query)

			if _, err := db.Exec(query); err != nil {
				logging.Get(logging.CategoryStore).Warn("Migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
				// Don't fail on migration errors - column may already exist in a different form
				skippedCount++
			} else {
				logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
				appliedCount++
			}
		} else {
			skippedCount++
		}
	}

	logging.StoreDebug("Schema migrations complete: applied=%d, skipped=%d", appliedCount, skippedCount)
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	query := fmt.Sprintf("PRAGMA table_info(%s)", table)
	rows, err := db.Query(query)
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists.
func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table,
	).Scan(&name)
	return err == nil
}
