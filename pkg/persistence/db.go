// Package persistence provides the SQLite-backed execution state store.
// It implements the same state.Store contract as the file backend, for
// deployments that want transactional durability and cheap eviction queries.
package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// openDB opens the SQLite database with WAL mode and a busy timeout, creates
// the schema if needed, and constrains the pool to SQLite's single writer.
func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS execution_states (
	agent           TEXT NOT NULL,
	work_item_id    TEXT NOT NULL,
	status          TEXT NOT NULL,
	input_contract  TEXT,
	output_contract TEXT,
	progress_data   TEXT,
	error_data      TEXT,
	started_at      TIMESTAMP NOT NULL,
	last_updated    TIMESTAMP NOT NULL,
	PRIMARY KEY (agent, work_item_id)
);

CREATE INDEX IF NOT EXISTS idx_execution_states_last_updated
	ON execution_states(last_updated);
`
