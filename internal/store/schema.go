package store

import (
	"database/sql"
)

const currentSchemaVersion = 1

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		return err
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS scrobbles (
			key TEXT PRIMARY KEY,
			artist TEXT NOT NULL,
			title TEXT NOT NULL,
			album TEXT,
			duration_seconds INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_scrobbles_created ON scrobbles(created_at);

		CREATE TABLE IF NOT EXISTS delivery_attempts (
			scrobble_key TEXT NOT NULL REFERENCES scrobbles(key) ON DELETE CASCADE,
			backend TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (scrobble_key, backend)
		);

		CREATE INDEX IF NOT EXISTS idx_attempts_backend_status
			ON delivery_attempts(backend, status, next_attempt_at);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT OR IGNORE INTO schema_version (version) VALUES (?)
	`, currentSchemaVersion)
	return err
}
