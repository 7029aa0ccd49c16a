// Package store persists the scrobble backlog and per-backend delivery
// state in a local sqlite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	appName    = "scrobbled"
	dbFileName = "scrobbled.db"
)

// Delivery attempt statuses. in-flight is never persisted: a crash
// mid-submit simply re-attempts on the next sweep.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusRetryable = "failed-retryable"
	StatusPermanent = "failed-permanent"
)

type Manager struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. A database that cannot be
// opened or migrated is a fatal condition: failing loudly beats silently
// discarding scrobble history.
func Open(path string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open scrobble database %s: %w", path, err)
	}

	// The polling loop (enqueue) and the sweep write concurrently. A single
	// connection serializes them inside the process, and busy_timeout covers
	// anything else holding the file, so neither loop sees SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("scrobble database %s is unusable: %w", path, err)
	}

	return &Manager{db: db}, nil
}

// OpenDefault opens the database at the standard data location.
func OpenDefault() (*Manager, error) {
	path, err := xdg.DataFile(filepath.Join(appName, dbFileName))
	if err != nil {
		return nil, err
	}
	return Open(path)
}

func (m *Manager) Close() error {
	return m.db.Close()
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
