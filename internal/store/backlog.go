package store

import (
	"database/sql"
	"time"

	"github.com/llehouerou/scrobbled/internal/db"
	"github.com/llehouerou/scrobbled/internal/scrobble"
)

// Attempt is the per-(record, backend) delivery state.
type Attempt struct {
	Record        scrobble.Record
	Backend       string
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

// Enqueue stores a record and registers one pending attempt per backend.
// Idempotent on the record's key: re-enqueueing an already-known record is
// a no-op and reports inserted=false.
func (m *Manager) Enqueue(rec scrobble.Record, backends []string) (inserted bool, err error) {
	err = db.WithTx(m.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO scrobbles
			(key, artist, title, album, duration_seconds, started_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.Key, rec.Track.Artist, rec.Track.Title, rec.Track.Album,
			int(rec.Duration.Seconds()), rec.StartedAt.Unix(), now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0

		for _, backend := range backends {
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO delivery_attempts
				(scrobble_key, backend, status, attempts, next_attempt_at, updated_at)
				VALUES (?, ?, ?, 0, 0, ?)
			`, rec.Key, backend, StatusPending, now); err != nil {
				return err
			}
		}
		return nil
	})
	return inserted, err
}

// DueAttempts returns the backend's non-terminal attempts whose retry time
// has passed, in submission order (oldest scrobble first).
func (m *Manager) DueAttempts(backend string, now time.Time) ([]Attempt, error) {
	rows, err := m.db.Query(`
		SELECT s.key, s.artist, s.title, s.album, s.duration_seconds, s.started_at,
		       a.status, a.attempts, a.next_attempt_at, a.last_error
		FROM delivery_attempts a
		JOIN scrobbles s ON s.key = a.scrobble_key
		WHERE a.backend = ?
		  AND a.status IN (?, ?)
		  AND a.next_attempt_at <= ?
		ORDER BY s.created_at ASC, s.started_at ASC
	`, backend, StatusPending, StatusRetryable, now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a              Attempt
			album, lastErr sql.NullString
			durationSecs   int
			startedAt      int64
			nextAt         int64
		)
		if err := rows.Scan(
			&a.Record.Key, &a.Record.Track.Artist, &a.Record.Track.Title, &album,
			&durationSecs, &startedAt,
			&a.Status, &a.Attempts, &nextAt, &lastErr,
		); err != nil {
			return nil, err
		}
		a.Backend = backend
		a.Record.Track.Album = db.NullStringValue(album)
		a.Record.Duration = time.Duration(durationSecs) * time.Second
		a.Record.StartedAt = time.Unix(startedAt, 0)
		a.NextAttemptAt = time.Unix(nextAt, 0)
		a.LastError = db.NullStringValue(lastErr)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// MarkDelivered records a successful submission.
func (m *Manager) MarkDelivered(key, backend string) error {
	return m.setStatus(key, backend, StatusDelivered, 0, time.Time{}, "")
}

// MarkRetry schedules the next attempt. When the attempt budget is spent
// the status degrades to failed-retryable; the record stays in the backlog
// and is still picked up by later sweeps, never silently dropped.
func (m *Manager) MarkRetry(key, backend string, attempts int, next time.Time, lastError string, exhausted bool) error {
	status := StatusPending
	if exhausted {
		status = StatusRetryable
	}
	return m.setStatus(key, backend, status, attempts, next, lastError)
}

// MarkPermanentFailure records a terminal failure for this (record,
// backend) pair. Other backends are unaffected.
func (m *Manager) MarkPermanentFailure(key, backend, lastError string) error {
	return m.setStatus(key, backend, StatusPermanent, 0, time.Time{}, lastError)
}

func (m *Manager) setStatus(key, backend, status string, attempts int, next time.Time, lastError string) error {
	_, err := m.db.Exec(`
		UPDATE delivery_attempts
		SET status = ?, attempts = CASE WHEN ? > 0 THEN ? ELSE attempts END,
		    next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE scrobble_key = ? AND backend = ?
	`, status, attempts, attempts, unix(next), lastError, time.Now().Unix(), key, backend)
	return err
}

// Attempt returns the stored state for one (record, backend) pair.
func (m *Manager) Attempt(key, backend string) (*Attempt, error) {
	rows, err := m.db.Query(`
		SELECT s.key, s.artist, s.title, s.album, s.duration_seconds, s.started_at,
		       a.status, a.attempts, a.next_attempt_at, a.last_error
		FROM delivery_attempts a
		JOIN scrobbles s ON s.key = a.scrobble_key
		WHERE a.scrobble_key = ? AND a.backend = ?
	`, key, backend)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var (
		a              Attempt
		album, lastErr sql.NullString
		durationSecs   int
		startedAt      int64
		nextAt         int64
	)
	if err := rows.Scan(
		&a.Record.Key, &a.Record.Track.Artist, &a.Record.Track.Title, &album,
		&durationSecs, &startedAt,
		&a.Status, &a.Attempts, &nextAt, &lastErr,
	); err != nil {
		return nil, err
	}
	a.Backend = backend
	a.Record.Track.Album = db.NullStringValue(album)
	a.Record.Duration = time.Duration(durationSecs) * time.Second
	a.Record.StartedAt = time.Unix(startedAt, 0)
	a.NextAttemptAt = time.Unix(nextAt, 0)
	a.LastError = db.NullStringValue(lastErr)
	return &a, nil
}

// BacklogCount returns how many attempts are still awaiting delivery.
func (m *Manager) BacklogCount() (int, error) {
	var n int
	err := m.db.QueryRow(`
		SELECT COUNT(*) FROM delivery_attempts WHERE status IN (?, ?)
	`, StatusPending, StatusRetryable).Scan(&n)
	return n, err
}

// PruneTerminal removes delivered and permanently-failed attempts older
// than the retention window, then drops scrobbles with no attempts left.
func (m *Manager) PruneTerminal(retention time.Duration) error {
	cutoff := time.Now().Add(-retention).Unix()
	return db.WithTx(m.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM delivery_attempts
			WHERE status IN (?, ?) AND updated_at < ?
		`, StatusDelivered, StatusPermanent, cutoff); err != nil {
			return err
		}
		_, err := tx.Exec(`
			DELETE FROM scrobbles
			WHERE NOT EXISTS (
				SELECT 1 FROM delivery_attempts WHERE scrobble_key = scrobbles.key
			)
		`)
		return err
	})
}
