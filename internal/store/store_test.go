package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llehouerou/scrobbled/internal/scrobble"
)

func openTestStore(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "scrobbled.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func testRecord(title string, start int64) scrobble.Record {
	return scrobble.NewRecord(
		scrobble.Track{Title: title, Artist: "Artist", Album: "Album"},
		200*time.Second,
		time.Unix(start, 0),
	)
}

func TestEnqueue_Idempotent(t *testing.T) {
	m := openTestStore(t)
	rec := testRecord("Song", 1700000000)
	backends := []string{"lastfm", "listenbrainz"}

	inserted, err := m.Enqueue(rec, backends)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = m.Enqueue(rec, backends)
	require.NoError(t, err)
	require.False(t, inserted, "re-enqueue of the same key must be a no-op")

	n, err := m.BacklogCount()
	require.NoError(t, err)
	require.Equal(t, 2, n, "one attempt per backend, no duplicates")
}

func TestDueAttempts_OrderAndSchedule(t *testing.T) {
	m := openTestStore(t)
	now := time.Now()

	first := testRecord("First", 1700000000)
	second := testRecord("Second", 1700000300)
	_, err := m.Enqueue(first, []string{"lastfm"})
	require.NoError(t, err)
	_, err = m.Enqueue(second, []string{"lastfm"})
	require.NoError(t, err)

	due, err := m.DueAttempts("lastfm", now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "First", due[0].Record.Track.Title, "oldest first")
	require.Equal(t, 200*time.Second, due[0].Record.Duration)
	require.Equal(t, first.StartedAt.Unix(), due[0].Record.StartedAt.Unix())

	// Pushing one into the future hides it until its retry time passes.
	require.NoError(t, m.MarkRetry(first.Key, "lastfm", 1, now.Add(time.Minute), "timeout", false))
	due, err = m.DueAttempts("lastfm", now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "Second", due[0].Record.Track.Title)

	due, err = m.DueAttempts("lastfm", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 2)
}

func TestMarkDelivered_RemovesFromBacklog(t *testing.T) {
	m := openTestStore(t)
	rec := testRecord("Song", 1700000000)
	_, err := m.Enqueue(rec, []string{"lastfm", "listenbrainz"})
	require.NoError(t, err)

	require.NoError(t, m.MarkDelivered(rec.Key, "lastfm"))

	due, err := m.DueAttempts("lastfm", time.Now())
	require.NoError(t, err)
	require.Empty(t, due)

	// The other backend is untouched.
	due, err = m.DueAttempts("listenbrainz", time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	a, err := m.Attempt(rec.Key, "lastfm")
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Equal(t, StatusDelivered, a.Status)
}

func TestMarkRetry_ExhaustedStaysInBacklog(t *testing.T) {
	m := openTestStore(t)
	rec := testRecord("Song", 1700000000)
	_, err := m.Enqueue(rec, []string{"lastfm"})
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, m.MarkRetry(rec.Key, "lastfm", 10, past, "http 503", true))

	a, err := m.Attempt(rec.Key, "lastfm")
	require.NoError(t, err)
	require.Equal(t, StatusRetryable, a.Status)
	require.Equal(t, 10, a.Attempts)
	require.Equal(t, "http 503", a.LastError)

	// failed-retryable is still swept, never dropped.
	due, err := m.DueAttempts("lastfm", time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
}

func TestMarkPermanentFailure_Terminal(t *testing.T) {
	m := openTestStore(t)
	rec := testRecord("Song", 1700000000)
	_, err := m.Enqueue(rec, []string{"lastfm"})
	require.NoError(t, err)

	require.NoError(t, m.MarkPermanentFailure(rec.Key, "lastfm", "bad credentials"))

	due, err := m.DueAttempts("lastfm", time.Now())
	require.NoError(t, err)
	require.Empty(t, due)

	a, err := m.Attempt(rec.Key, "lastfm")
	require.NoError(t, err)
	require.Equal(t, StatusPermanent, a.Status)
	require.Equal(t, "bad credentials", a.LastError)
}

func TestReopen_BacklogSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scrobbled.db")

	m, err := Open(path)
	require.NoError(t, err)
	delivered := testRecord("Delivered", 1700000000)
	pending := testRecord("Pending", 1700000300)
	retryable := testRecord("Retryable", 1700000600)
	for _, rec := range []scrobble.Record{delivered, pending, retryable} {
		_, err := m.Enqueue(rec, []string{"lastfm"})
		require.NoError(t, err)
	}
	require.NoError(t, m.MarkDelivered(delivered.Key, "lastfm"))
	require.NoError(t, m.MarkRetry(retryable.Key, "lastfm", 10, time.Now().Add(-time.Hour), "oops", true))
	require.NoError(t, m.Close())

	// Restart.
	m, err = Open(path)
	require.NoError(t, err)
	defer m.Close()

	due, err := m.DueAttempts("lastfm", time.Now())
	require.NoError(t, err)
	require.Len(t, due, 2, "pending and failed-retryable survive, delivered does not")

	// Re-enqueueing the delivered record after restart must not revive it.
	inserted, err := m.Enqueue(delivered, []string{"lastfm"})
	require.NoError(t, err)
	require.False(t, inserted)
	a, err := m.Attempt(delivered.Key, "lastfm")
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, a.Status)
}

func TestPruneTerminal(t *testing.T) {
	m := openTestStore(t)
	old := testRecord("Old", 1700000000)
	fresh := testRecord("Fresh", 1700000300)
	_, err := m.Enqueue(old, []string{"lastfm"})
	require.NoError(t, err)
	_, err = m.Enqueue(fresh, []string{"lastfm"})
	require.NoError(t, err)

	require.NoError(t, m.MarkDelivered(old.Key, "lastfm"))

	// Zero retention prunes terminal attempts immediately; pending stays.
	require.NoError(t, m.PruneTerminal(-time.Second))

	a, err := m.Attempt(old.Key, "lastfm")
	require.NoError(t, err)
	require.Nil(t, a, "terminal attempt pruned")

	due, err := m.DueAttempts("lastfm", time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "Fresh", due[0].Record.Track.Title)
}
