package bus

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"governor/internal/db"
	"governor/internal/domain"
	"governor/internal/migrate"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return conn
}

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "subscription channel closed")
		return d
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func TestSQLitePublishSubscribeAck(t *testing.T) {
	conn := testDB(t)
	b := NewSQLite(conn)
	b.PollInterval = 10 * time.Millisecond
	defer b.Close()

	ch, err := b.Subscribe()
	require.NoError(t, err)

	require.NoError(t, b.Publish(domain.GovernorEvent{Type: domain.EventCommentAdded, IssueID: "issue-1", CommentID: "c-1"}))
	require.NoError(t, b.Publish(domain.GovernorEvent{Type: domain.EventSessionCompleted, IssueID: "issue-2", SessionID: "s-1"}))

	first := receive(t, ch)
	second := receive(t, ch)
	require.Equal(t, "issue-1", first.Event.IssueID, "insert order preserved")
	require.Equal(t, "issue-2", second.Event.IssueID)

	require.NoError(t, b.Ack(first.ID))
	require.NoError(t, b.Ack(second.ID))

	var remaining int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM bus_queue`).Scan(&remaining))
	require.Zero(t, remaining, "acked rows should be deleted")
}

func TestSQLiteUnackedRedeliveredAfterRestart(t *testing.T) {
	conn := testDB(t)

	b := NewSQLite(conn)
	b.PollInterval = 10 * time.Millisecond
	ch, err := b.Subscribe()
	require.NoError(t, err)
	require.NoError(t, b.Publish(domain.GovernorEvent{Type: domain.EventCommentAdded, IssueID: "issue-1", CommentID: "c-1"}))

	d := receive(t, ch)
	// Consumer dies without acking.
	require.NoError(t, b.Close())

	b2 := NewSQLite(conn)
	b2.PollInterval = 10 * time.Millisecond
	defer b2.Close()
	ch2, err := b2.Subscribe()
	require.NoError(t, err)

	redelivered := receive(t, ch2)
	require.Equal(t, d.ID, redelivered.ID, "same queue row comes back")
	require.Equal(t, "issue-1", redelivered.Event.IssueID)
	require.NoError(t, b2.Ack(redelivered.ID))
}

func TestSQLiteSingleSubscription(t *testing.T) {
	b := NewSQLite(testDB(t))
	defer b.Close()

	_, err := b.Subscribe()
	require.NoError(t, err)
	_, err = b.Subscribe()
	require.Error(t, err)
}

func TestSQLiteCloseStopsDelivery(t *testing.T) {
	b := NewSQLite(testDB(t))
	b.PollInterval = 10 * time.Millisecond
	ch, err := b.Subscribe()
	require.NoError(t, err)

	require.NoError(t, b.Close())
	_, ok := <-ch
	require.False(t, ok, "channel should be closed after Close")

	require.ErrorIs(t, b.Publish(domain.GovernorEvent{Type: domain.EventPollSnapshot}), ErrClosed)
	require.NoError(t, b.Close(), "close is idempotent")
}

func TestSQLitePoisonRowSkipped(t *testing.T) {
	conn := testDB(t)
	_, err := conn.Exec(`INSERT INTO bus_queue(id,enqueued_at,payload_json) VALUES ('bad','2026-03-01T12:00:00Z','{not json')`)
	require.NoError(t, err)

	b := NewSQLite(conn)
	b.PollInterval = 10 * time.Millisecond
	defer b.Close()
	ch, err := b.Subscribe()
	require.NoError(t, err)

	require.NoError(t, b.Publish(domain.GovernorEvent{Type: domain.EventCommentAdded, IssueID: "issue-1", CommentID: "c-1"}))

	d := receive(t, ch)
	require.Equal(t, "issue-1", d.Event.IssueID, "poison row dropped, good event delivered")

	var bad int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM bus_queue WHERE id='bad'`).Scan(&bad))
	require.Zero(t, bad, "poison row should be deleted")
}
