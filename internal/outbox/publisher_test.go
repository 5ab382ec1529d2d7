package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jmehdipour/stock-sync/internal/db"
	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmehdipour/stock-sync/internal/repository"
	"github.com/jmehdipour/stock-sync/internal/stream"
	"github.com/jmehdipour/stock-sync/internal/stream/streamtest"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db   *sqlx.DB
	repo *repository.OutboxRepositoryImpl
	log  *streamtest.Log
	pub  *Publisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := db.NewMemorySQLite(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	repo := repository.NewOutboxRepository(d)
	log := streamtest.NewLog()
	pub := NewPublisher(repo, log, nil, Config{BatchSize: 10})

	seq := 0
	pub.newID = func() string {
		seq++
		return fmt.Sprintf("ev-%02d", seq)
	}
	return &fixture{db: d, repo: repo, log: log, pub: pub}
}

func (f *fixture) enqueue(t *testing.T, streamName string, n int) {
	t.Helper()
	ctx := context.Background()
	tx, err := f.db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := f.pub.Enqueue(ctx, tx, streamName, model.EventEcho, fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
}

func TestEnqueue_ReturnsAnnouncement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.pub.now = func() time.Time { return fixed }

	tx, err := f.db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	ev, err := f.pub.Enqueue(ctx, tx, "to-central", model.EventItemUpdated,
		model.ItemUpdated{StoreID: "store-1", ProductID: "p1", Quantity: 4})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, "ev-01", ev.ID)
	assert.Equal(t, "to-central", ev.Stream)
	assert.Equal(t, fixed, ev.CreatedAt)

	rows, err := f.repo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var p model.ItemUpdated
	require.NoError(t, json.Unmarshal([]byte(rows[0].Payload), &p))
	assert.Equal(t, model.ItemUpdated{StoreID: "store-1", ProductID: "p1", Quantity: 4}, p)
}

func TestEnqueue_CreatedAtMatchesWire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pub.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC) }

	tx, err := f.db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	ev, err := f.pub.Enqueue(ctx, tx, "to-central", model.EventEcho, "hi")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), ev.CreatedAt)

	require.NoError(t, f.pub.Flush(ctx))
	recs := f.log.Records("to-central")
	require.Len(t, recs, 1)
	wire, err := stream.ParseTime(recs[0].CreatedAt)
	require.NoError(t, err)
	assert.True(t, ev.CreatedAt.Equal(wire), "returned %s, wire %s", ev.CreatedAt, wire)
}

func TestEnqueue_PayloadTypeMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = f.pub.Enqueue(ctx, tx, "s", model.EventItemUpdated, model.ItemCreated{StoreID: "store-1"})
	assert.ErrorIs(t, err, ErrPayloadTypeMismatch)

	_, err = f.pub.Enqueue(ctx, tx, "s", model.EventItemUpdated, &model.ItemUpdated{})
	assert.ErrorIs(t, err, ErrPayloadTypeMismatch)

	_, err = f.pub.Enqueue(ctx, tx, "s", model.EventType("NOPE"), "x")
	assert.ErrorIs(t, err, ErrPayloadTypeMismatch)

	_, err = f.pub.Enqueue(ctx, tx, "s", model.EventEcho, nil)
	assert.ErrorIs(t, err, ErrPayloadTypeMismatch)

	var n int
	require.NoError(t, tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox_event`))
	assert.Zero(t, n)
}

func TestFlush_InOrderAndMarksPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t, "s", 3)

	require.NoError(t, f.pub.Flush(ctx))

	recs := f.log.Records("s")
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, fmt.Sprintf("ev-%02d", i+1), r.ID)
		assert.Equal(t, "ECHO", r.Type)
		assert.Equal(t, fmt.Sprintf(`"msg-%d"`, i), r.Payload)
		_, err := stream.ParseTime(r.CreatedAt)
		assert.NoError(t, err)
	}

	rows, err := f.repo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// nothing left to send
	require.NoError(t, f.pub.Flush(ctx))
	assert.Len(t, f.log.Records("s"), 3)
}

func TestFlush_BoundedBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t, "s", 12)

	require.NoError(t, f.pub.Flush(ctx))
	assert.Len(t, f.log.Records("s"), 10)

	require.NoError(t, f.pub.Flush(ctx))
	assert.Len(t, f.log.Records("s"), 12)
}

func TestFlush_StopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t, "s", 4)

	down := errors.New("log down")
	f.log.FailWith(func(_ string, r stream.Record) error {
		if r.ID == "ev-03" {
			return down
		}
		return nil
	})

	err := f.pub.Flush(ctx)
	require.ErrorIs(t, err, down)
	assert.Len(t, f.log.Records("s"), 2)

	rows, err := f.repo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ev-03", rows[0].EventID)
	assert.Equal(t, "ev-04", rows[1].EventID)

	// the log recovers; the tail goes out on the next tick, still in order
	f.log.FailWith(nil)
	require.NoError(t, f.pub.Flush(ctx))

	var ids []string
	for _, r := range f.log.Records("s") {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"ev-01", "ev-02", "ev-03", "ev-04"}, ids)
}

func TestFlush_DisconnectedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t, "s", 2)

	f.pub.SetDisconnected(true)
	assert.True(t, f.pub.Disconnected())
	require.NoError(t, f.pub.Flush(ctx))
	assert.Empty(t, f.log.Records("s"))

	rows, err := f.repo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	f.pub.SetDisconnected(false)
	require.NoError(t, f.pub.Flush(ctx))
	assert.Len(t, f.log.Records("s"), 2)
}

func TestRun_FlushesOnTick(t *testing.T) {
	f := newFixture(t)
	f.pub.interval = 10 * time.Millisecond
	f.enqueue(t, "s", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.pub.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(f.log.Records("s")) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
