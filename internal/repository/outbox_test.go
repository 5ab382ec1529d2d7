package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox_FetchInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	d := newDB(t)
	repo := NewOutboxRepository(d)
	now := time.Now()

	inTx(t, d, func(tx *sqlx.Tx) {
		for _, id := range []string{"e3", "e1", "e2"} {
			require.NoError(t, repo.Insert(ctx, tx, model.OutboxEvent{
				EventID: id, Stream: "s", Type: model.EventEcho, Payload: `"x"`, CreatedAt: now,
			}))
		}
	})

	rows, err := repo.FetchUnpublished(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "e3", rows[0].EventID)
	assert.Equal(t, "e1", rows[1].EventID)
	assert.False(t, rows[0].Published)
	assert.Equal(t, model.EventEcho, rows[0].Type)
	assert.WithinDuration(t, now, rows[0].CreatedAt, time.Millisecond)

	require.NoError(t, repo.MarkPublished(ctx, []int64{rows[0].ID, rows[1].ID}))

	rows, err = repo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "e2", rows[0].EventID)
}

func TestOutbox_RollbackLeavesNothing(t *testing.T) {
	ctx := context.Background()
	d := newDB(t)
	repo := NewOutboxRepository(d)

	tx, err := d.BeginTxx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, tx, model.OutboxEvent{
		EventID: "e1", Stream: "s", Type: model.EventEcho, Payload: `"x"`, CreatedAt: time.Now(),
	}))
	require.NoError(t, tx.Rollback())

	rows, err := repo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOutbox_MarkPublishedEmpty(t *testing.T) {
	d := newDB(t)
	assert.NoError(t, NewOutboxRepository(d).MarkPublished(context.Background(), nil))
}
