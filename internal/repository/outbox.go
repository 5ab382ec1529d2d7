package repository

import (
	"context"

	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository defines persistence methods for the outbox_event table.
type OutboxRepository interface {
	// Insert writes one record in the caller's transaction.
	Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent) error
	// FetchUnpublished returns up to limit unpublished records in insertion order.
	FetchUnpublished(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	// MarkPublished flips the given records to published in a single statement.
	MarkPublished(ctx context.Context, ids []int64) error
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent) error {
	const q = `
		INSERT INTO outbox_event (event_id, stream, type, payload, created_at, published)
		VALUES (?, ?, ?, ?, ?, 0)
	`
	_, err := tx.ExecContext(ctx, q, ev.EventID, ev.Stream, string(ev.Type), ev.Payload, ev.CreatedAt.UTC())
	return err
}

func (r *OutboxRepositoryImpl) FetchUnpublished(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	const q = `
		SELECT id, event_id, stream, type, payload, created_at, published
		FROM outbox_event
		WHERE published = 0
		ORDER BY id ASC
		LIMIT ?
	`
	rows := make([]model.OutboxEvent, 0, limit)
	if err := r.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE outbox_event SET published = 1 WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	query = r.db.Rebind(query)

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
