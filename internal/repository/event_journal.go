package repository

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// EventJournal keeps an append-only record of processed announcements in ClickHouse.
type EventJournal interface {
	Record(ctx context.Context, e model.JournalEntry) error
	List(ctx context.Context, f JournalFilter) ([]model.JournalEntry, error)
}

type JournalFilter struct {
	Stream string
	Type   string
	Limit  int
	Offset int
}

type chEventJournal struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewEventJournal(ch *sqlx.DB) EventJournal {
	return &chEventJournal{ch: ch}
}

// Record writes one row. clickhouse-go's database/sql driver only accepts
// inserts through a prepared batch.
func (r *chEventJournal) Record(ctx context.Context, e model.JournalEntry) error {
	tx, err := r.ch.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO event_journal (event_id, stream, type, payload, created_at, processed_at, node)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, e.EventID, e.Stream, e.Type, e.Payload, e.CreatedAt.UTC(), e.ProcessedAt.UTC(), e.Node); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *chEventJournal) List(ctx context.Context, f JournalFilter) ([]model.JournalEntry, error) {
	q, args, err := journalQuery(f)
	if err != nil {
		return nil, err
	}

	var rows []model.JournalEntry
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func journalQuery(f JournalFilter) (string, []any, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := squirrel.Select("event_id", "stream", "type", "payload", "created_at", "processed_at", "node").
		From("event_journal FINAL")
	if f.Stream != "" {
		q = q.Where(squirrel.Eq{"stream": f.Stream})
	}
	if f.Type != "" {
		q = q.Where(squirrel.Eq{"type": f.Type})
	}
	return q.OrderBy("processed_at DESC").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset)).
		ToSql()
}
