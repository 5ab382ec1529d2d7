package model

import "time"

// OutboxEvent is a pending announcement, written in the same transaction as
// the ledger change it describes.
type OutboxEvent struct {
	ID        int64     `db:"id"`
	EventID   string    `db:"event_id"`
	Stream    string    `db:"stream"`
	Type      EventType `db:"type"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
	Published bool      `db:"published"`
}
