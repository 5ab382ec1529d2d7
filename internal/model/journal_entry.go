package model

import "time"

// JournalEntry is one processed announcement as recorded in ClickHouse.
type JournalEntry struct {
	EventID     string    `db:"event_id"     json:"eventId"`
	Stream      string    `db:"stream"       json:"stream"`
	Type        string    `db:"type"         json:"type"`
	Payload     string    `db:"payload"      json:"payload"`
	CreatedAt   time.Time `db:"created_at"   json:"createdAt"`
	ProcessedAt time.Time `db:"processed_at" json:"processedAt"`
	Node        string    `db:"node"         json:"node"`
}
