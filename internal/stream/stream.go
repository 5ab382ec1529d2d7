// Package stream defines the shared-log contract used by the outbox
// publisher and the consumer loop. Records are appended to a named stream and
// read back through a consumer group with explicit acknowledgement.
package stream

import (
	"context"
	"fmt"
	"time"
)

// Record is the wire form of an announcement. The destination is the stream
// it is appended to, never a field of the record.
type Record struct {
	ID        string
	CreatedAt string
	Type      string
	Payload   string
}

const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldType      = "type"
	FieldPayload   = "payload"
)

// TimeLayout is used to render CreatedAt; it round-trips nanoseconds.
const TimeLayout = time.RFC3339Nano

func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

func ParseTime(s string) (time.Time, error) { return time.Parse(TimeLayout, s) }

// Fields returns the flat field set of r.
func (r Record) Fields() map[string]string {
	return map[string]string{
		FieldID:        r.ID,
		FieldCreatedAt: r.CreatedAt,
		FieldType:      r.Type,
		FieldPayload:   r.Payload,
	}
}

// RecordFromFields rebuilds a Record from a flat field set. Missing fields
// are left empty; the dispatcher rejects incomplete records.
func RecordFromFields(f map[string]string) Record {
	return Record{
		ID:        f[FieldID],
		CreatedAt: f[FieldCreatedAt],
		Type:      f[FieldType],
		Payload:   f[FieldPayload],
	}
}

// Delivery is one record read from a stream. Ref identifies it to the
// transport for acknowledgement.
type Delivery struct {
	Stream string
	Record Record
	Ref    any
}

func (d Delivery) String() string {
	return fmt.Sprintf("%s/%s", d.Stream, d.Record.ID)
}

// Appender appends records to the shared log.
type Appender interface {
	Append(ctx context.Context, stream string, r Record) error
}

// Subscription reads records from a fixed set of streams for one consumer
// group. A delivery that is never acked is eligible for redelivery.
type Subscription interface {
	Fetch(ctx context.Context) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	Close() error
}
