// Package dispatcher turns raw log deliveries into typed handler calls,
// at most once per event id.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmehdipour/stock-sync/internal/stream"
	"go.uber.org/zap"
)

var (
	ErrMalformedRecord        = errors.New("malformed record")
	ErrUnknownEventType       = errors.New("unknown event type")
	ErrNoHandlerRegistered    = errors.New("no handler registered")
	ErrHandlerPayloadMismatch = errors.New("handler payload mismatch")
	ErrPayloadDecode          = errors.New("payload decode failed")
	ErrDuplicateHandler       = errors.New("duplicate handler")
)

// Outcome says what happened to one delivery.
type Outcome int

const (
	Processed Outcome = iota
	Duplicate
	Rejected      // protocol error; never worth redelivering
	HandlerFailed // the handler returned an error after the id was claimed
	Retry         // the dedup store failed; nothing was claimed
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	case Retry:
		return "retry"
	default:
		return "handler_failed"
	}
}

// Handler is one entry of the dispatch table. Build it with On.
type Handler struct {
	Type    model.EventType
	Payload reflect.Type

	decode func(raw []byte) (any, error)
	call   func(ctx context.Context, ev model.Event[any]) error
}

// On binds fn to announcements of type t with payload shape T.
func On[T any](t model.EventType, fn func(ctx context.Context, ev model.Event[T]) error) Handler {
	return Handler{
		Type:    t,
		Payload: reflect.TypeOf((*T)(nil)).Elem(),
		decode: func(raw []byte) (any, error) {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		call: func(ctx context.Context, ev model.Event[any]) error {
			return fn(ctx, model.Event[T]{
				Stream:    ev.Stream,
				ID:        ev.ID,
				CreatedAt: ev.CreatedAt,
				Type:      ev.Type,
				Payload:   ev.Payload.(T),
			})
		},
	}
}

// Dedup claims an event id. It returns false if the id was claimed before.
type Dedup interface {
	Claim(ctx context.Context, eventID string) (bool, error)
}

// Observer is told about every processed announcement.
type Observer func(ctx context.Context, d stream.Delivery, processedAt time.Time)

type Dispatcher struct {
	handlers map[model.EventType]Handler
	dedup    Dedup
	logger   *zap.Logger
	observe  Observer
}

type Option func(*Dispatcher)

func WithObserver(o Observer) Option { return func(d *Dispatcher) { d.observe = o } }

// New builds the dispatch table. It fails on a second handler for the same
// type, on an unknown type, or on a handler whose payload shape differs from
// the type's declared one.
func New(dedup Dedup, logger *zap.Logger, handlers []Handler, opts ...Option) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		handlers: make(map[model.EventType]Handler, len(handlers)),
		dedup:    dedup,
		logger:   logger,
	}
	for _, h := range handlers {
		if _, ok := d.handlers[h.Type]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHandler, h.Type)
		}
		want := model.PayloadType(h.Type)
		if want == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, h.Type)
		}
		if want != h.Payload {
			return nil, fmt.Errorf("%w: %s carries %s, handler takes %s", ErrHandlerPayloadMismatch, h.Type, want, h.Payload)
		}
		d.handlers[h.Type] = h
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Dispatch runs one delivery through the idempotency gate and into its
// handler. Errors come with Rejected, HandlerFailed or Retry. Retry means
// the dedup store failed before anything was claimed, so the same delivery
// is retried in full.
func (d *Dispatcher) Dispatch(ctx context.Context, del stream.Delivery) (Outcome, error) {
	rec := del.Record
	if rec.ID == "" {
		return Rejected, fmt.Errorf("%w: %s has no id", ErrMalformedRecord, del.Stream)
	}

	first, err := d.dedup.Claim(ctx, rec.ID)
	if err != nil {
		return Retry, fmt.Errorf("claim %s: %w", rec.ID, err)
	}
	if !first {
		d.logger.Info("duplicate event discarded",
			zap.String("event_id", rec.ID),
			zap.String("stream", del.Stream),
			zap.String("type", rec.Type),
		)
		return Duplicate, nil
	}

	t, ok := model.ParseEventType(rec.Type)
	if !ok {
		return Rejected, fmt.Errorf("%w: %q", ErrUnknownEventType, rec.Type)
	}
	h, ok := d.handlers[t]
	if !ok {
		return Rejected, fmt.Errorf("%w: %s", ErrNoHandlerRegistered, t)
	}
	if want := model.PayloadType(t); want != h.Payload {
		return Rejected, fmt.Errorf("%w: %s carries %s, handler takes %s", ErrHandlerPayloadMismatch, t, want, h.Payload)
	}

	payload, err := h.decode([]byte(rec.Payload))
	if err != nil {
		return Rejected, fmt.Errorf("%w: %s: %v", ErrPayloadDecode, rec.ID, err)
	}
	created, err := stream.ParseTime(rec.CreatedAt)
	if err != nil {
		return Rejected, fmt.Errorf("%w: %s createdAt: %v", ErrPayloadDecode, rec.ID, err)
	}

	ev := model.Event[any]{
		Stream:    del.Stream,
		ID:        rec.ID,
		CreatedAt: created,
		Type:      t,
		Payload:   payload,
	}
	if err := h.call(ctx, ev); err != nil {
		return HandlerFailed, fmt.Errorf("handle %s %s: %w", t, rec.ID, err)
	}

	d.logger.Debug("event processed", zap.String("event_id", rec.ID), zap.String("stream", del.Stream), zap.String("type", rec.Type))
	if d.observe != nil {
		d.observe(ctx, del, time.Now())
	}
	return Processed, nil
}
