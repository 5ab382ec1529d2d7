package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/stock-sync/internal/metrics"
	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmehdipour/stock-sync/internal/repository"
	"github.com/jmehdipour/stock-sync/internal/stream"
	"github.com/jmehdipour/stock-sync/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var (
	ErrPayloadTypeMismatch = errors.New("payload type mismatch")
	ErrSerialization       = errors.New("payload serialization failed")
)

type Config struct {
	Interval  time.Duration // default 200ms
	BatchSize int           // default 10
}

// Publisher records announcements next to the ledger change that caused them
// and later hands them to the shared log.
type Publisher struct {
	repo   repository.OutboxRepository
	log    stream.Appender
	logger *zap.Logger

	interval  time.Duration
	batchSize int

	now   func() time.Time
	newID func() string

	flushing     sync.Mutex
	disconnected atomic.Bool
}

func NewPublisher(repo repository.OutboxRepository, log stream.Appender, logger *zap.Logger, cfg Config) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		repo:      repo,
		log:       log,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       time.Now,
		newID:     util.NewEventID,
	}
}

// Enqueue inserts one outbox record in tx. The payload's dynamic type must be
// the one declared for t. On error the caller must roll tx back.
func (p *Publisher) Enqueue(ctx context.Context, tx *sqlx.Tx, streamName string, t model.EventType, payload any) (model.Event[any], error) {
	want := model.PayloadType(t)
	if want == nil {
		return model.Event[any]{}, fmt.Errorf("%w: unknown event type %q", ErrPayloadTypeMismatch, t)
	}
	if got := reflect.TypeOf(payload); got != want {
		return model.Event[any]{}, fmt.Errorf("%w: %s expects %s, got %v", ErrPayloadTypeMismatch, t, want, got)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return model.Event[any]{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	ev := model.Event[any]{
		Stream:    streamName,
		ID:        p.newID(),
		CreatedAt: p.now().UTC().Truncate(time.Microsecond), // DATETIME(6) precision
		Type:      t,
		Payload:   payload,
	}
	row := model.OutboxEvent{
		EventID:   ev.ID,
		Stream:    ev.Stream,
		Type:      ev.Type,
		Payload:   string(raw),
		CreatedAt: ev.CreatedAt,
	}
	if err := p.repo.Insert(ctx, tx, row); err != nil {
		return model.Event[any]{}, fmt.Errorf("insert outbox: %w", err)
	}
	return ev, nil
}

// SetDisconnected stops (true) or resumes (false) flushing.
func (p *Publisher) SetDisconnected(v bool) { p.disconnected.Store(v) }

func (p *Publisher) Disconnected() bool { return p.disconnected.Load() }

// Flush appends up to one batch of unpublished records in insertion order and
// marks the appended ones as published. The first append failure ends the
// batch; the rest stay unpublished for the next tick. Overlapping calls
// return immediately.
func (p *Publisher) Flush(ctx context.Context) error {
	if !p.flushing.TryLock() {
		return nil
	}
	defer p.flushing.Unlock()

	if p.disconnected.Load() {
		return nil
	}

	rows, err := p.repo.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("fetch unpublished: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	done := make([]int64, 0, len(rows))
	var appendErr error
	for _, r := range rows {
		rec := stream.Record{
			ID:        r.EventID,
			CreatedAt: stream.FormatTime(r.CreatedAt),
			Type:      r.Type.String(),
			Payload:   r.Payload,
		}
		if err := p.log.Append(ctx, r.Stream, rec); err != nil {
			metrics.OutboxRecordsTotal.WithLabelValues("failed").Inc()
			appendErr = fmt.Errorf("append %s to %s: %w", r.EventID, r.Stream, err)
			break
		}
		metrics.OutboxRecordsTotal.WithLabelValues("appended").Inc()
		done = append(done, r.ID)
	}

	if err := p.repo.MarkPublished(ctx, done); err != nil {
		return errors.Join(appendErr, fmt.Errorf("mark published: %w", err))
	}
	if len(done) > 0 {
		p.logger.Debug("outbox flushed", zap.Int("published", len(done)), zap.Int("fetched", len(rows)))
	}
	return appendErr
}

// Run flushes every interval until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	tick := time.NewTicker(p.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := p.Flush(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("outbox flush failed", zap.Error(err))
			}
		}
	}
}
