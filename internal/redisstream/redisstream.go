// Package redisstream implements the shared log on Redis Streams.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/stock-sync/internal/stream"
	"github.com/redis/go-redis/v9"
)

// Appender appends records with XADD.
type Appender struct {
	rdb redis.Cmdable
}

func NewAppender(rdb redis.Cmdable) *Appender { return &Appender{rdb: rdb} }

var _ stream.Appender = (*Appender)(nil)

func (a *Appender) Append(ctx context.Context, name string, r stream.Record) error {
	return a.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: name,
		Values: values(r),
	}).Err()
}

// values keeps field order stable on the wire.
func values(r stream.Record) []any {
	return []any{
		stream.FieldID, r.ID,
		stream.FieldCreatedAt, r.CreatedAt,
		stream.FieldType, r.Type,
		stream.FieldPayload, r.Payload,
	}
}

type Config struct {
	Group    string
	Consumer string        // defaults to Group: one consumer per group
	Streams  []string
	Block    time.Duration // default 1s
	Count    int64         // default 10
}

type ref struct {
	stream string
	id     string
}

// Subscription reads a set of streams through one consumer group. It first
// replays its own pending entries (delivered but never acked), then reads
// new ones.
type Subscription struct {
	rdb     redis.Cmdable
	cfg     Config
	pending bool
	buf     []stream.Delivery
}

var _ stream.Subscription = (*Subscription)(nil)

// Subscribe creates the consumer group on every stream if needed, starting
// from the beginning of the stream.
func Subscribe(ctx context.Context, rdb redis.Cmdable, cfg Config) (*Subscription, error) {
	if cfg.Group == "" {
		return nil, errors.New("redisstream: empty consumer group")
	}
	if len(cfg.Streams) == 0 {
		return nil, errors.New("redisstream: no streams")
	}
	if cfg.Consumer == "" {
		cfg.Consumer = cfg.Group
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}

	for _, s := range cfg.Streams {
		err := rdb.XGroupCreateMkStream(ctx, s, cfg.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("create group %s on %s: %w", cfg.Group, s, err)
		}
	}

	return &Subscription{rdb: rdb, cfg: cfg, pending: true}, nil
}

func (s *Subscription) Fetch(ctx context.Context) (stream.Delivery, error) {
	for len(s.buf) == 0 {
		if err := ctx.Err(); err != nil {
			return stream.Delivery{}, err
		}
		if err := s.read(ctx); err != nil {
			return stream.Delivery{}, err
		}
	}

	d := s.buf[0]
	s.buf = s.buf[1:]
	return d, nil
}

func (s *Subscription) read(ctx context.Context) error {
	start := ">"
	if s.pending {
		start = "0"
	}

	args := make([]string, 0, len(s.cfg.Streams)*2)
	args = append(args, s.cfg.Streams...)
	for range s.cfg.Streams {
		args = append(args, start)
	}

	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  args,
		Count:    s.cfg.Count,
		Block:    s.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		s.pending = false
		return nil
	}
	if err != nil {
		return err
	}

	n := 0
	for _, st := range res {
		for _, m := range st.Messages {
			s.buf = append(s.buf, stream.Delivery{
				Stream: st.Stream,
				Record: stream.RecordFromFields(toStrings(m.Values)),
				Ref:    ref{stream: st.Stream, id: m.ID},
			})
			n++
		}
	}
	if s.pending && n == 0 {
		s.pending = false
	}
	return nil
}

func (s *Subscription) Ack(ctx context.Context, d stream.Delivery) error {
	r, ok := d.Ref.(ref)
	if !ok {
		return fmt.Errorf("redisstream: foreign delivery %s", d)
	}
	return s.rdb.XAck(ctx, r.stream, s.cfg.Group, r.id).Err()
}

// Close is a no-op; the redis client is owned by the caller.
func (s *Subscription) Close() error { return nil }

func toStrings(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch vv := v.(type) {
		case string:
			out[k] = vv
		default:
			out[k] = fmt.Sprint(vv)
		}
	}
	return out
}
