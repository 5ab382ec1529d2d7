// Package streamtest provides an in-process shared log for tests.
package streamtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmehdipour/stock-sync/internal/stream"
)

// Log is an in-memory append-only log keyed by stream name.
type Log struct {
	mu      sync.Mutex
	streams map[string][]stream.Record
	fail    func(name string, r stream.Record) error
	notify  chan struct{}
}

var _ stream.Appender = (*Log)(nil)

func NewLog() *Log {
	return &Log{streams: map[string][]stream.Record{}, notify: make(chan struct{})}
}

// FailWith makes Append return fn's error whenever fn returns non-nil.
func (l *Log) FailWith(fn func(name string, r stream.Record) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = fn
}

func (l *Log) Append(_ context.Context, name string, r stream.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		if err := l.fail(name, r); err != nil {
			return err
		}
	}
	l.streams[name] = append(l.streams[name], r)
	close(l.notify)
	l.notify = make(chan struct{})
	return nil
}

// Records returns a copy of everything appended to name.
func (l *Log) Records(name string) []stream.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]stream.Record(nil), l.streams[name]...)
}

// Subscribe reads streams from the beginning, like a new consumer group.
func (l *Log) Subscribe(streams ...string) *Subscription {
	return &Subscription{log: l, streams: streams, offsets: map[string]int{}, unacked: map[ref]stream.Delivery{}}
}

type ref struct {
	stream string
	offset int
}

// Subscription reads its streams in the order given, one stream drained
// before the next.
type Subscription struct {
	log     *Log
	streams []string

	mu      sync.Mutex
	offsets map[string]int
	replay  []stream.Delivery
	unacked map[ref]stream.Delivery
	acked   int
}

var _ stream.Subscription = (*Subscription)(nil)

// TryFetch returns the next delivery without blocking.
func (s *Subscription) TryFetch() (stream.Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.replay) > 0 {
		d := s.replay[0]
		s.replay = s.replay[1:]
		return d, true
	}

	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	for _, name := range s.streams {
		off := s.offsets[name]
		recs := s.log.streams[name]
		if off < len(recs) {
			s.offsets[name] = off + 1
			r := ref{stream: name, offset: off}
			d := stream.Delivery{Stream: name, Record: recs[off], Ref: r}
			s.unacked[r] = d
			return d, true
		}
	}
	return stream.Delivery{}, false
}

func (s *Subscription) Fetch(ctx context.Context) (stream.Delivery, error) {
	for {
		s.log.mu.Lock()
		wait := s.log.notify
		s.log.mu.Unlock()

		if d, ok := s.TryFetch(); ok {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return stream.Delivery{}, ctx.Err()
		case <-wait:
		}
	}
}

func (s *Subscription) Ack(_ context.Context, d stream.Delivery) error {
	r, ok := d.Ref.(ref)
	if !ok {
		return fmt.Errorf("streamtest: foreign delivery %s", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.unacked[r]; ok {
		delete(s.unacked, r)
		s.acked++
	}
	return nil
}

// Pending is the number of delivered but unacked records.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unacked)
}

func (s *Subscription) Acked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

// Redeliver queues every unacked delivery again, as a restarted consumer
// would see its pending entries.
func (s *Subscription) Redeliver() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.unacked {
		s.replay = append(s.replay, d)
	}
}

func (s *Subscription) Close() error { return nil }
