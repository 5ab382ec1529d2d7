package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/stock-sync/internal/dispatcher"
	"github.com/jmehdipour/stock-sync/internal/metrics"
	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmehdipour/stock-sync/internal/stream"
	"go.uber.org/zap"
)

// Consumer:
// - fetches deliveries from one subscription, one at a time,
// - runs each through the dispatcher,
// - acks processed, duplicate and rejected deliveries; a handler failure is
//   left unacked,
// - retries a delivery in place while the dedup store is down.
type Consumer struct {
	sub    stream.Subscription
	disp   *dispatcher.Dispatcher
	logger *zap.Logger

	RetryWait time.Duration // pause after a failed fetch or dedup claim
}

func NewConsumer(sub stream.Subscription, disp *dispatcher.Dispatcher, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{sub: sub, disp: disp, logger: logger, RetryWait: 200 * time.Millisecond}
}

// Run processes deliveries sequentially until ctx is cancelled, which keeps
// per-stream order.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() { _ = c.sub.Close() }()

	for {
		d, err := c.sub.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("log fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.RetryWait):
			}
			continue
		}
		c.Handle(ctx, d)
	}
}

// Handle dispatches d and applies the ack policy. While the dedup store is
// failing, d is retried every RetryWait and nothing behind it is fetched.
// It returns Retry only when ctx ends first; d then stays unacked.
func (c *Consumer) Handle(ctx context.Context, d stream.Delivery) dispatcher.Outcome {
	fields := []zap.Field{
		zap.String("event_id", d.Record.ID),
		zap.String("stream", d.Stream),
		zap.String("type", d.Record.Type),
	}

	out, err := c.disp.Dispatch(ctx, d)
	metrics.EventsTotal.WithLabelValues(typeLabel(d.Record.Type), out.String()).Inc()
	for out == dispatcher.Retry {
		c.logger.Warn("dedup store unavailable, retrying", append(fields, zap.Error(err))...)
		select {
		case <-ctx.Done():
			return out
		case <-time.After(c.RetryWait):
		}
		out, err = c.disp.Dispatch(ctx, d)
		metrics.EventsTotal.WithLabelValues(typeLabel(d.Record.Type), out.String()).Inc()
	}

	switch out {
	case dispatcher.Processed, dispatcher.Duplicate:
	case dispatcher.Rejected:
		c.logger.Error("event rejected", append(fields, zap.Error(err))...)
	case dispatcher.HandlerFailed:
		c.logger.Error("event handler failed, leaving unacked", append(fields, zap.Error(err))...)
		return out
	}

	if err := c.sub.Ack(ctx, d); err != nil {
		c.logger.Warn("ack failed", append(fields, zap.Error(err))...)
	}
	return out
}

func typeLabel(s string) string {
	if t, ok := model.ParseEventType(s); ok {
		return t.String()
	}
	return "unknown"
}
