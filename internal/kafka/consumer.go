package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/stock-sync/internal/stream"
	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers        []string
	Topics         []string // one topic per stream
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = commit synchronously on Ack
	MaxWait        time.Duration // default 50ms
}

// Consumer is a thin wrapper around a group Reader. Offsets are committed
// only through Ack.
type Consumer struct {
	r *kafka.Reader
}

var _ stream.Subscription = (*Consumer)(nil)

func NewConsumerFromConfig(c Config) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}

	mw := c.MaxWait
	if mw <= 0 {
		mw = 50 * time.Millisecond
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		GroupTopics:    c.Topics,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: c.CommitInterval,
		MaxWait:        mw,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{r: r}
}

type Message = kafka.Message

func (c *Consumer) Fetch(ctx context.Context) (stream.Delivery, error) {
	m, err := c.r.FetchMessage(ctx)
	if err != nil {
		return stream.Delivery{}, err
	}
	return toDelivery(m), nil
}

func (c *Consumer) Ack(ctx context.Context, d stream.Delivery) error {
	m, ok := d.Ref.(Message)
	if !ok {
		return fmt.Errorf("kafka: foreign delivery %s", d)
	}
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }

// toDelivery decodes the flat field set from the message value. An
// undecodable value yields an empty record, which the dispatcher rejects.
func toDelivery(m Message) stream.Delivery {
	var fields map[string]string
	_ = json.Unmarshal(m.Value, &fields)

	return stream.Delivery{
		Stream: m.Topic,
		Record: stream.RecordFromFields(fields),
		Ref:    m,
	}
}
