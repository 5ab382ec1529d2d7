package kafka

import (
	"context"
	"encoding/json"

	"github.com/jmehdipour/stock-sync/internal/stream"
	"github.com/segmentio/kafka-go"
)

// Producer appends records to the topic named after the destination stream.
// Messages are keyed by stream so a stream stays on one partition and keeps
// its order.
type Producer struct {
	w *kafka.Writer
}

var _ stream.Appender = (*Producer)(nil)

func NewProducer(brokers []string) *Producer {
	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (p *Producer) Append(ctx context.Context, name string, r stream.Record) error {
	msg, err := toMessage(name, r)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msg)
}

func (p *Producer) Close() error { return p.w.Close() }

func toMessage(name string, r stream.Record) (Message, error) {
	value, err := json.Marshal(r.Fields())
	if err != nil {
		return Message{}, err
	}
	return kafka.Message{
		Topic: name,
		Key:   []byte(name),
		Value: value,
	}, nil
}
