package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to one topic. The routing key travels in the
// "event" header.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(partitionKey(key, v)),
		Value:   b,
		Headers: []kafka.Header{{Key: "event", Value: []byte(key)}},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// partitionKey keeps every event of a room on one partition.
func partitionKey(key string, v any) string {
	if ev, ok := v.(BookingEvent); ok && ev.RoomID != "" {
		return ev.RoomID
	}
	return key
}
