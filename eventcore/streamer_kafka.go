package eventcore

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaStreamer publishes committed events to a Kafka topic, keyed by the
// unscoped aggregate id so every event for one aggregate lands on the
// same partition and preserves per-aggregate order on the consumer side.
type KafkaStreamer struct {
	writer *kafka.Writer
}

// NewKafkaStreamer builds a Streamer writing to topic on the given
// brokers. Ownership of the underlying writer belongs to the caller;
// Close shuts it down.
func NewKafkaStreamer(brokers []string, topic string) *KafkaStreamer {
	return &KafkaStreamer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{}, // keyed by aggregate id, not round-robin
		},
	}
}

func (s *KafkaStreamer) Notify(ctx context.Context, events []Event) error {
	messages := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return &InvalidEventDataError{AggregateID: ev.AggregateID, Reason: fmt.Sprintf("marshal for stream: %v", err)}
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(ev.AggregateID),
			Value: payload,
		})
	}
	if err := s.writer.WriteMessages(ctx, messages...); err != nil {
		return &DatabaseError{Op: "kafka.write_messages", Err: err}
	}
	return nil
}

// Close flushes and closes the underlying Kafka writer.
func (s *KafkaStreamer) Close() error { return s.writer.Close() }
