package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"fleet-control-plane/internal/tamper/domain"
)

// KafkaPublisher writes signals as JSON to a Kafka topic, keyed by device id so
// signals for one device stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaPublisher returns nil when brokers or topic are empty. Call Close when shutting down.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: writer, topic: topic}
}

// Publish encodes s and writes it with a 5s bound.
func (p *KafkaPublisher) Publish(ctx context.Context, s *domain.Signal) error {
	if p == nil || p.writer == nil || s == nil {
		return nil
	}
	msg, err := message(s)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, msg)
}

// Close closes the writer. Safe to call on a nil publisher.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func message(s *domain.Signal) (kafka.Message, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(s.DeviceID),
		Value: payload,
		Time:  s.CreatedAt,
		Headers: []kafka.Header{
			{Key: "signal_type", Value: []byte(s.Type)},
			{Key: "level", Value: []byte(s.Level)},
		},
	}, nil
}
