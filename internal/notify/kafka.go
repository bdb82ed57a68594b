package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	skafka "github.com/segmentio/kafka-go"

	"rhythmflow.app/internal/booking"
)

// Writer is the subset of kafka.Writer the notifier needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Kafka publishes one message per notice, keyed by class id so notices for a
// class stay ordered within a partition.
type Kafka struct {
	writer  Writer
	timeout time.Duration
}

var _ booking.Notifier = (*Kafka)(nil)

func NewKafka(brokers []string, topic string) *Kafka {
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireOne,
	}
	return NewKafkaWithWriter(w)
}

// NewKafkaWithWriter allows injecting a test writer.
func NewKafkaWithWriter(w Writer) *Kafka {
	return &Kafka{writer: w, timeout: 5 * time.Second}
}

func (k *Kafka) Notify(ctx context.Context, n booking.Notice) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	msg := skafka.Message{
		Key:     []byte(n.Class.ID),
		Value:   value,
		Time:    n.At,
		Headers: []skafka.Header{{Key: "kind", Value: []byte(n.Kind)}},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", n.Kind, err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }
