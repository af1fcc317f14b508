package queue

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaQueue publishes to and consumes from one Kafka topic. The message
// type travels as the record key.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaQueue creates a writer for topic and, when groupID is set, a
// consumer-group reader for it.
func NewKafkaQueue(brokers []string, topic, groupID string) *KafkaQueue {
	q := &KafkaQueue{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
	if groupID != "" {
		q.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		})
	}
	return q
}

// Publish writes a message synchronously.
func (q *KafkaQueue) Publish(ctx context.Context, msg Message) error {
	return q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Type),
		Value: msg.Body,
		Time:  time.Now().UTC(),
	})
}

// Consume streams messages from the consumer group. Offsets are committed
// as messages are read.
func (q *KafkaQueue) Consume(ctx context.Context) (<-chan Message, error) {
	if q.reader == nil {
		return nil, errors.New("kafka queue: consumer group id required")
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			m, err := q.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("warning: kafka read failed: %v", err)
				time.Sleep(time.Second)
				continue
			}
			select {
			case out <- Message{Type: string(m.Key), Body: m.Value}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close flushes the writer and leaves the consumer group.
func (q *KafkaQueue) Close() error {
	err := q.writer.Close()
	if q.reader != nil {
		if rerr := q.reader.Close(); err == nil {
			err = rerr
		}
	}
	return err
}
