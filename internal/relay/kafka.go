package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/skysense/internal/config"
	"github.com/rickgao/skysense/internal/model"
)

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes readings to a topic keyed by sensor id, so each sensor's
// readings stay ordered within one partition.
type Kafka struct {
	writer kafkaMessageWriter
}

// NewKafka creates a Kafka sink. Brokers are dialled lazily on first write.
func NewKafka(cfg config.KafkaConfig) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

// Name implements Sink.
func (k *Kafka) Name() string { return "kafka" }

// Send implements Sink.
func (k *Kafka) Send(ctx context.Context, r model.SensorReading) error {
	msg, err := kafkaMessage(r)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

func kafkaMessage(r model.SensorReading) (kafka.Message, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal reading: %w", err)
	}
	source := r.Source
	if source == "" {
		source = model.SourceLive
	}
	return kafka.Message{
		Key:   []byte(r.SensorID),
		Value: value,
		Time:  r.Timestamp,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(source)},
		},
	}, nil
}
