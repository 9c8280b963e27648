package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to a topic named after Event.Topic, prefixed by TopicPrefix.
type KafkaPublisher struct {
	w      *kafkaGo.Writer
	prefix string
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topicPrefix string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		w: &kafkaGo.Writer{
			Addr:                   kafkaGo.TCP(brokers...),
			Balancer:               &kafkaGo.Hash{},
			RequiredAcks:           kafkaGo.RequireOne,
			AllowAutoTopicCreation: true,
			WriteTimeout:           5 * time.Second,
		},
		prefix: topicPrefix,
		logger: logger,
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	topic := k.prefix + e.Topic
	if err := k.w.WriteMessages(ctx, kafkaGo.Message{
		Topic: topic,
		Key:   []byte(e.Key()),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	k.logger.Debug("event published", "topic", topic, "order_id", e.OrderID, "event_id", e.ID)
	return nil
}

func (k *KafkaPublisher) Close() error { return k.w.Close() }
