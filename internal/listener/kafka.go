package listener

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/lineage-io/catalog/internal/catalog"
)

// messageWriter is the subset of *kafka.Writer the listener uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaListener publishes notifications to a Kafka topic keyed by run id, so every
// notification for one run lands on the same partition in order.
type KafkaListener struct {
	writer messageWriter
	topic  string
}

var _ catalog.Listener = (*KafkaListener)(nil)

// NewKafkaListener returns a listener writing to topic on brokers.
func NewKafkaListener(brokers []string, topic string) *KafkaListener {
	return &KafkaListener{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

// Name implements catalog.Listener.
func (k *KafkaListener) Name() string {
	return "kafka"
}

// OnInputUpdate implements catalog.Listener.
func (k *KafkaListener) OnInputUpdate(ctx context.Context, update catalog.InputUpdate) error {
	return k.publish(ctx, inputNotification(update))
}

// OnOutputUpdate implements catalog.Listener.
func (k *KafkaListener) OnOutputUpdate(ctx context.Context, update catalog.OutputUpdate) error {
	return k.publish(ctx, outputNotification(update))
}

// OnTransition implements catalog.Listener.
func (k *KafkaListener) OnTransition(ctx context.Context, transition catalog.RunTransition) error {
	return k.publish(ctx, transitionNotification(transition))
}

// Close flushes and closes the writer.
func (k *KafkaListener) Close() error {
	return k.writer.Close()
}

func (k *KafkaListener) publish(ctx context.Context, notification Notification) error {
	payload, err := encode(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(notification.RunID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(notification.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", k.topic, err)
	}

	return nil
}
