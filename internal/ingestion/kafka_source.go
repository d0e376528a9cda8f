package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lineage-io/catalog/internal/catalog"
	"github.com/lineage-io/catalog/internal/config"
)

type (
	// messageReader is the subset of *kafka.Reader the source uses.
	messageReader interface {
		FetchMessage(ctx context.Context) (kafka.Message, error)
		CommitMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// queue accepts events for ingestion. *Submitter implements it.
	queue interface {
		SubmitWait(ctx context.Context, event *RunEvent) error
	}

	// KafkaSource consumes OpenLineage events from a Kafka topic and queues them for
	// ingestion. Offsets are committed once an event is queued; malformed messages are
	// logged and committed so they do not block the partition.
	KafkaSource struct {
		reader messageReader
		queue  queue
		topic  string
		logger *slog.Logger
	}

	// KafkaSourceOption configures optional KafkaSource behavior.
	KafkaSourceOption func(*KafkaSource)
)

// WithKafkaSourceLogger sets the source's logger.
func WithKafkaSourceLogger(logger *slog.Logger) KafkaSourceOption {
	return func(k *KafkaSource) {
		k.logger = logger
	}
}

// NewKafkaSource returns a consumer-group reader for topic feeding queue.
func NewKafkaSource(brokers []string, topic, group string, queue queue, opts ...KafkaSourceOption) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     group,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})

	source := &KafkaSource{
		reader: reader,
		queue:  queue,
		topic:  topic,
		logger: config.DefaultLogger(),
	}

	for _, opt := range opts {
		opt(source)
	}

	return source
}

// Run consumes until ctx is done or the queue is closed. It returns nil on shutdown.
func (k *KafkaSource) Run(ctx context.Context) error {
	k.logger.Info("consuming lineage events", slog.String("topic", k.topic))

	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("failed to fetch from %s: %w", k.topic, err)
		}

		if err := k.handle(ctx, msg); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSubmitterClosed) {
				return nil
			}

			return err
		}

		if err := k.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("failed to commit offset %d on %s: %w", msg.Offset, k.topic, err)
		}
	}
}

// Close closes the reader.
func (k *KafkaSource) Close() error {
	return k.reader.Close()
}

func (k *KafkaSource) handle(ctx context.Context, msg kafka.Message) error {
	var event RunEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		k.logger.Warn("skipping malformed lineage event",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)

		return nil
	}

	err := k.queue.SubmitWait(ctx, &event)
	if errors.Is(err, catalog.ErrValidation) {
		k.logger.Warn("skipping invalid lineage event",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return err
}
