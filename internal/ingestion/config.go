package ingestion

import (
	"errors"

	"github.com/lineage-io/catalog/internal/config"
)

const (
	defaultWorkers    = 4
	defaultQueueSize  = 1024
	defaultKafkaGroup = "catalog-ingest"
)

var (
	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("CATALOG_INGEST_WORKERS must be greater than 0")

	// ErrInvalidQueueSize is returned when the queue cannot give every worker a slot.
	ErrInvalidQueueSize = errors.New("CATALOG_INGEST_QUEUE_SIZE must be at least CATALOG_INGEST_WORKERS")

	// ErrKafkaBrokersMissing is returned when a Kafka topic is configured without brokers.
	ErrKafkaBrokersMissing = errors.New("CATALOG_INGEST_KAFKA_TOPIC requires KAFKA_BROKERS")
)

// Config holds ingestion settings. An empty KafkaTopic disables the Kafka consumer.
type Config struct {
	Workers      int
	QueueSize    int
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
}

// LoadConfig loads ingestion configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Workers:      config.GetEnvInt("CATALOG_INGEST_WORKERS", defaultWorkers),
		QueueSize:    config.GetEnvInt("CATALOG_INGEST_QUEUE_SIZE", defaultQueueSize),
		KafkaBrokers: config.GetEnvList("KAFKA_BROKERS", ""),
		KafkaTopic:   config.GetEnvStr("CATALOG_INGEST_KAFKA_TOPIC", ""),
		KafkaGroup:   config.GetEnvStr("CATALOG_INGEST_KAFKA_GROUP", defaultKafkaGroup),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}

	if c.QueueSize < c.Workers {
		return ErrInvalidQueueSize
	}

	if c.KafkaTopic != "" && len(c.KafkaBrokers) == 0 {
		return ErrKafkaBrokersMissing
	}

	return nil
}

// KafkaEnabled reports whether the Kafka consumer should run.
func (c *Config) KafkaEnabled() bool {
	return c.KafkaTopic != ""
}
