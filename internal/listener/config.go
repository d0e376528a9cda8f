package listener

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lineage-io/catalog/internal/config"
)

// Listener kinds accepted in CATALOG_LISTENERS.
const (
	KindLog   = "log"
	KindKafka = "kafka"
	KindRedis = "redis"
)

const (
	defaultListeners    = KindLog
	defaultKafkaTopic   = "catalog.notifications"
	defaultRedisChannel = "catalog:notifications"
)

var (
	// ErrUnknownListener is returned for a listener kind that has no implementation.
	ErrUnknownListener = errors.New("unknown listener")

	// ErrKafkaBrokersEmpty is returned when the kafka listener is enabled without brokers.
	ErrKafkaBrokersEmpty = errors.New("kafka listener requires KAFKA_BROKERS")

	// ErrRedisURLEmpty is returned when the redis listener is enabled without a url.
	ErrRedisURLEmpty = errors.New("redis listener requires REDIS_URL")
)

// Config selects and configures the listeners injected into the run lifecycle.
type Config struct {
	Kinds        []string
	KafkaBrokers []string
	KafkaTopic   string
	RedisURL     string
	RedisChannel string
}

// LoadConfig loads listener configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Kinds:        config.GetEnvList("CATALOG_LISTENERS", defaultListeners),
		KafkaBrokers: config.GetEnvList("KAFKA_BROKERS", ""),
		KafkaTopic:   config.GetEnvStr("CATALOG_KAFKA_NOTIFY_TOPIC", defaultKafkaTopic),
		RedisURL:     config.GetEnvStr("REDIS_URL", ""),
		RedisChannel: config.GetEnvStr("CATALOG_REDIS_CHANNEL", defaultRedisChannel),
	}
}

// Validate checks that every enabled listener is known and fully configured.
func (c *Config) Validate() error {
	for _, kind := range c.Kinds {
		switch strings.ToLower(kind) {
		case KindLog:
		case KindKafka:
			if len(c.KafkaBrokers) == 0 {
				return ErrKafkaBrokersEmpty
			}
		case KindRedis:
			if c.RedisURL == "" {
				return ErrRedisURLEmpty
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownListener, kind)
		}
	}

	return nil
}
