package listener

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lineage-io/catalog/internal/catalog"
)

// Set is the configured listener list together with the resources it owns.
type Set struct {
	listeners []catalog.Listener
	closers   []io.Closer
}

// Build creates the listeners named in cfg, in order. Duplicate kinds are created once.
func Build(cfg *Config, logger *slog.Logger) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	set := &Set{}
	seen := map[string]bool{}

	for _, kind := range cfg.Kinds {
		kind = strings.ToLower(kind)
		if seen[kind] {
			continue
		}

		seen[kind] = true

		switch kind {
		case KindLog:
			set.listeners = append(set.listeners, NewLogListener(logger))
		case KindKafka:
			kafkaListener := NewKafkaListener(cfg.KafkaBrokers, cfg.KafkaTopic)
			set.listeners = append(set.listeners, kafkaListener)
			set.closers = append(set.closers, kafkaListener)
		case KindRedis:
			redisListener, err := NewRedisListener(cfg.RedisURL, cfg.RedisChannel)
			if err != nil {
				_ = set.Close()

				return nil, fmt.Errorf("failed to create redis listener: %w", err)
			}

			set.listeners = append(set.listeners, redisListener)
			set.closers = append(set.closers, redisListener)
		}
	}

	return set, nil
}

// Listeners returns the listeners in configuration order.
func (s *Set) Listeners() []catalog.Listener {
	return s.listeners
}

// Close releases every listener's resources.
func (s *Set) Close() error {
	var errs []error

	for _, closer := range s.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
