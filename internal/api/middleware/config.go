package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/lineage-io/catalog/internal/config"
)

var (
	// ErrInvalidRPS indicates a non-positive requests-per-second limit.
	ErrInvalidRPS = errors.New("rate limit must be positive")

	// ErrInvalidMaxClients indicates a non-positive client cap.
	ErrInvalidMaxClients = errors.New("max clients must be positive")
)

// Config holds rate limiter configuration.
//
// GlobalRPS bounds all requests together and ClientRPS bounds each client address. A zero
// burst is computed as 2 × rate.
type Config struct {
	GlobalRPS   int
	ClientRPS   int
	GlobalBurst int
	ClientBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig loads rate limiter configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:   config.GetEnvInt("CATALOG_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS:   config.GetEnvInt("CATALOG_CLIENT_RPS", defaultClientRPS),
		GlobalBurst: config.GetEnvInt("CATALOG_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("CATALOG_CLIENT_BURST", 0),
		CleanupInterval: config.GetEnvDuration(
			"CATALOG_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("CATALOG_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("CATALOG_RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}

// Validate checks the rate limits.
func (c *Config) Validate() error {
	if c.GlobalRPS <= 0 {
		return fmt.Errorf("%w: global %d", ErrInvalidRPS, c.GlobalRPS)
	}

	if c.ClientRPS <= 0 {
		return fmt.Errorf("%w: client %d", ErrInvalidRPS, c.ClientRPS)
	}

	if c.MaxClients <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxClients, c.MaxClients)
	}

	return nil
}
