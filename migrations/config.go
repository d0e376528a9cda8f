package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lineage-io/catalog/internal/config"
)

var (
	// ErrDatabaseURLEmpty is returned when DATABASE_URL is unset.
	ErrDatabaseURLEmpty = errors.New("DATABASE_URL cannot be empty")

	// ErrMigrationTableEmpty is returned when MIGRATION_TABLE resolves to an empty name.
	ErrMigrationTableEmpty = errors.New("MIGRATION_TABLE cannot be empty")

	// ErrUnknownCommand is returned for commands the migrator does not implement.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrDropNotConfirmed is returned when drop is requested without -force.
	ErrDropNotConfirmed = errors.New("drop requires -force")
)

// Config holds the migrator settings.
type Config struct {
	DatabaseURL    string
	MigrationTable string
}

// LoadConfig reads the migrator settings from the environment and validates them.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if strings.TrimSpace(c.MigrationTable) == "" {
		return ErrMigrationTableEmpty
	}

	return nil
}

// String renders the config with the database password redacted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}", redactURL(c.DatabaseURL), c.MigrationTable)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	if _, hasPassword := u.User.Password(); !hasPassword {
		return raw
	}

	return u.Redacted()
}
