package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // postgres driver
)

const pingTimeout = 10 * time.Second

type (
	// MigrationRunner is the command surface of the migrator.
	MigrationRunner interface {
		Up() error
		Down() error
		Status() error
		Version() error
		Drop() error
		Close() error
	}

	// Runner implements MigrationRunner with golang-migrate over the embedded migrations.
	Runner struct {
		migrate    *migrate.Migrate
		db         *sql.DB
		migrations *EmbeddedMigrations
		logger     *slog.Logger
	}

	// migrateLogger forwards golang-migrate's printf logging to slog.
	migrateLogger struct {
		logger *slog.Logger
	}
)

var _ migrate.Logger = (*migrateLogger)(nil)

// NewMigrationRunner validates the embedded migrations, connects and prepares golang-migrate.
func NewMigrationRunner(cfg *Config, logger *slog.Logger) (*Runner, error) {
	return newRunner(cfg, NewEmbeddedMigrations(nil), logger)
}

func newRunner(cfg *Config, migrations *EmbeddedMigrations, logger *slog.Logger) (*Runner, error) {
	logger.Info("Initializing migration runner", slog.String("config", cfg.String()))

	if err := migrations.Validate(); err != nil {
		return nil, fmt.Errorf("migration validation failed: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.MigrationTable})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(migrations.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{migrate: m, db: db, migrations: migrations, logger: logger}, nil
}

// Up applies all pending migrations. Already up to date is not an error.
func (r *Runner) Up() error {
	err := r.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("No new migrations to apply")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	r.logger.Info("All migrations applied")

	return nil
}

// Down rolls back exactly one migration.
func (r *Runner) Down() error {
	err := r.migrate.Steps(-1)
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("No migrations to roll back")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}

	r.logger.Info("Last migration rolled back")

	return nil
}

// Status logs the applied version, dirty flag and how many embedded migrations are pending.
func (r *Runner) Status() error {
	current, dirty, err := r.currentVersion()
	if err != nil {
		return err
	}

	latest := r.migrations.LatestSequence()

	r.logger.Info("Migration status",
		slog.Int("database_version", current),
		slog.Bool("dirty", dirty),
		slog.Int("latest_available", latest),
		slog.Int("pending", max(latest-current, 0)),
	)

	if current > latest {
		r.logger.Warn("Database schema is newer than this migrator supports",
			slog.Int("database_version", current),
			slog.Int("latest_available", latest),
		)
	}

	return nil
}

// Version logs the applied version.
func (r *Runner) Version() error {
	current, dirty, err := r.currentVersion()
	if err != nil {
		return err
	}

	r.logger.Info("Current migration version", slog.Int("version", current), slog.Bool("dirty", dirty))

	return nil
}

// Drop removes every table in the database.
func (r *Runner) Drop() error {
	r.logger.Warn("Dropping all tables")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	return nil
}

// Close releases the migrate source and database handles.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		errs = append(errs, sourceErr, dbErr)
	}

	if r.db != nil {
		errs = append(errs, r.db.Close())
	}

	return errors.Join(errs...)
}

func (r *Runner) currentVersion() (int, bool, error) {
	ver, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}

	return int(ver), dirty, nil // #nosec G115 -- sequences are three digits
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
