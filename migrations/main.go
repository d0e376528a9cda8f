// Package main is the schema migration CLI for the lineage catalog.
//
// Migrations are embedded at build time so the binary needs nothing but DATABASE_URL.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lineage-io/catalog/internal/config"
)

// Set at build time with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const name = "catalog-migrator"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "show help information")
		showVersion = flag.Bool("version", false, "show version information")
		force       = flag.Bool("force", false, "confirm destructive commands (drop)")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s (commit %s, built %s)\n", name, Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	logger := config.DefaultLogger()

	cfg, err := LoadConfig()
	if err != nil {
		logger.Error("Failed to load migrator configuration", "error", err)
		os.Exit(1)
	}

	runner, err := NewMigrationRunner(cfg, logger)
	if err != nil {
		logger.Error("Failed to create migration runner", "error", err)
		os.Exit(1)
	}

	err = executeCommand(flag.Arg(0), runner, *force)

	_ = runner.Close()

	if err != nil {
		logger.Error("Migration command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func executeCommand(command string, runner MigrationRunner, force bool) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		if !force {
			return ErrDropNotConfirmed
		}

		return runner.Drop()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func printUsage() {
	fmt.Printf(`%s v%s - schema migrations for the lineage catalog

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up       apply all pending migrations
    down     roll back the last migration
    status   show the applied version and pending count
    version  show the applied version
    drop     drop every catalog table (requires -force)

ENVIRONMENT:
    DATABASE_URL     PostgreSQL connection string (required)
    MIGRATION_TABLE  migration bookkeeping table (default: schema_migrations)
    LOG_LEVEL        debug, info, warn or error (default: info)
`, name, Version, name)
}
