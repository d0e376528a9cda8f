// Package main runs the lineage catalog service: the HTTP API, the lineage ingestion workers and,
// when configured, the Kafka lineage consumer.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/lineage-io/catalog/internal/aliasing"
	"github.com/lineage-io/catalog/internal/api"
	"github.com/lineage-io/catalog/internal/api/middleware"
	"github.com/lineage-io/catalog/internal/config"
	"github.com/lineage-io/catalog/internal/ingestion"
	"github.com/lineage-io/catalog/internal/lifecycle"
	"github.com/lineage-io/catalog/internal/listener"
	"github.com/lineage-io/catalog/internal/storage"
)

// Set at build time with -ldflags.
var Version = "1.0.0-dev"

const name = "catalog"

var errEmptyKey = errors.New("no API key on stdin")

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		hashKey     = flag.Bool("hash-api-key", false, "read an API key from stdin and print its bcrypt hash")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, Version)
		os.Exit(0)
	}

	if *hashKey {
		if err := printAPIKeyHash(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash API key: %v\n", err)
			os.Exit(1)
		}

		return
	}

	if err := run(); err != nil {
		slog.Error("Catalog service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// printAPIKeyHash hashes the first line of in, for use as CATALOG_API_KEY_HASH.
func printAPIKeyHash(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	key := strings.TrimSpace(line)
	if key == "" {
		return errEmptyKey
	}

	hash, err := middleware.HashAPIKey(key)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, hash)

	return err
}

//nolint:funlen // startup wiring reads top to bottom
func run() error {
	serverConfig := api.LoadServerConfig()

	logger := config.NewLogger(serverConfig.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Starting catalog service",
		slog.String("service", name),
		slog.String("version", Version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storageConfig := storage.LoadConfig()

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	defer func() {
		_ = conn.Close()
	}()

	store, err := storage.NewCatalogStore(conn, storage.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create catalog store: %w", err)
	}

	logger.Info("Catalog store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	listenerConfig := listener.LoadConfig()

	listeners, err := listener.Build(listenerConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to build run listeners: %w", err)
	}

	defer func() {
		if err := listeners.Close(); err != nil {
			logger.Error("Failed to close run listeners", slog.String("error", err.Error()))
		}
	}()

	runs := lifecycle.New(store, listeners.Listeners(), lifecycle.WithLogger(logger))

	logger.Info("Run lifecycle initialized", slog.Any("listeners", runs.Listeners()))

	catalogFile, err := config.LoadCatalogFileFromEnv()
	if err != nil {
		return err
	}

	if err := seedCatalog(ctx, store, catalogFile, logger); err != nil {
		return err
	}

	ingestConfig := ingestion.LoadConfig()
	if err := ingestConfig.Validate(); err != nil {
		return fmt.Errorf("invalid ingestion configuration: %w", err)
	}

	resolver := aliasing.NewResolver(catalogFile)
	if resolver.Len() > 0 {
		logger.Info("Dataset aliasing enabled", slog.Int("rules", resolver.Len()))
	}

	ingester := ingestion.NewIngester(store, runs,
		ingestion.WithResolver(resolver),
		ingestion.WithIngesterLogger(logger),
	)

	submitter := ingestion.NewSubmitter(ingester, ingestConfig.Workers, ingestConfig.QueueSize,
		ingestion.WithSubmitterLogger(logger))

	// Workers outlive the signal context so Close can drain the queue.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	submitter.Start(workCtx)

	rateLimiter, err := newRateLimiter(logger)
	if err != nil {
		return err
	}

	server, err := api.NewServer(serverConfig, api.Dependencies{
		Store:       store,
		Runs:        runs,
		Lineage:     submitter,
		RateLimiter: rateLimiter,
	}, api.WithVersion(Version), api.WithServerLogger(logger))
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Run(groupCtx)
	})

	if ingestConfig.KafkaEnabled() {
		source := ingestion.NewKafkaSource(ingestConfig.KafkaBrokers, ingestConfig.KafkaTopic,
			ingestConfig.KafkaGroup, submitter, ingestion.WithKafkaSourceLogger(logger))

		group.Go(func() error {
			defer func() {
				_ = source.Close()
			}()

			return source.Run(groupCtx)
		})
	}

	runErr := group.Wait()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancelDrain()

	if err := submitter.Close(drainCtx); err != nil {
		logger.Warn("Ingestion queue closed before draining",
			slog.Int("pending", submitter.Pending()),
			slog.String("error", err.Error()),
		)
	}

	logger.Info("Catalog service stopped")

	return runErr
}

// newRateLimiter builds the per-client limiter from CATALOG_* rate limit settings.
func newRateLimiter(logger *slog.Logger) (middleware.RateLimiter, error) {
	cfg := middleware.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit configuration: %w", err)
	}

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", cfg.GlobalRPS),
		slog.Int("global_burst", cfg.GlobalBurst),
		slog.Int("client_rps", cfg.ClientRPS),
		slog.Int("client_burst", cfg.ClientBurst),
		slog.Int("max_clients", cfg.MaxClients),
	)

	return middleware.NewInMemoryRateLimiter(cfg), nil
}
