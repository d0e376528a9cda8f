package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lineage-io/catalog/internal/catalog"
	"github.com/lineage-io/catalog/internal/config"
)

// seedStore is the part of the catalog store that startup seeding writes through.
type seedStore interface {
	UpsertNamespace(ctx context.Context, name string, meta catalog.NamespaceMeta) (*catalog.Namespace, error)
	UpsertSource(ctx context.Context, name string, meta catalog.SourceMeta) (*catalog.Source, error)
	UpsertTag(ctx context.Context, name string, meta catalog.TagMeta) (*catalog.Tag, error)
}

// seedCatalog upserts the reference data declared in the catalog file. Re-running it against
// an already seeded catalog only refreshes descriptions.
func seedCatalog(ctx context.Context, store seedStore, file *config.CatalogFile, logger *slog.Logger) error {
	for _, tag := range file.Tags {
		if _, err := store.UpsertTag(ctx, tag.Name, catalog.TagMeta{Description: tag.Description}); err != nil {
			return fmt.Errorf("failed to seed tag %q: %w", tag.Name, err)
		}
	}

	for _, src := range file.Sources {
		meta := catalog.SourceMeta{Type: src.Type, ConnectionURL: src.ConnectionURL, Description: src.Description}
		if _, err := store.UpsertSource(ctx, src.Name, meta); err != nil {
			return fmt.Errorf("failed to seed source %q: %w", src.Name, err)
		}
	}

	for _, ns := range file.Namespaces {
		meta := catalog.NamespaceMeta{OwnerName: ns.Owner, Description: ns.Description}
		if _, err := store.UpsertNamespace(ctx, ns.Name, meta); err != nil {
			return fmt.Errorf("failed to seed namespace %q: %w", ns.Name, err)
		}
	}

	if seeded := len(file.Tags) + len(file.Sources) + len(file.Namespaces); seeded > 0 {
		logger.Info("Catalog seeded",
			slog.Int("tags", len(file.Tags)),
			slog.Int("sources", len(file.Sources)),
			slog.Int("namespaces", len(file.Namespaces)),
		)
	}

	return nil
}
