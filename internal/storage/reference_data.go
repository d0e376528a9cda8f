package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lineage-io/catalog/internal/canonicalization"
	"github.com/lineage-io/catalog/internal/catalog"
)

const (
	upsertNamespaceQuery = `
		INSERT INTO namespaces (uuid, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name) DO UPDATE SET
			description = COALESCE(EXCLUDED.description, namespaces.description),
			updated_at  = EXCLUDED.updated_at
		RETURNING uuid, COALESCE(current_owner_name, '')`

	ensureNamespaceQuery = `
		INSERT INTO namespaces (uuid, name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING uuid`

	upsertOwnerQuery = `
		INSERT INTO owners (uuid, name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING uuid`

	closeOwnershipQuery = `
		UPDATE namespace_ownerships SET ended_at = $2
		WHERE namespace_uuid = $1 AND ended_at IS NULL`

	openOwnershipQuery = `
		INSERT INTO namespace_ownerships (uuid, namespace_uuid, owner_uuid, started_at)
		VALUES ($1, $2, $3, $4)`

	setNamespaceOwnerQuery = `
		UPDATE namespaces SET current_owner_name = $2, updated_at = $3 WHERE uuid = $1`

	namespaceColumns = `uuid, name, created_at, updated_at, COALESCE(description, ''), COALESCE(current_owner_name, '')`

	selectNamespaceQuery = `SELECT ` + namespaceColumns + ` FROM namespaces WHERE name = $1`

	listNamespacesQuery = `SELECT ` + namespaceColumns + ` FROM namespaces ORDER BY name LIMIT $1 OFFSET $2`

	upsertSourceQuery = `
		INSERT INTO sources (uuid, type, name, connection_url, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (name) DO UPDATE SET
			type           = EXCLUDED.type,
			connection_url = EXCLUDED.connection_url,
			description    = COALESCE(EXCLUDED.description, sources.description),
			updated_at     = EXCLUDED.updated_at
		RETURNING uuid`

	ensureSourceQuery = `
		INSERT INTO sources (uuid, type, name, connection_url, created_at, updated_at)
		VALUES ($1, $2, $3, '', $4, $4)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING uuid`

	sourceColumns = `uuid, type, name, connection_url, COALESCE(description, ''), created_at, updated_at`

	selectSourceQuery = `SELECT ` + sourceColumns + ` FROM sources WHERE name = $1`

	listSourcesQuery = `SELECT ` + sourceColumns + ` FROM sources ORDER BY name LIMIT $1 OFFSET $2`

	upsertTagQuery = `
		INSERT INTO tags (uuid, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name) DO UPDATE SET
			description = COALESCE(EXCLUDED.description, tags.description),
			updated_at  = EXCLUDED.updated_at
		RETURNING uuid`

	ensureTagQuery = `
		INSERT INTO tags (uuid, name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING uuid`

	tagColumns = `uuid, name, COALESCE(description, ''), created_at, updated_at`

	selectTagQuery = `SELECT ` + tagColumns + ` FROM tags WHERE name = $1`

	listTagsQuery = `SELECT ` + tagColumns + ` FROM tags ORDER BY name LIMIT $1 OFFSET $2`
)

// UpsertNamespace implements catalog.NamespaceStore. A changed owner closes the open
// ownership row and opens a new one before the namespace's owner pointer moves.
func (s *CatalogStore) UpsertNamespace(
	ctx context.Context,
	name string,
	meta catalog.NamespaceMeta,
) (*catalog.Namespace, error) {
	if err := catalog.ValidateName("namespace", name); err != nil {
		return nil, err
	}

	if err := catalog.ValidateStruct(meta); err != nil {
		return nil, err
	}

	var namespace *catalog.Namespace

	err := s.inTx(ctx, "upsert namespace", func(tx *sql.Tx) error {
		now := s.timestamp()

		var (
			namespaceID  uuid.UUID
			currentOwner string
		)

		err := tx.QueryRowContext(ctx, upsertNamespaceQuery,
			uuid.New(), name, nullIfEmpty(meta.Description), now,
		).Scan(&namespaceID, &currentOwner)
		if err != nil {
			return fmt.Errorf("failed to upsert namespace %q: %w", name, err)
		}

		if meta.OwnerName != "" && meta.OwnerName != currentOwner {
			if err := s.changeOwner(ctx, tx, namespaceID, meta.OwnerName, now); err != nil {
				return err
			}
		}

		namespace, err = getNamespace(ctx, tx, name)

		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("namespace upserted", slog.String("namespace", name))

	return namespace, nil
}

func (s *CatalogStore) changeOwner(
	ctx context.Context,
	tx *sql.Tx,
	namespaceID uuid.UUID,
	owner string,
	now time.Time,
) error {
	var ownerID uuid.UUID
	if err := tx.QueryRowContext(ctx, upsertOwnerQuery, uuid.New(), owner, now).Scan(&ownerID); err != nil {
		return fmt.Errorf("failed to upsert owner %q: %w", owner, err)
	}

	if _, err := tx.ExecContext(ctx, closeOwnershipQuery, namespaceID, now); err != nil {
		return fmt.Errorf("failed to close ownership: %w", err)
	}

	if _, err := tx.ExecContext(ctx, openOwnershipQuery, uuid.New(), namespaceID, ownerID, now); err != nil {
		return fmt.Errorf("failed to open ownership: %w", err)
	}

	if _, err := tx.ExecContext(ctx, setNamespaceOwnerQuery, namespaceID, owner, now); err != nil {
		return fmt.Errorf("failed to move owner pointer: %w", err)
	}

	return nil
}

// GetNamespace implements catalog.NamespaceStore.
func (s *CatalogStore) GetNamespace(ctx context.Context, name string) (*catalog.Namespace, error) {
	namespace, err := getNamespace(ctx, s.conn, name)
	if err != nil {
		return nil, classify("get namespace", err)
	}

	return namespace, nil
}

// ListNamespaces implements catalog.NamespaceStore.
func (s *CatalogStore) ListNamespaces(ctx context.Context, page catalog.Page) ([]catalog.Namespace, error) {
	page, err := catalog.ValidatePage(page)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, listNamespacesQuery, page.Limit, page.Offset)
	if err != nil {
		return nil, classify("list namespaces", err)
	}
	defer rows.Close()

	namespaces := make([]catalog.Namespace, 0)

	for rows.Next() {
		namespace, err := scanNamespace(rows)
		if err != nil {
			return nil, classify("list namespaces", err)
		}

		namespaces = append(namespaces, *namespace)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("list namespaces", err)
	}

	return namespaces, nil
}

// UpsertSource implements catalog.SourceStore.
func (s *CatalogStore) UpsertSource(ctx context.Context, name string, meta catalog.SourceMeta) (*catalog.Source, error) {
	if err := catalog.ValidateName("source", name); err != nil {
		return nil, err
	}

	if err := catalog.ValidateStruct(meta); err != nil {
		return nil, err
	}

	var source *catalog.Source

	err := s.inTx(ctx, "upsert source", func(tx *sql.Tx) error {
		var sourceID uuid.UUID

		err := tx.QueryRowContext(ctx, upsertSourceQuery,
			uuid.New(), meta.Type, name, meta.ConnectionURL, nullIfEmpty(meta.Description), s.timestamp(),
		).Scan(&sourceID)
		if err != nil {
			return fmt.Errorf("failed to upsert source %q: %w", name, err)
		}

		source, err = getSource(ctx, tx, name)

		return err
	})
	if err != nil {
		return nil, err
	}

	return source, nil
}

// GetSource implements catalog.SourceStore.
func (s *CatalogStore) GetSource(ctx context.Context, name string) (*catalog.Source, error) {
	source, err := getSource(ctx, s.conn, name)
	if err != nil {
		return nil, classify("get source", err)
	}

	return source, nil
}

// ListSources implements catalog.SourceStore.
func (s *CatalogStore) ListSources(ctx context.Context, page catalog.Page) ([]catalog.Source, error) {
	page, err := catalog.ValidatePage(page)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, listSourcesQuery, page.Limit, page.Offset)
	if err != nil {
		return nil, classify("list sources", err)
	}
	defer rows.Close()

	sources := make([]catalog.Source, 0)

	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, classify("list sources", err)
		}

		sources = append(sources, *source)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("list sources", err)
	}

	return sources, nil
}

// UpsertTag implements catalog.TagStore.
func (s *CatalogStore) UpsertTag(ctx context.Context, name string, meta catalog.TagMeta) (*catalog.Tag, error) {
	if err := catalog.ValidateName("tag", name); err != nil {
		return nil, err
	}

	var tag *catalog.Tag

	err := s.inTx(ctx, "upsert tag", func(tx *sql.Tx) error {
		var tagID uuid.UUID

		err := tx.QueryRowContext(ctx, upsertTagQuery,
			uuid.New(), name, nullIfEmpty(meta.Description), s.timestamp(),
		).Scan(&tagID)
		if err != nil {
			return fmt.Errorf("failed to upsert tag %q: %w", name, err)
		}

		tag, err = scanTag(tx.QueryRowContext(ctx, selectTagQuery, name))

		return err
	})
	if err != nil {
		return nil, err
	}

	return tag, nil
}

// ListTags implements catalog.TagStore.
func (s *CatalogStore) ListTags(ctx context.Context, page catalog.Page) ([]catalog.Tag, error) {
	page, err := catalog.ValidatePage(page)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, listTagsQuery, page.Limit, page.Offset)
	if err != nil {
		return nil, classify("list tags", err)
	}
	defer rows.Close()

	tags := make([]catalog.Tag, 0)

	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, classify("list tags", err)
		}

		tags = append(tags, *tag)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("list tags", err)
	}

	return tags, nil
}

// ensureNamespace returns the namespace id, creating an ownerless namespace if absent.
func ensureNamespace(ctx context.Context, tx *sql.Tx, name string, now time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	if err := tx.QueryRowContext(ctx, ensureNamespaceQuery, uuid.New(), name, now).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve namespace %q: %w", name, err)
	}

	return id, nil
}

// ensureSource returns the source id, creating a placeholder source of unknown type if absent.
// An existing source keeps its type and connection url.
func ensureSource(ctx context.Context, tx *sql.Tx, name string, now time.Time) (uuid.UUID, error) {
	var id uuid.UUID

	err := tx.QueryRowContext(ctx, ensureSourceQuery,
		uuid.New(), canonicalization.UnknownSourceType, name, now,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve source %q: %w", name, err)
	}

	return id, nil
}

func ensureTag(ctx context.Context, tx *sql.Tx, name string, now time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	if err := tx.QueryRowContext(ctx, ensureTagQuery, uuid.New(), name, now).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve tag %q: %w", name, err)
	}

	return id, nil
}

func getNamespace(ctx context.Context, q querier, name string) (*catalog.Namespace, error) {
	namespace, err := scanNamespace(q.QueryRowContext(ctx, selectNamespaceQuery, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: namespace %q", catalog.ErrNotFound, name)
	}

	return namespace, err
}

func getSource(ctx context.Context, q querier, name string) (*catalog.Source, error) {
	source, err := scanSource(q.QueryRowContext(ctx, selectSourceQuery, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: source %q", catalog.ErrNotFound, name)
	}

	return source, err
}

func getTagID(ctx context.Context, q querier, name string) (uuid.UUID, error) {
	tag, err := scanTag(q.QueryRowContext(ctx, selectTagQuery, name))
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: tag %q", catalog.ErrNotFound, name)
	}

	if err != nil {
		return uuid.Nil, err
	}

	return tag.ID, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanNamespace(row scanner) (*catalog.Namespace, error) {
	var namespace catalog.Namespace

	err := row.Scan(
		&namespace.ID,
		&namespace.Name,
		&namespace.CreatedAt,
		&namespace.UpdatedAt,
		&namespace.Description,
		&namespace.OwnerName,
	)
	if err != nil {
		return nil, err
	}

	return &namespace, nil
}

func scanSource(row scanner) (*catalog.Source, error) {
	var source catalog.Source

	err := row.Scan(
		&source.ID,
		&source.Type,
		&source.Name,
		&source.ConnectionURL,
		&source.Description,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &source, nil
}

func scanTag(row scanner) (*catalog.Tag, error) {
	var tag catalog.Tag

	if err := row.Scan(&tag.ID, &tag.Name, &tag.Description, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
		return nil, err
	}

	return &tag, nil
}
