package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lineage-io/catalog/internal/canonicalization"
	"github.com/lineage-io/catalog/internal/catalog"
)

const (
	upsertDatasetQuery = `
		INSERT INTO datasets (uuid, namespace_uuid, source_uuid, name, physical_name, type, description,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (namespace_uuid, name) DO UPDATE SET
			source_uuid   = EXCLUDED.source_uuid,
			physical_name = EXCLUDED.physical_name,
			type          = EXCLUDED.type,
			description   = COALESCE(EXCLUDED.description, datasets.description),
			updated_at    = EXCLUDED.updated_at
		RETURNING uuid`

	tagDatasetQuery = `
		INSERT INTO datasets_tag_mapping (dataset_uuid, tag_uuid, tagged_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`

	// The no-op update makes RETURNING yield the surviving row on conflict; a returned id that
	// differs from the proposed one means the version already existed.
	upsertDatasetVersionQuery = `
		INSERT INTO dataset_versions (uuid, dataset_uuid, version, run_uuid, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (version) DO UPDATE SET version = EXCLUDED.version
		RETURNING uuid, dataset_uuid`

	upsertDatasetFieldQuery = `
		INSERT INTO dataset_fields (uuid, dataset_uuid, name, type, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (dataset_uuid, name, type) DO UPDATE SET
			description = COALESCE(EXCLUDED.description, dataset_fields.description),
			updated_at  = EXCLUDED.updated_at
		RETURNING uuid`

	tagDatasetFieldQuery = `
		INSERT INTO dataset_fields_tag_mapping (dataset_field_uuid, tag_uuid, tagged_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`

	mapVersionFieldQuery = `
		INSERT INTO dataset_versions_field_mapping (dataset_version_uuid, dataset_field_uuid)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	setDatasetCurrentVersionQuery = `
		UPDATE datasets SET current_version_uuid = $2, last_modified_at = $3, updated_at = $3
		WHERE uuid = $1`

	selectDatasetQuery = `
		SELECT d.uuid, n.name, d.name, d.physical_name, d.type, s.name, COALESCE(d.description, ''),
			d.created_at, d.updated_at, d.last_modified_at, d.current_version_uuid
		FROM datasets d
		JOIN namespaces n ON n.uuid = d.namespace_uuid
		JOIN sources s ON s.uuid = d.source_uuid
		WHERE n.name = $1 AND d.name = $2`

	selectDatasetIDQuery = `
		SELECT d.uuid FROM datasets d
		JOIN namespaces n ON n.uuid = d.namespace_uuid
		WHERE n.name = $1 AND d.name = $2`

	listDatasetNamesQuery = `
		SELECT d.name FROM datasets d
		JOIN namespaces n ON n.uuid = d.namespace_uuid
		WHERE n.name = $1
		ORDER BY d.name
		LIMIT $2 OFFSET $3`

	selectDatasetTagsQuery = `
		SELECT t.name FROM datasets_tag_mapping m
		JOIN tags t ON t.uuid = m.tag_uuid
		WHERE m.dataset_uuid = $1
		ORDER BY t.name`

	datasetVersionColumns = `uuid, dataset_uuid, version, created_at, run_uuid`

	selectDatasetVersionByIDQuery = `SELECT ` + datasetVersionColumns + ` FROM dataset_versions WHERE uuid = $1`

	selectDatasetVersionByKeyQuery = `SELECT ` + datasetVersionColumns + ` FROM dataset_versions WHERE version = $1`

	selectVersionFieldsQuery = `
		SELECT f.uuid, f.name, f.type, COALESCE(f.description, ''),
			COALESCE(array_agg(t.name ORDER BY t.name) FILTER (WHERE t.name IS NOT NULL), '{}')
		FROM dataset_versions_field_mapping vm
		JOIN dataset_fields f ON f.uuid = vm.dataset_field_uuid
		LEFT JOIN dataset_fields_tag_mapping ftm ON ftm.dataset_field_uuid = f.uuid
		LEFT JOIN tags t ON t.uuid = ftm.tag_uuid
		WHERE vm.dataset_version_uuid = $1
		GROUP BY f.uuid, f.name, f.type, f.description
		ORDER BY f.name, f.type`

	selectCurrentFieldIDsQuery = `
		SELECT f.uuid FROM dataset_versions_field_mapping vm
		JOIN dataset_fields f ON f.uuid = vm.dataset_field_uuid
		WHERE vm.dataset_version_uuid = $1 AND f.name = $2`
)

// UpsertDataset implements catalog.DatasetStore.
//
// The version key is meta.Version when given, otherwise derived from the dataset name, source,
// physical name, field set and producing run. A reused version keeps its field mapping;
// a new version maps each submitted field, reusing rows that match on (name, type).
func (s *CatalogStore) UpsertDataset(
	ctx context.Context,
	namespace, name string,
	meta catalog.DatasetMeta,
) (*catalog.Dataset, error) {
	if err := catalog.ValidateName("namespace", namespace); err != nil {
		return nil, err
	}

	if err := catalog.ValidateName("dataset", name); err != nil {
		return nil, err
	}

	if err := catalog.ValidateStruct(meta); err != nil {
		return nil, err
	}

	versionKey := datasetVersionKey(namespace, name, meta)

	var dataset *catalog.Dataset

	err := s.inTx(ctx, "upsert dataset", func(tx *sql.Tx) error {
		now := s.timestamp()

		namespaceID, err := ensureNamespace(ctx, tx, namespace, now)
		if err != nil {
			return err
		}

		sourceID, err := ensureSource(ctx, tx, meta.SourceName, now)
		if err != nil {
			return err
		}

		var datasetID uuid.UUID

		err = tx.QueryRowContext(ctx, upsertDatasetQuery,
			uuid.New(), namespaceID, sourceID, name, meta.PhysicalName,
			string(meta.TypeOrDefault()), nullIfEmpty(meta.Description), now,
		).Scan(&datasetID)
		if err != nil {
			return fmt.Errorf("failed to upsert dataset %s/%s: %w", namespace, name, err)
		}

		for _, tag := range meta.Tags {
			if err := tagRow(ctx, tx, tagDatasetQuery, datasetID, tag, now); err != nil {
				return err
			}
		}

		versionID, created, err := upsertDatasetVersion(ctx, tx, datasetID, versionKey, meta.RunID, now)
		if err != nil {
			return err
		}

		if created {
			if err := mapVersionFields(ctx, tx, datasetID, versionID, meta.Fields, now); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, setDatasetCurrentVersionQuery, datasetID, versionID, now); err != nil {
			return fmt.Errorf("failed to move current version pointer: %w", err)
		}

		dataset, err = getDataset(ctx, tx, namespace, name)

		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("dataset upserted",
		slog.String("namespace", namespace),
		slog.String("dataset", name),
		slog.String("dataset_version", versionKey.String()),
	)

	return dataset, nil
}

// GetDataset implements catalog.DatasetStore.
func (s *CatalogStore) GetDataset(ctx context.Context, namespace, name string) (*catalog.Dataset, error) {
	dataset, err := getDataset(ctx, s.conn, namespace, name)
	if err != nil {
		return nil, classify("get dataset", err)
	}

	return dataset, nil
}

// ListDatasets implements catalog.DatasetStore. The namespace must exist.
func (s *CatalogStore) ListDatasets(ctx context.Context, namespace string, page catalog.Page) ([]catalog.Dataset, error) {
	page, err := catalog.ValidatePage(page)
	if err != nil {
		return nil, err
	}

	if _, err := getNamespace(ctx, s.conn, namespace); err != nil {
		return nil, classify("list datasets", err)
	}

	names, err := queryStrings(ctx, s.conn, listDatasetNamesQuery, namespace, page.Limit, page.Offset)
	if err != nil {
		return nil, classify("list datasets", err)
	}

	datasets := make([]catalog.Dataset, 0, len(names))

	for _, name := range names {
		dataset, err := getDataset(ctx, s.conn, namespace, name)
		if err != nil {
			return nil, classify("list datasets", err)
		}

		datasets = append(datasets, *dataset)
	}

	return datasets, nil
}

// GetDatasetVersion implements catalog.DatasetStore.
func (s *CatalogStore) GetDatasetVersion(ctx context.Context, version uuid.UUID) (*catalog.DatasetVersion, error) {
	datasetVersion, err := getDatasetVersion(ctx, s.conn, selectDatasetVersionByKeyQuery, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: dataset version %s", catalog.ErrNotFound, version)
	}

	if err != nil {
		return nil, classify("get dataset version", err)
	}

	return datasetVersion, nil
}

// TagDataset implements catalog.DatasetStore. Both the dataset and the tag must exist.
func (s *CatalogStore) TagDataset(ctx context.Context, namespace, name, tag string) (*catalog.Dataset, error) {
	var dataset *catalog.Dataset

	err := s.inTx(ctx, "tag dataset", func(tx *sql.Tx) error {
		datasetID, err := getDatasetID(ctx, tx, namespace, name)
		if err != nil {
			return err
		}

		tagID, err := getTagID(ctx, tx, tag)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, tagDatasetQuery, datasetID, tagID, s.timestamp()); err != nil {
			return fmt.Errorf("failed to tag dataset: %w", err)
		}

		dataset, err = getDataset(ctx, tx, namespace, name)

		return err
	})
	if err != nil {
		return nil, err
	}

	return dataset, nil
}

// TagDatasetField implements catalog.DatasetStore. The tag is applied to every field of the
// dataset's current version with the given name.
func (s *CatalogStore) TagDatasetField(
	ctx context.Context,
	namespace, name, field, tag string,
) (*catalog.Dataset, error) {
	var dataset *catalog.Dataset

	err := s.inTx(ctx, "tag dataset field", func(tx *sql.Tx) error {
		current, err := getDataset(ctx, tx, namespace, name)
		if err != nil {
			return err
		}

		if current.CurrentVersion == nil {
			return fmt.Errorf("%w: field %q on dataset %s/%s", catalog.ErrNotFound, field, namespace, name)
		}

		tagID, err := getTagID(ctx, tx, tag)
		if err != nil {
			return err
		}

		fieldIDs, err := queryUUIDs(ctx, tx, selectCurrentFieldIDsQuery, current.CurrentVersion.ID, field)
		if err != nil {
			return fmt.Errorf("failed to resolve field %q: %w", field, err)
		}

		if len(fieldIDs) == 0 {
			return fmt.Errorf("%w: field %q on dataset %s/%s", catalog.ErrNotFound, field, namespace, name)
		}

		now := s.timestamp()

		for _, fieldID := range fieldIDs {
			if _, err := tx.ExecContext(ctx, tagDatasetFieldQuery, fieldID, tagID, now); err != nil {
				return fmt.Errorf("failed to tag field %q: %w", field, err)
			}
		}

		dataset, err = getDataset(ctx, tx, namespace, name)

		return err
	})
	if err != nil {
		return nil, err
	}

	return dataset, nil
}

func datasetVersionKey(namespace, name string, meta catalog.DatasetMeta) uuid.UUID {
	if meta.Version != nil {
		return *meta.Version
	}

	fields := make([]canonicalization.Field, len(meta.Fields))
	for i, field := range meta.Fields {
		fields[i] = canonicalization.Field{Name: field.Name, Type: field.Type}
	}

	runID := ""
	if meta.RunID != nil {
		runID = meta.RunID.String()
	}

	return canonicalization.VersionKeyForDataset(namespace, name, meta.SourceName, meta.PhysicalName, fields, runID)
}

// upsertDatasetVersion returns the version row id for versionKey and whether this call created it.
// A key already owned by another dataset is a conflict.
func upsertDatasetVersion(
	ctx context.Context,
	tx *sql.Tx,
	datasetID, versionKey uuid.UUID,
	runID *uuid.UUID,
	now time.Time,
) (uuid.UUID, bool, error) {
	proposed := uuid.New()

	var versionID, ownerID uuid.UUID

	err := tx.QueryRowContext(ctx, upsertDatasetVersionQuery, proposed, datasetID, versionKey, runID, now).
		Scan(&versionID, &ownerID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to upsert dataset version %s: %w", versionKey, err)
	}

	if ownerID != datasetID {
		return uuid.Nil, false, fmt.Errorf("%w: dataset version %s belongs to another dataset", catalog.ErrConflict, versionKey)
	}

	return versionID, versionID == proposed, nil
}

func mapVersionFields(
	ctx context.Context,
	tx *sql.Tx,
	datasetID, versionID uuid.UUID,
	fields []catalog.FieldMeta,
	now time.Time,
) error {
	for _, field := range fields {
		var fieldID uuid.UUID

		err := tx.QueryRowContext(ctx, upsertDatasetFieldQuery,
			uuid.New(), datasetID, field.Name, field.Type, nullIfEmpty(field.Description), now,
		).Scan(&fieldID)
		if err != nil {
			return fmt.Errorf("failed to upsert field %q: %w", field.Name, err)
		}

		for _, tag := range field.Tags {
			if err := tagRow(ctx, tx, tagDatasetFieldQuery, fieldID, tag, now); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, mapVersionFieldQuery, versionID, fieldID); err != nil {
			return fmt.Errorf("failed to map field %q: %w", field.Name, err)
		}
	}

	return nil
}

// tagRow creates the tag if needed and inserts the join row with query.
func tagRow(ctx context.Context, tx *sql.Tx, query string, rowID uuid.UUID, tag string, now time.Time) error {
	tagID, err := ensureTag(ctx, tx, tag, now)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, query, rowID, tagID, now); err != nil {
		return fmt.Errorf("failed to apply tag %q: %w", tag, err)
	}

	return nil
}

func getDatasetID(ctx context.Context, q querier, namespace, name string) (uuid.UUID, error) {
	var id uuid.UUID

	err := q.QueryRowContext(ctx, selectDatasetIDQuery, namespace, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: dataset %s/%s", catalog.ErrNotFound, namespace, name)
	}

	return id, err
}

// getDataset loads a dataset with its tags and current version. Fields are those of the
// current version.
func getDataset(ctx context.Context, q querier, namespace, name string) (*catalog.Dataset, error) {
	var (
		dataset        catalog.Dataset
		datasetType    string
		lastModifiedAt sql.NullTime
		currentVersion uuid.NullUUID
	)

	err := q.QueryRowContext(ctx, selectDatasetQuery, namespace, name).Scan(
		&dataset.ID,
		&dataset.Namespace,
		&dataset.Name,
		&dataset.PhysicalName,
		&datasetType,
		&dataset.SourceName,
		&dataset.Description,
		&dataset.CreatedAt,
		&dataset.UpdatedAt,
		&lastModifiedAt,
		&currentVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: dataset %s/%s", catalog.ErrNotFound, namespace, name)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s/%s: %w", namespace, name, err)
	}

	dataset.Type = catalog.DatasetType(datasetType)
	dataset.LastModifiedAt = timePtr(lastModifiedAt)

	dataset.Tags, err = queryStrings(ctx, q, selectDatasetTagsQuery, dataset.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset tags: %w", err)
	}

	dataset.Fields = []catalog.DatasetField{}

	if currentVersion.Valid {
		version, err := getDatasetVersion(ctx, q, selectDatasetVersionByIDQuery, currentVersion.UUID)
		if err != nil {
			return nil, fmt.Errorf("failed to load current version: %w", err)
		}

		dataset.CurrentVersion = version
		dataset.Fields = version.Fields
	}

	return &dataset, nil
}

func getDatasetVersion(ctx context.Context, q querier, query string, key uuid.UUID) (*catalog.DatasetVersion, error) {
	var (
		version catalog.DatasetVersion
		runID   uuid.NullUUID
	)

	err := q.QueryRowContext(ctx, query, key).Scan(
		&version.ID,
		&version.DatasetID,
		&version.Version,
		&version.CreatedAt,
		&runID,
	)
	if err != nil {
		return nil, err
	}

	if runID.Valid {
		version.RunID = &runID.UUID
	}

	rows, err := q.QueryContext(ctx, selectVersionFieldsQuery, version.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	version.Fields = make([]catalog.DatasetField, 0)

	for rows.Next() {
		var field catalog.DatasetField

		if err := rows.Scan(&field.ID, &field.Name, &field.Type, &field.Description, pq.Array(&field.Tags)); err != nil {
			return nil, err
		}

		version.Fields = append(version.Fields, field)
	}

	return &version, rows.Err()
}

func queryStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]string, 0)

	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}

		values = append(values, value)
	}

	return values, rows.Err()
}

func queryUUIDs(ctx context.Context, q querier, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]uuid.UUID, 0)

	for rows.Next() {
		var value uuid.UUID
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}

		values = append(values, value)
	}

	return values, rows.Err()
}
