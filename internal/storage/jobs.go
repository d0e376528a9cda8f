package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lineage-io/catalog/internal/canonicalization"
	"github.com/lineage-io/catalog/internal/catalog"
)

const (
	upsertJobContextQuery = `
		INSERT INTO job_contexts (uuid, context, checksum, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (checksum) DO UPDATE SET checksum = EXCLUDED.checksum
		RETURNING uuid`

	upsertJobQuery = `
		INSERT INTO jobs (uuid, namespace_uuid, name, type, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (namespace_uuid, name) DO UPDATE SET
			type        = EXCLUDED.type,
			description = COALESCE(EXCLUDED.description, jobs.description),
			updated_at  = EXCLUDED.updated_at
		RETURNING uuid`

	upsertJobVersionQuery = `
		INSERT INTO job_versions (uuid, job_uuid, version, location, job_context_uuid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (version) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING uuid, job_uuid`

	mapJobVersionIOQuery = `
		INSERT INTO job_versions_io_mapping (job_version_uuid, dataset_uuid, io_type)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`

	lockRunQuery = `SELECT uuid FROM runs WHERE uuid = $1 FOR UPDATE`

	linkRunInputQuery = `
		INSERT INTO runs_input_mapping (run_uuid, dataset_version_uuid)
		SELECT $1::uuid, current_version_uuid FROM datasets
		WHERE uuid = $2 AND current_version_uuid IS NOT NULL
		ON CONFLICT DO NOTHING`

	setRunJobVersionQuery = `UPDATE runs SET job_version_uuid = $2, updated_at = $3 WHERE uuid = $1`

	setLatestRunQuery = `UPDATE job_versions SET latest_run_uuid = $2, updated_at = $3 WHERE uuid = $1`

	setJobCurrentVersionQuery = `UPDATE jobs SET current_version_uuid = $2, updated_at = $3 WHERE uuid = $1`

	selectJobQuery = `
		SELECT j.uuid, n.name, j.name, j.type, COALESCE(j.description, ''), j.created_at, j.updated_at,
			j.current_version_uuid
		FROM jobs j
		JOIN namespaces n ON n.uuid = j.namespace_uuid
		WHERE n.name = $1 AND j.name = $2`

	listJobNamesQuery = `
		SELECT j.name FROM jobs j
		JOIN namespaces n ON n.uuid = j.namespace_uuid
		WHERE n.name = $1
		ORDER BY j.name
		LIMIT $2 OFFSET $3`

	selectJobVersionQuery = `
		SELECT jv.uuid, jv.job_uuid, jv.version, COALESCE(jv.location, ''), jv.job_context_uuid, jc.context,
			jv.latest_run_uuid, jv.created_at, jv.updated_at
		FROM job_versions jv
		JOIN job_contexts jc ON jc.uuid = jv.job_context_uuid
		WHERE jv.uuid = $1`

	selectJobVersionIOQuery = `
		SELECT n.name, d.name, m.io_type
		FROM job_versions_io_mapping m
		JOIN datasets d ON d.uuid = m.dataset_uuid
		JOIN namespaces n ON n.uuid = d.namespace_uuid
		WHERE m.job_version_uuid = $1
		ORDER BY n.name, d.name`
)

// UpsertJob implements catalog.JobStore.
//
// Input and output references that do not resolve to an existing dataset are skipped and
// logged, so lineage arriving out of order never fails the job write.
func (s *CatalogStore) UpsertJob(ctx context.Context, namespace, name string, meta catalog.JobMeta) (*catalog.Job, error) {
	if err := catalog.ValidateName("namespace", namespace); err != nil {
		return nil, err
	}

	if err := catalog.ValidateName("job", name); err != nil {
		return nil, err
	}

	if err := catalog.ValidateStruct(meta); err != nil {
		return nil, err
	}

	serializedContext, err := canonicalization.Serialize(meta.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: job context: %w", catalog.ErrValidation, err)
	}

	version := canonicalization.VersionKeyForJob(namespace, name, meta.Location, meta.Context)

	var job *catalog.Job

	err = s.inTx(ctx, "upsert job", func(tx *sql.Tx) error {
		now := s.timestamp()

		namespaceID, err := ensureNamespace(ctx, tx, namespace, now)
		if err != nil {
			return err
		}

		var contextID uuid.UUID

		err = tx.QueryRowContext(ctx, upsertJobContextQuery,
			uuid.New(), serializedContext, canonicalization.Checksum(serializedContext), now,
		).Scan(&contextID)
		if err != nil {
			return fmt.Errorf("failed to upsert job context: %w", err)
		}

		var jobID uuid.UUID

		err = tx.QueryRowContext(ctx, upsertJobQuery,
			uuid.New(), namespaceID, name, string(meta.TypeOrDefault()), nullIfEmpty(meta.Description), now,
		).Scan(&jobID)
		if err != nil {
			return fmt.Errorf("failed to upsert job %s/%s: %w", namespace, name, err)
		}

		var versionID, ownerID uuid.UUID

		err = tx.QueryRowContext(ctx, upsertJobVersionQuery,
			uuid.New(), jobID, version, nullIfEmpty(meta.Location), contextID, now,
		).Scan(&versionID, &ownerID)
		if err != nil {
			return fmt.Errorf("failed to upsert job version %s: %w", version, err)
		}

		if ownerID != jobID {
			return fmt.Errorf("%w: job version %s belongs to another job", catalog.ErrConflict, version)
		}

		inputIDs, err := s.mapJobIO(ctx, tx, versionID, meta.Inputs, catalog.IOTypeInput)
		if err != nil {
			return err
		}

		if _, err := s.mapJobIO(ctx, tx, versionID, meta.Outputs, catalog.IOTypeOutput); err != nil {
			return err
		}

		if meta.RunID != nil {
			if err := s.linkRun(ctx, tx, *meta.RunID, versionID, inputIDs, now); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, setJobCurrentVersionQuery, jobID, versionID, now); err != nil {
			return fmt.Errorf("failed to move current version pointer: %w", err)
		}

		job, err = getJob(ctx, tx, namespace, name)

		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("job upserted",
		slog.String("namespace", namespace),
		slog.String("job", name),
		slog.String("job_version", version.String()),
	)

	return job, nil
}

// GetJob implements catalog.JobStore.
func (s *CatalogStore) GetJob(ctx context.Context, namespace, name string) (*catalog.Job, error) {
	job, err := getJob(ctx, s.conn, namespace, name)
	if err != nil {
		return nil, classify("get job", err)
	}

	return job, nil
}

// ListJobs implements catalog.JobStore. The namespace must exist.
func (s *CatalogStore) ListJobs(ctx context.Context, namespace string, page catalog.Page) ([]catalog.Job, error) {
	page, err := catalog.ValidatePage(page)
	if err != nil {
		return nil, err
	}

	if _, err := getNamespace(ctx, s.conn, namespace); err != nil {
		return nil, classify("list jobs", err)
	}

	names, err := queryStrings(ctx, s.conn, listJobNamesQuery, namespace, page.Limit, page.Offset)
	if err != nil {
		return nil, classify("list jobs", err)
	}

	jobs := make([]catalog.Job, 0, len(names))

	for _, name := range names {
		job, err := getJob(ctx, s.conn, namespace, name)
		if err != nil {
			return nil, classify("list jobs", err)
		}

		jobs = append(jobs, *job)
	}

	return jobs, nil
}

// mapJobIO resolves each dataset reference and links the resolved ones to the job version.
// It returns the ids of the datasets that resolved.
func (s *CatalogStore) mapJobIO(
	ctx context.Context,
	tx *sql.Tx,
	versionID uuid.UUID,
	refs []catalog.DatasetID,
	ioType catalog.IOType,
) ([]uuid.UUID, error) {
	resolved := make([]uuid.UUID, 0, len(refs))

	for _, ref := range refs {
		datasetID, err := getDatasetID(ctx, tx, ref.Namespace, ref.Name)
		if errors.Is(err, catalog.ErrNotFound) {
			s.logger.Warn("skipping unresolved dataset reference",
				slog.String("dataset", ref.String()),
				slog.String("io_type", string(ioType)),
			)

			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to resolve dataset %s: %w", ref, err)
		}

		if _, err := tx.ExecContext(ctx, mapJobVersionIOQuery, versionID, datasetID, string(ioType)); err != nil {
			return nil, fmt.Errorf("failed to map %s dataset %s: %w", ioType, ref, err)
		}

		resolved = append(resolved, datasetID)
	}

	return resolved, nil
}

// linkRun points an existing run at the job version and records the current versions of its
// inputs as the run's inputs. An unknown run is skipped.
func (s *CatalogStore) linkRun(
	ctx context.Context,
	tx *sql.Tx,
	runID, versionID uuid.UUID,
	inputIDs []uuid.UUID,
	now time.Time,
) error {
	var locked uuid.UUID

	err := tx.QueryRowContext(ctx, lockRunQuery, runID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("skipping unresolved run reference", slog.String("run_id", runID.String()))

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to lock run %s: %w", runID, err)
	}

	for _, datasetID := range inputIDs {
		if _, err := tx.ExecContext(ctx, linkRunInputQuery, runID, datasetID); err != nil {
			return fmt.Errorf("failed to link run input: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, setRunJobVersionQuery, runID, versionID, now); err != nil {
		return fmt.Errorf("failed to move run job version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, setLatestRunQuery, versionID, runID, now); err != nil {
		return fmt.Errorf("failed to move latest run pointer: %w", err)
	}

	return nil
}

func getJob(ctx context.Context, q querier, namespace, name string) (*catalog.Job, error) {
	var (
		job            catalog.Job
		jobType        string
		currentVersion uuid.NullUUID
	)

	err := q.QueryRowContext(ctx, selectJobQuery, namespace, name).Scan(
		&job.ID,
		&job.Namespace,
		&job.Name,
		&jobType,
		&job.Description,
		&job.CreatedAt,
		&job.UpdatedAt,
		&currentVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s/%s", catalog.ErrNotFound, namespace, name)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load job %s/%s: %w", namespace, name, err)
	}

	job.Type = catalog.JobType(jobType)

	if currentVersion.Valid {
		job.CurrentVersion, err = getJobVersion(ctx, q, currentVersion.UUID)
		if err != nil {
			return nil, fmt.Errorf("failed to load current version: %w", err)
		}
	}

	return &job, nil
}

func getJobVersion(ctx context.Context, q querier, versionID uuid.UUID) (*catalog.JobVersion, error) {
	var (
		version           catalog.JobVersion
		serializedContext string
		latestRun         uuid.NullUUID
	)

	err := q.QueryRowContext(ctx, selectJobVersionQuery, versionID).Scan(
		&version.ID,
		&version.JobID,
		&version.Version,
		&version.Location,
		&version.ContextID,
		&serializedContext,
		&latestRun,
		&version.CreatedAt,
		&version.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(serializedContext), &version.Context); err != nil {
		return nil, fmt.Errorf("failed to decode job context: %w", err)
	}

	if latestRun.Valid {
		version.LatestRunID = &latestRun.UUID
	}

	rows, err := q.QueryContext(ctx, selectJobVersionIOQuery, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	version.Inputs = make([]catalog.DatasetID, 0)
	version.Outputs = make([]catalog.DatasetID, 0)

	for rows.Next() {
		var (
			ref    catalog.DatasetID
			ioType string
		)

		if err := rows.Scan(&ref.Namespace, &ref.Name, &ioType); err != nil {
			return nil, err
		}

		if catalog.IOType(ioType) == catalog.IOTypeInput {
			version.Inputs = append(version.Inputs, ref)
		} else {
			version.Outputs = append(version.Outputs, ref)
		}
	}

	return &version, rows.Err()
}
