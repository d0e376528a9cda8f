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
	selectJobCurrentVersionQuery = `
		SELECT j.current_version_uuid FROM jobs j
		JOIN namespaces n ON n.uuid = j.namespace_uuid
		WHERE n.name = $1 AND j.name = $2`

	upsertRunArgsQuery = `
		INSERT INTO run_args (uuid, args, checksum, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (checksum) DO UPDATE SET checksum = EXCLUDED.checksum
		RETURNING uuid`

	runExistsQuery = `SELECT EXISTS (SELECT 1 FROM runs WHERE uuid = $1)`

	insertRunQuery = `
		INSERT INTO runs (uuid, job_version_uuid, run_args_uuid, nominal_start_time, nominal_end_time,
			current_run_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`

	insertRunStateQuery = `
		INSERT INTO run_states (uuid, run_uuid, state, transitioned_at)
		VALUES ($1, $2, $3, $4)`

	linkKnownInputsQuery = `
		INSERT INTO runs_input_mapping (run_uuid, dataset_version_uuid)
		SELECT $1::uuid, d.current_version_uuid
		FROM job_versions_io_mapping m
		JOIN datasets d ON d.uuid = m.dataset_uuid
		WHERE m.job_version_uuid = $2 AND m.io_type = 'INPUT' AND d.current_version_uuid IS NOT NULL
		ON CONFLICT DO NOTHING`

	lockRunStateQuery = `
		SELECT current_run_state, start_run_state_uuid, end_run_state_uuid
		FROM runs WHERE uuid = $1 FOR UPDATE`

	moveRunPointersQuery = `
		UPDATE runs SET
			current_run_state    = CASE WHEN $2::boolean THEN $3 ELSE current_run_state END,
			start_run_state_uuid = CASE WHEN $4::boolean THEN $5::uuid ELSE start_run_state_uuid END,
			end_run_state_uuid   = CASE WHEN $6::boolean THEN $5::uuid ELSE end_run_state_uuid END,
			updated_at           = $7
		WHERE uuid = $1`

	selectRunQuery = `
		SELECT r.uuid, r.created_at, r.updated_at, r.nominal_start_time, r.nominal_end_time, r.current_run_state,
			r.start_run_state_uuid, r.end_run_state_uuid, ss.transitioned_at, es.transitioned_at,
			ra.args, n.name, j.name, jv.version
		FROM runs r
		JOIN job_versions jv ON jv.uuid = r.job_version_uuid
		JOIN jobs j ON j.uuid = jv.job_uuid
		JOIN namespaces n ON n.uuid = j.namespace_uuid
		LEFT JOIN run_args ra ON ra.uuid = r.run_args_uuid
		LEFT JOIN run_states ss ON ss.uuid = r.start_run_state_uuid
		LEFT JOIN run_states es ON es.uuid = r.end_run_state_uuid
		WHERE r.uuid = $1`

	selectRunInputsQuery = `
		SELECT n.name, d.name, dv.version
		FROM runs_input_mapping m
		JOIN dataset_versions dv ON dv.uuid = m.dataset_version_uuid
		JOIN datasets d ON d.uuid = dv.dataset_uuid
		JOIN namespaces n ON n.uuid = d.namespace_uuid
		WHERE m.run_uuid = $1
		ORDER BY n.name, d.name`

	selectRunOutputsQuery = `
		SELECT n.name, d.name, dv.version
		FROM dataset_versions dv
		JOIN datasets d ON d.uuid = dv.dataset_uuid
		JOIN namespaces n ON n.uuid = d.namespace_uuid
		WHERE dv.run_uuid = $1
		ORDER BY n.name, d.name`

	listRunIDsQuery = `
		SELECT r.uuid FROM runs r
		JOIN job_versions jv ON jv.uuid = r.job_version_uuid
		JOIN jobs j ON j.uuid = jv.job_uuid
		JOIN namespaces n ON n.uuid = j.namespace_uuid
		WHERE n.name = $1 AND j.name = $2
		ORDER BY r.created_at DESC, r.uuid
		LIMIT $3 OFFSET $4`

	listRunStatesQuery = `
		SELECT uuid, run_uuid, state, transitioned_at FROM run_states
		WHERE run_uuid = $1
		ORDER BY transitioned_at, uuid`
)

// CreateRun implements catalog.RunStore.
//
// The run executes the job's current version, starts in NEW with one NEW state row, and
// inherits the current versions of the job version's known inputs. An explicit run id that
// already exists is a conflict.
func (s *CatalogStore) CreateRun(
	ctx context.Context,
	namespace, jobName string,
	meta catalog.RunMeta,
) (*catalog.Run, error) {
	if err := catalog.ValidateName("namespace", namespace); err != nil {
		return nil, err
	}

	if err := catalog.ValidateName("job", jobName); err != nil {
		return nil, err
	}

	if err := catalog.ValidateRunMeta(meta); err != nil {
		return nil, err
	}

	serializedArgs, err := canonicalization.Serialize(meta.Args)
	if err != nil {
		return nil, fmt.Errorf("%w: run args: %w", catalog.ErrValidation, err)
	}

	runID := uuid.New()
	if meta.ID != nil {
		runID = *meta.ID
	}

	var run *catalog.Run

	err = s.inTx(ctx, "create run", func(tx *sql.Tx) error {
		now := s.timestamp()

		versionID, err := currentJobVersion(ctx, tx, namespace, jobName)
		if err != nil {
			return err
		}

		var argsID uuid.UUID

		err = tx.QueryRowContext(ctx, upsertRunArgsQuery,
			uuid.New(), serializedArgs, canonicalization.Checksum(serializedArgs), now,
		).Scan(&argsID)
		if err != nil {
			return fmt.Errorf("failed to upsert run args: %w", err)
		}

		if meta.ID != nil {
			var exists bool
			if err := tx.QueryRowContext(ctx, runExistsQuery, runID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check run %s: %w", runID, err)
			}

			if exists {
				return fmt.Errorf("%w: run %s already exists", catalog.ErrConflict, runID)
			}
		}

		_, err = tx.ExecContext(ctx, insertRunQuery,
			runID, versionID, argsID, meta.NominalStartTime, meta.NominalEndTime,
			string(catalog.RunStateNew), now,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: run %s already exists", catalog.ErrConflict, runID)
		}

		if err != nil {
			return fmt.Errorf("failed to insert run %s: %w", runID, err)
		}

		if _, err := tx.ExecContext(ctx, insertRunStateQuery, uuid.New(), runID, string(catalog.RunStateNew), now); err != nil {
			return fmt.Errorf("failed to insert NEW state: %w", err)
		}

		if _, err := tx.ExecContext(ctx, linkKnownInputsQuery, runID, versionID); err != nil {
			return fmt.Errorf("failed to link run inputs: %w", err)
		}

		if _, err := tx.ExecContext(ctx, setLatestRunQuery, versionID, runID, now); err != nil {
			return fmt.Errorf("failed to move latest run pointer: %w", err)
		}

		run, err = getRun(ctx, tx, runID)

		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("run created",
		slog.String("run_id", runID.String()),
		slog.String("namespace", namespace),
		slog.String("job", jobName),
	)

	return run, nil
}

// MarkRunAs implements catalog.RunStore. The state row is always appended; pointers move
// as catalog.PlanTransition decides. The run row is locked for the duration so concurrent
// transitions of one run serialize.
func (s *CatalogStore) MarkRunAs(
	ctx context.Context,
	runID uuid.UUID,
	state catalog.RunState,
	at time.Time,
) (*catalog.Transition, error) {
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: unknown run state %q", catalog.ErrValidation, state)
	}

	if at.IsZero() {
		at = s.timestamp()
	}

	at = at.UTC()

	var transition *catalog.Transition

	err := s.inTx(ctx, "mark run", func(tx *sql.Tx) error {
		var (
			current    string
			startState uuid.NullUUID
			endState   uuid.NullUUID
		)

		err := tx.QueryRowContext(ctx, lockRunStateQuery, runID).Scan(&current, &startState, &endState)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: run %s", catalog.ErrNotFound, runID)
		}

		if err != nil {
			return fmt.Errorf("failed to lock run %s: %w", runID, err)
		}

		stateID := uuid.New()

		if _, err := tx.ExecContext(ctx, insertRunStateQuery, stateID, runID, string(state), at); err != nil {
			return fmt.Errorf("failed to append %s state: %w", state, err)
		}

		previous := catalog.RunState(current)
		effect := catalog.PlanTransition(previous, startState.Valid, endState.Valid, state)

		_, err = tx.ExecContext(ctx, moveRunPointersQuery,
			runID, effect.UpdateCurrent, string(state), effect.SetStart, stateID, effect.SetEnd, s.timestamp(),
		)
		if err != nil {
			return fmt.Errorf("failed to move run pointers: %w", err)
		}

		run, err := getRun(ctx, tx, runID)
		if err != nil {
			return err
		}

		transition = &catalog.Transition{Run: run, Previous: previous, State: state, At: at}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("run transitioned",
		slog.String("run_id", runID.String()),
		slog.String("from", string(transition.Previous)),
		slog.String("to", string(state)),
	)

	return transition, nil
}

// GetRun implements catalog.RunStore.
func (s *CatalogStore) GetRun(ctx context.Context, runID uuid.UUID) (*catalog.Run, error) {
	run, err := getRun(ctx, s.conn, runID)
	if err != nil {
		return nil, classify("get run", err)
	}

	return run, nil
}

// ListRuns implements catalog.RunStore, newest first. The job must exist.
func (s *CatalogStore) ListRuns(
	ctx context.Context,
	namespace, jobName string,
	page catalog.Page,
) ([]catalog.Run, error) {
	page, err := catalog.ValidatePage(page)
	if err != nil {
		return nil, err
	}

	if _, err := getJob(ctx, s.conn, namespace, jobName); err != nil {
		return nil, classify("list runs", err)
	}

	ids, err := queryUUIDs(ctx, s.conn, listRunIDsQuery, namespace, jobName, page.Limit, page.Offset)
	if err != nil {
		return nil, classify("list runs", err)
	}

	runs := make([]catalog.Run, 0, len(ids))

	for _, id := range ids {
		run, err := getRun(ctx, s.conn, id)
		if err != nil {
			return nil, classify("list runs", err)
		}

		runs = append(runs, *run)
	}

	return runs, nil
}

// ListRunStates implements catalog.RunStore, oldest first.
func (s *CatalogStore) ListRunStates(ctx context.Context, runID uuid.UUID) ([]catalog.RunStateRecord, error) {
	exists, err := s.RunExists(ctx, runID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, fmt.Errorf("%w: run %s", catalog.ErrNotFound, runID)
	}

	rows, err := s.conn.QueryContext(ctx, listRunStatesQuery, runID)
	if err != nil {
		return nil, classify("list run states", err)
	}
	defer rows.Close()

	states := make([]catalog.RunStateRecord, 0)

	for rows.Next() {
		var (
			record catalog.RunStateRecord
			state  string
		)

		if err := rows.Scan(&record.ID, &record.RunID, &state, &record.TransitionedAt); err != nil {
			return nil, classify("list run states", err)
		}

		record.State = catalog.RunState(state)
		states = append(states, record)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("list run states", err)
	}

	return states, nil
}

// RunExists implements catalog.RunStore.
func (s *CatalogStore) RunExists(ctx context.Context, runID uuid.UUID) (bool, error) {
	var exists bool
	if err := s.conn.QueryRowContext(ctx, runExistsQuery, runID).Scan(&exists); err != nil {
		return false, classify("check run", err)
	}

	return exists, nil
}

func currentJobVersion(ctx context.Context, q querier, namespace, jobName string) (uuid.UUID, error) {
	var versionID uuid.NullUUID

	err := q.QueryRowContext(ctx, selectJobCurrentVersionQuery, namespace, jobName).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: job %s/%s", catalog.ErrNotFound, namespace, jobName)
	}

	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve job %s/%s: %w", namespace, jobName, err)
	}

	if !versionID.Valid {
		return uuid.Nil, fmt.Errorf("%w: job %s/%s has no version", catalog.ErrNotFound, namespace, jobName)
	}

	return versionID.UUID, nil
}

func getRun(ctx context.Context, q querier, runID uuid.UUID) (*catalog.Run, error) {
	var (
		run            catalog.Run
		nominalStart   sql.NullTime
		nominalEnd     sql.NullTime
		state          string
		startState     uuid.NullUUID
		endState       uuid.NullUUID
		startedAt      sql.NullTime
		endedAt        sql.NullTime
		serializedArgs sql.NullString
	)

	err := q.QueryRowContext(ctx, selectRunQuery, runID).Scan(
		&run.ID,
		&run.CreatedAt,
		&run.UpdatedAt,
		&nominalStart,
		&nominalEnd,
		&state,
		&startState,
		&endState,
		&startedAt,
		&endedAt,
		&serializedArgs,
		&run.JobVersion.Namespace,
		&run.JobVersion.Name,
		&run.JobVersion.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", catalog.ErrNotFound, runID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	run.State = catalog.RunState(state)
	run.NominalStartTime = timePtr(nominalStart)
	run.NominalEndTime = timePtr(nominalEnd)
	run.StartedAt = timePtr(startedAt)
	run.EndedAt = timePtr(endedAt)

	if startState.Valid {
		run.StartStateID = &startState.UUID
	}

	if endState.Valid {
		run.EndStateID = &endState.UUID
	}

	run.Args = map[string]string{}
	if serializedArgs.Valid {
		if err := json.Unmarshal([]byte(serializedArgs.String), &run.Args); err != nil {
			return nil, fmt.Errorf("failed to decode run args: %w", err)
		}
	}

	if run.InputVersions, err = queryVersionRefs(ctx, q, selectRunInputsQuery, runID); err != nil {
		return nil, fmt.Errorf("failed to load run inputs: %w", err)
	}

	if run.OutputVersions, err = queryVersionRefs(ctx, q, selectRunOutputsQuery, runID); err != nil {
		return nil, fmt.Errorf("failed to load run outputs: %w", err)
	}

	return &run, nil
}

func queryVersionRefs(ctx context.Context, q querier, query string, runID uuid.UUID) ([]catalog.DatasetVersionRef, error) {
	rows, err := q.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make([]catalog.DatasetVersionRef, 0)

	for rows.Next() {
		var ref catalog.DatasetVersionRef
		if err := rows.Scan(&ref.Namespace, &ref.Name, &ref.Version); err != nil {
			return nil, err
		}

		refs = append(refs, ref)
	}

	return refs, rows.Err()
}
