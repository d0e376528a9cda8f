package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lineage-io/catalog/internal/catalog"
	"github.com/lineage-io/catalog/internal/config"
)

// TestCatalogStoreIntegration runs all integration tests for CatalogStore against a migrated
// Postgres container.
func TestCatalogStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	store, err := NewCatalogStore(&Connection{DB: testDB.Connection})
	require.NoError(t, err)

	t.Run("UpsertJob_IdempotentVersioning", testUpsertJobIdempotentVersioning(ctx, store, testDB.Connection))
	t.Run("UpsertJob_ContentDedup", testContentDedup(ctx, store, testDB.Connection))
	t.Run("UpsertJob_UnresolvedReferencesSkipped", testUnresolvedReferencesSkipped(ctx, store, testDB.Connection))
	t.Run("UpsertDataset_FieldReuse", testDatasetFieldReuse(ctx, store, testDB.Connection))
	t.Run("UpsertDataset_SharedPhysicalName", testSharedPhysicalName(ctx, store, testDB.Connection))
	t.Run("UpsertDataset_ExplicitVersionReused", testExplicitVersionReused(ctx, store, testDB.Connection))
	t.Run("TagDataset", testTagDataset(ctx, store, testDB.Connection))
	t.Run("UpsertNamespace_OwnershipHistory", testOwnershipHistory(ctx, store, testDB.Connection))
	t.Run("MarkRunAs_FirstRunningSetsStart", testFirstRunningSetsStart(ctx, store, testDB.Connection))
	t.Run("MarkRunAs_FirstTerminalWins", testFirstTerminalWins(ctx, store, testDB.Connection))
	t.Run("CreateRun_ExplicitIDConflict", testExplicitRunIDConflict(ctx, store, testDB.Connection))
	t.Run("Run_InputsAndOutputs", testRunInputsAndOutputs(ctx, store, testDB.Connection))
	t.Run("ListRuns_NewestFirst", testListRunsNewestFirst(ctx, store, testDB.Connection))
	t.Run("RunStates_AppendOnly", testRunStatesAppendOnly(ctx, store, testDB.Connection))
}

func countRows(ctx context.Context, t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()

	var count int
	require.NoError(t, db.QueryRowContext(ctx, query, args...).Scan(&count))

	return count
}

func registerJob(ctx context.Context, t *testing.T, store *CatalogStore) *catalog.Job {
	t.Helper()

	job, err := store.UpsertJob(ctx, "ns1", "etl_job", catalog.JobMeta{Location: "s3://code/v1"})
	require.NoError(t, err)

	return job
}

func testUpsertJobIdempotentVersioning(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)

		first := registerJob(ctx, t, store)
		second := registerJob(ctx, t, store)

		require.NotNil(t, first.CurrentVersion)
		require.NotNil(t, second.CurrentVersion)
		assert.Equal(t, first.CurrentVersion.ID, second.CurrentVersion.ID)
		assert.Equal(t, first.CurrentVersion.Version, second.CurrentVersion.Version)
		assert.Equal(t, 1, countRows(ctx, t, db, `SELECT COUNT(*) FROM job_versions WHERE job_uuid = $1`, first.ID))

		changed, err := store.UpsertJob(ctx, "ns1", "etl_job", catalog.JobMeta{Location: "s3://code/v2"})
		require.NoError(t, err)
		assert.NotEqual(t, first.CurrentVersion.ID, changed.CurrentVersion.ID)
		assert.Equal(t, 2, countRows(ctx, t, db, `SELECT COUNT(*) FROM job_versions WHERE job_uuid = $1`, first.ID))
	}
}

func testContentDedup(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)

		jobContext := map[string]string{"sql": "SELECT * FROM users"}

		_, err := store.UpsertJob(ctx, "ns1", "job_a", catalog.JobMeta{Context: jobContext})
		require.NoError(t, err)
		_, err = store.UpsertJob(ctx, "ns1", "job_b", catalog.JobMeta{Context: jobContext})
		require.NoError(t, err)

		assert.Equal(t, 1, countRows(ctx, t, db, `SELECT COUNT(*) FROM job_contexts`))

		args := map[string]string{"date": "2026-03-01"}

		for range 2 {
			_, err := store.CreateRun(ctx, "ns1", "job_a", catalog.RunMeta{Args: args})
			require.NoError(t, err)
		}

		assert.Equal(t, 1, countRows(ctx, t, db, `SELECT COUNT(*) FROM run_args`))
		assert.Equal(t, 2, countRows(ctx, t, db, `SELECT COUNT(*) FROM runs`))
	}
}

func testUnresolvedReferencesSkipped(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)

		_, err := store.UpsertDataset(ctx, "ns1", "raw_events", catalog.DatasetMeta{
			PhysicalName: "raw.events",
			SourceName:   "lake",
		})
		require.NoError(t, err)

		job, err := store.UpsertJob(ctx, "ns1", "etl_job", catalog.JobMeta{
			Inputs:  []catalog.DatasetID{{Namespace: "ns1", Name: "raw_events"}},
			Outputs: []catalog.DatasetID{{Namespace: "ns1", Name: "not_yet_seen"}},
		})
		require.NoError(t, err)

		assert.Equal(t, []catalog.DatasetID{{Namespace: "ns1", Name: "raw_events"}}, job.CurrentVersion.Inputs)
		assert.Empty(t, job.CurrentVersion.Outputs)
	}
}

func testDatasetFieldReuse(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)

		first, err := store.UpsertDataset(ctx, "ns1", "users", catalog.DatasetMeta{
			PhysicalName: "public.users",
			SourceName:   "analytics_db",
			Fields:       []catalog.FieldMeta{{Name: "id", Type: "INT"}},
		})
		require.NoError(t, err)
		require.Len(t, first.Fields, 1)

		second, err := store.UpsertDataset(ctx, "ns1", "users", catalog.DatasetMeta{
			PhysicalName: "public.users",
			SourceName:   "analytics_db",
			Fields:       []catalog.FieldMeta{{Name: "id", Type: "INT"}, {Name: "email", Type: "STRING"}},
		})
		require.NoError(t, err)

		assert.NotEqual(t, first.CurrentVersion.ID, second.CurrentVersion.ID)
		assert.Equal(t, 2, countRows(ctx, t, db, `SELECT COUNT(*) FROM dataset_versions WHERE dataset_uuid = $1`, first.ID))
		assert.Equal(t, 2, countRows(ctx, t, db, `SELECT COUNT(*) FROM dataset_fields WHERE dataset_uuid = $1`, first.ID))

		version, err := store.GetDatasetVersion(ctx, second.CurrentVersion.Version)
		require.NoError(t, err)
		require.Len(t, version.Fields, 2)

		byName := map[string]catalog.DatasetField{}
		for _, field := range version.Fields {
			byName[field.Name] = field
		}

		assert.Equal(t, first.Fields[0].ID, byName["id"].ID, "unchanged field row is reused")
		assert.Equal(t, "STRING", byName["email"].Type)

		dataset, err := store.GetDataset(ctx, "ns1", "users")
		require.NoError(t, err)
		assert.Equal(t, second.CurrentVersion.ID, dataset.CurrentVersion.ID)
		assert.Equal(t, dataset.ID, dataset.CurrentVersion.DatasetID)
	}
}

func testSharedPhysicalName(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)

		meta := catalog.DatasetMeta{
			PhysicalName: "public.users",
			SourceName:   "analytics_db",
			Fields:       []catalog.FieldMeta{{Name: "id", Type: "INT"}},
		}

		users, err := store.UpsertDataset(ctx, "ns1", "users", meta)
		require.NoError(t, err)

		view, err := store.UpsertDataset(ctx, "ns1", "users_view", meta)
		require.NoError(t, err)

		assert.NotEqual(t, users.ID, view.ID)
		assert.NotEqual(t, users.CurrentVersion.Version, view.CurrentVersion.Version)
		assert.Equal(t, view.ID, view.CurrentVersion.DatasetID)

		reloaded, err := store.GetDataset(ctx, "ns1", "users")
		require.NoError(t, err)
		assert.Equal(t, users.CurrentVersion.ID, reloaded.CurrentVersion.ID)
	}
}

func testExplicitVersionReused(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)

		explicit := uuid.New()
		meta := catalog.DatasetMeta{
			PhysicalName: "events",
			SourceName:   "kafka_prod",
			Type:         catalog.DatasetTypeStream,
			Fields:       []catalog.FieldMeta{{Name: "payload", Type: "BYTES"}},
			Version:      &explicit,
		}

		first, err := store.UpsertDataset(ctx, "ns1", "events", meta)
		require.NoError(t, err)

		meta.Fields = append(meta.Fields, catalog.FieldMeta{Name: "ignored", Type: "STRING"})

		second, err := store.UpsertDataset(ctx, "ns1", "events", meta)
		require.NoError(t, err)

		assert.Equal(t, explicit, second.CurrentVersion.Version)
		assert.Equal(t, first.CurrentVersion.ID, second.CurrentVersion.ID)
		assert.Len(t, second.Fields, 1, "a reused version keeps its field mapping")
		assert.Equal(t, catalog.DatasetTypeStream, second.Type)
	}
}

func testTagDataset(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)

		_, err := store.UpsertDataset(ctx, "ns1", "users", catalog.DatasetMeta{
			PhysicalName: "public.users",
			SourceName:   "analytics_db",
			Fields:       []catalog.FieldMeta{{Name: "email", Type: "STRING"}},
			Tags:         []string{"core"},
		})
		require.NoError(t, err)

		_, err = store.TagDataset(ctx, "ns1", "users", "pii")
		require.ErrorIs(t, err, catalog.ErrNotFound)

		_, err = store.UpsertTag(ctx, "pii", catalog.TagMeta{Description: "personal data"})
		require.NoError(t, err)

		dataset, err := store.TagDataset(ctx, "ns1", "users", "pii")
		require.NoError(t, err)
		assert.Equal(t, []string{"core", "pii"}, dataset.Tags)

		dataset, err = store.TagDatasetField(ctx, "ns1", "users", "email", "pii")
		require.NoError(t, err)
		require.Len(t, dataset.Fields, 1)
		assert.Equal(t, []string{"pii"}, dataset.Fields[0].Tags)

		_, err = store.TagDatasetField(ctx, "ns1", "users", "phone", "pii")
		require.ErrorIs(t, err, catalog.ErrNotFound)
	}
}

func testOwnershipHistory(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)

		namespace, err := store.UpsertNamespace(ctx, "ns1", catalog.NamespaceMeta{OwnerName: "data-eng"})
		require.NoError(t, err)
		assert.Equal(t, "data-eng", namespace.OwnerName)

		_, err = store.UpsertNamespace(ctx, "ns1", catalog.NamespaceMeta{OwnerName: "data-eng"})
		require.NoError(t, err)

		namespace, err = store.UpsertNamespace(ctx, "ns1", catalog.NamespaceMeta{OwnerName: "platform", Description: "core"})
		require.NoError(t, err)
		assert.Equal(t, "platform", namespace.OwnerName)
		assert.Equal(t, "core", namespace.Description)

		namespace, err = store.UpsertNamespace(ctx, "ns1", catalog.NamespaceMeta{})
		require.NoError(t, err)
		assert.Equal(t, "platform", namespace.OwnerName, "empty owner keeps the current owner")
		assert.Equal(t, "core", namespace.Description)

		assert.Equal(t, 2, countRows(ctx, t, db, `SELECT COUNT(*) FROM namespace_ownerships WHERE namespace_uuid = $1`, namespace.ID))
		assert.Equal(t, 1, countRows(ctx, t, db,
			`SELECT COUNT(*) FROM namespace_ownerships WHERE namespace_uuid = $1 AND ended_at IS NULL`, namespace.ID))
	}
}

func testFirstRunningSetsStart(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)
		registerJob(ctx, t, store)

		run, err := store.CreateRun(ctx, "ns1", "etl_job", catalog.RunMeta{})
		require.NoError(t, err)
		assert.Equal(t, catalog.RunStateNew, run.State)
		assert.Nil(t, run.StartStateID)

		t1 := time.Now().UTC().Truncate(time.Second).Add(time.Hour)
		t2 := t1.Add(time.Minute)

		first, err := store.MarkRunAs(ctx, run.ID, catalog.RunStateRunning, t1)
		require.NoError(t, err)
		assert.Equal(t, catalog.RunStateNew, first.Previous)
		require.NotNil(t, first.Run.StartStateID)

		second, err := store.MarkRunAs(ctx, run.ID, catalog.RunStateRunning, t2)
		require.NoError(t, err)
		assert.Equal(t, catalog.RunStateRunning, second.Previous)
		assert.Equal(t, *first.Run.StartStateID, *second.Run.StartStateID)
		require.NotNil(t, second.Run.StartedAt)
		assert.True(t, t1.Equal(*second.Run.StartedAt))

		states, err := store.ListRunStates(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, states, 3)
		assert.Equal(t, catalog.RunStateRunning, states[1].State)
		assert.Equal(t, catalog.RunStateRunning, states[2].State)
		assert.Equal(t, states[1].ID, *second.Run.StartStateID)
	}
}

func testFirstTerminalWins(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)
		registerJob(ctx, t, store)

		run, err := store.CreateRun(ctx, "ns1", "etl_job", catalog.RunMeta{})
		require.NoError(t, err)

		t3 := time.Now().UTC().Truncate(time.Second).Add(time.Hour)

		completed, err := store.MarkRunAs(ctx, run.ID, catalog.RunStateCompleted, t3)
		require.NoError(t, err)
		require.NotNil(t, completed.Run.EndStateID)
		assert.Equal(t, catalog.RunStateCompleted, completed.Run.State)

		failed, err := store.MarkRunAs(ctx, run.ID, catalog.RunStateFailed, t3.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, catalog.RunStateCompleted, failed.Previous)
		assert.Equal(t, catalog.RunStateCompleted, failed.Run.State)
		assert.Equal(t, *completed.Run.EndStateID, *failed.Run.EndStateID)
		assert.True(t, t3.Equal(*failed.Run.EndedAt))
		assert.Nil(t, failed.Run.StartStateID)

		late, err := store.MarkRunAs(ctx, run.ID, catalog.RunStateRunning, t3.Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, catalog.RunStateCompleted, late.Run.State)
		assert.Equal(t, *completed.Run.EndStateID, *late.Run.EndStateID)
		require.NotNil(t, late.Run.StartStateID)
		require.NotNil(t, late.Run.StartedAt)
		assert.True(t, t3.Add(-time.Minute).Equal(*late.Run.StartedAt))

		assert.Equal(t, 4, countRows(ctx, t, db, `SELECT COUNT(*) FROM run_states WHERE run_uuid = $1`, run.ID))
	}
}

func testExplicitRunIDConflict(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)
		registerJob(ctx, t, store)

		runID := uuid.New()

		run, err := store.CreateRun(ctx, "ns1", "etl_job", catalog.RunMeta{ID: &runID})
		require.NoError(t, err)
		assert.Equal(t, runID, run.ID)

		_, err = store.CreateRun(ctx, "ns1", "etl_job", catalog.RunMeta{ID: &runID})
		require.ErrorIs(t, err, catalog.ErrConflict)

		_, err = store.CreateRun(ctx, "ns1", "unknown_job", catalog.RunMeta{})
		require.ErrorIs(t, err, catalog.ErrNotFound)

		_, err = store.MarkRunAs(ctx, uuid.New(), catalog.RunStateRunning, time.Now())
		require.ErrorIs(t, err, catalog.ErrNotFound)
	}
}

func testRunInputsAndOutputs(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)

		input, err := store.UpsertDataset(ctx, "ns1", "raw_users", catalog.DatasetMeta{
			PhysicalName: "raw.users",
			SourceName:   "lake",
		})
		require.NoError(t, err)

		_, err = store.UpsertJob(ctx, "ns1", "etl_job", catalog.JobMeta{
			Inputs: []catalog.DatasetID{{Namespace: "ns1", Name: "raw_users"}},
		})
		require.NoError(t, err)

		run, err := store.CreateRun(ctx, "ns1", "etl_job", catalog.RunMeta{Args: map[string]string{"mode": "full"}})
		require.NoError(t, err)
		require.Len(t, run.InputVersions, 1)
		assert.Equal(t, input.CurrentVersion.Version, run.InputVersions[0].Version)
		assert.Equal(t, map[string]string{"mode": "full"}, run.Args)

		output, err := store.UpsertDataset(ctx, "ns1", "users", catalog.DatasetMeta{
			PhysicalName: "public.users",
			SourceName:   "warehouse",
			RunID:        &run.ID,
		})
		require.NoError(t, err)
		require.NotNil(t, output.CurrentVersion.RunID)

		job, err := store.UpsertJob(ctx, "ns1", "etl_job", catalog.JobMeta{
			Inputs:  []catalog.DatasetID{{Namespace: "ns1", Name: "raw_users"}},
			Outputs: []catalog.DatasetID{{Namespace: "ns1", Name: "users"}},
			RunID:   &run.ID,
		})
		require.NoError(t, err)
		require.NotNil(t, job.CurrentVersion.LatestRunID)
		assert.Equal(t, run.ID, *job.CurrentVersion.LatestRunID)

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, job.CurrentVersion.Version, got.JobVersion.Version)
		require.Len(t, got.OutputVersions, 1)
		assert.Equal(t, output.CurrentVersion.Version, got.OutputVersions[0].Version)
		assert.Len(t, got.InputVersions, 1)
	}
}

func testListRunsNewestFirst(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)
		registerJob(ctx, t, store)

		ids := make([]uuid.UUID, 0, 3)

		for range 3 {
			run, err := store.CreateRun(ctx, "ns1", "etl_job", catalog.RunMeta{})
			require.NoError(t, err)

			ids = append(ids, run.ID)

			time.Sleep(5 * time.Millisecond)
		}

		runs, err := store.ListRuns(ctx, "ns1", "etl_job", catalog.Page{Limit: 2})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, ids[2], runs[0].ID)
		assert.Equal(t, ids[1], runs[1].ID)

		runs, err = store.ListRuns(ctx, "ns1", "etl_job", catalog.Page{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, ids[0], runs[0].ID)

		_, err = store.ListRuns(ctx, "ns1", "unknown", catalog.Page{})
		require.ErrorIs(t, err, catalog.ErrNotFound)
	}
}

func testRunStatesAppendOnly(ctx context.Context, store *CatalogStore, db *sql.DB) func(*testing.T) {
	return func(t *testing.T) {
		config.ResetTestDatabase(ctx, t, db)
		registerJob(ctx, t, store)

		run, err := store.CreateRun(ctx, "ns1", "etl_job", catalog.RunMeta{})
		require.NoError(t, err)

		_, err = db.ExecContext(ctx, `UPDATE run_states SET state = 'FAILED' WHERE run_uuid = $1`, run.ID)
		require.Error(t, err)

		_, err = db.ExecContext(ctx, `DELETE FROM run_states WHERE run_uuid = $1`, run.ID)
		require.Error(t, err)
	}
}
