package ingestion

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lineage-io/catalog/internal/catalog"
	"github.com/lineage-io/catalog/internal/config"
	"github.com/lineage-io/catalog/internal/lifecycle"
	"github.com/lineage-io/catalog/internal/storage"
)

type transitionRecorder struct {
	mu      sync.Mutex
	states  []catalog.RunState
	outputs []catalog.DatasetVersionRef
}

func (r *transitionRecorder) Name() string { return "recorder" }

func (r *transitionRecorder) OnInputUpdate(context.Context, catalog.InputUpdate) error { return nil }

func (r *transitionRecorder) OnOutputUpdate(_ context.Context, update catalog.OutputUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outputs = append(r.outputs, update.Outputs...)

	return nil
}

func (r *transitionRecorder) OnTransition(_ context.Context, transition catalog.RunTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = append(r.states, transition.New)

	return nil
}

func TestIngestionIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	store, err := storage.NewCatalogStore(&storage.Connection{DB: testDB.Connection}, storage.WithLogger(quietLogger()))
	require.NoError(t, err)

	recorder := &transitionRecorder{}
	runs := lifecycle.New(store, []catalog.Listener{recorder}, lifecycle.WithLogger(quietLogger()))
	ingester := NewIngester(store, runs, WithIngesterLogger(quietLogger()))
	submitter := NewSubmitter(ingester, 2, 16, WithSubmitterLogger(quietLogger()))
	submitter.Start(ctx)

	runID := uuid.New()
	base := time.Now().UTC().Truncate(time.Second)

	start := eventFor(runID.String(), EventTypeStart, base)
	start.Job.Facets = json.RawMessage(`{"sql": {"query": "INSERT INTO analytics.public.orders SELECT * FROM raw.public.orders"}}`)
	start.Inputs[0].Facets = json.RawMessage(`{"schema": {"fields": [{"name": "id", "type": "INT"}, {"name": "amount", "type": "NUMERIC"}]}}`)
	start.Outputs = nil

	running := eventFor(runID.String(), EventTypeRunning, base.Add(time.Minute))
	running.Job.Facets = start.Job.Facets
	running.Outputs = nil

	complete := eventFor(runID.String(), EventTypeComplete, base.Add(2*time.Minute))
	complete.Job.Facets = start.Job.Facets
	complete.Outputs[0].Facets = json.RawMessage(`{"schema": {"fields": [{"name": "id", "type": "INT"}]}}`)

	queued, err := submitter.SubmitBatch([]*RunEvent{complete, start, running})
	require.NoError(t, err)
	require.Equal(t, 3, queued)

	closeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	require.NoError(t, submitter.Close(closeCtx))

	run, err := store.GetRun(ctx, runID)
	require.NoError(t, err)

	assert.Equal(t, catalog.RunStateCompleted, run.State)
	require.NotNil(t, run.StartedAt)
	assert.True(t, run.StartedAt.Equal(base.Add(time.Minute)))
	require.NotNil(t, run.EndedAt)
	assert.True(t, run.EndedAt.Equal(base.Add(2*time.Minute)))

	require.Len(t, run.InputVersions, 1)
	assert.Equal(t, "raw.public.orders", run.InputVersions[0].Name)
	require.Len(t, run.OutputVersions, 1)
	assert.Equal(t, "analytics.public.orders", run.OutputVersions[0].Name)

	job, err := store.GetJob(ctx, "dbt://analytics", "transform_orders")
	require.NoError(t, err)
	require.NotNil(t, job.CurrentVersion)
	assert.Equal(t, run.JobVersion.Version, job.CurrentVersion.Version)
	assert.Equal(t, map[string]string{"sql": "INSERT INTO analytics.public.orders SELECT * FROM raw.public.orders"},
		job.CurrentVersion.Context)
	assert.Contains(t, job.CurrentVersion.Outputs,
		catalog.DatasetID{Namespace: "postgres://prod-db:5432", Name: "analytics.public.orders"})

	source, err := store.GetSource(ctx, "postgresql://prod-db")
	require.NoError(t, err)
	assert.Equal(t, "POSTGRESQL", source.Type)

	output, err := store.GetDataset(ctx, "postgres://prod-db:5432", "analytics.public.orders")
	require.NoError(t, err)
	require.NotNil(t, output.CurrentVersion)
	require.NotNil(t, output.CurrentVersion.RunID)
	assert.Equal(t, runID, *output.CurrentVersion.RunID)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()

	assert.Equal(t, []catalog.RunState{catalog.RunStateNew, catalog.RunStateRunning, catalog.RunStateCompleted},
		recorder.states)
	require.Len(t, recorder.outputs, 1)
	assert.Equal(t, output.CurrentVersion.Version, recorder.outputs[0].Version)
}
