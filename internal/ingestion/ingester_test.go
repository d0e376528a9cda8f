package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lineage-io/catalog/internal/catalog"
)

type (
	fakeCatalog struct {
		mu       sync.Mutex
		calls    []string
		sources  map[string]catalog.Source
		datasets map[string]catalog.DatasetMeta
		jobs     map[string]catalog.JobMeta
		runs     map[uuid.UUID]bool
		failOn   string
	}

	fakeRuns struct {
		mu          sync.Mutex
		catalog     *fakeCatalog
		created     []catalog.RunMeta
		transitions []catalog.RunState
		createErr   error
	}
)

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		sources:  map[string]catalog.Source{},
		datasets: map[string]catalog.DatasetMeta{},
		jobs:     map[string]catalog.JobMeta{},
		runs:     map[uuid.UUID]bool{},
	}
}

func (f *fakeCatalog) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)
	if f.failOn != "" && f.failOn == call {
		return fmt.Errorf("%w: injected failure", catalog.ErrPersistence)
	}

	return nil
}

func (f *fakeCatalog) UpsertNamespace(_ context.Context, name string, _ catalog.NamespaceMeta) (*catalog.Namespace, error) {
	if err := f.record("namespace:" + name); err != nil {
		return nil, err
	}

	return &catalog.Namespace{Name: name}, nil
}

func (f *fakeCatalog) GetSource(_ context.Context, name string) (*catalog.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	source, ok := f.sources[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}

	return &source, nil
}

func (f *fakeCatalog) UpsertSource(_ context.Context, name string, meta catalog.SourceMeta) (*catalog.Source, error) {
	if err := f.record("source:" + name); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sources[name] = catalog.Source{Name: name, Type: meta.Type, ConnectionURL: meta.ConnectionURL}
	source := f.sources[name]

	return &source, nil
}

func (f *fakeCatalog) GetDataset(_ context.Context, namespace, name string) (*catalog.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.datasets[namespace+"/"+name]; !ok {
		return nil, catalog.ErrNotFound
	}

	return &catalog.Dataset{Namespace: namespace, Name: name}, nil
}

func (f *fakeCatalog) UpsertDataset(
	_ context.Context,
	namespace, name string,
	meta catalog.DatasetMeta,
) (*catalog.Dataset, error) {
	if err := f.record("dataset:" + namespace + "/" + name); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.datasets[namespace+"/"+name] = meta

	return &catalog.Dataset{Namespace: namespace, Name: name}, nil
}

func (f *fakeCatalog) UpsertJob(_ context.Context, namespace, name string, meta catalog.JobMeta) (*catalog.Job, error) {
	if err := f.record("job:" + namespace + "/" + name); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.jobs[namespace+"/"+name] = meta

	return &catalog.Job{
		Namespace:      namespace,
		Name:           name,
		CurrentVersion: &catalog.JobVersion{Version: uuid.New()},
	}, nil
}

func (f *fakeCatalog) RunExists(_ context.Context, runID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.runs[runID], nil
}

func (r *fakeRuns) CreateRun(_ context.Context, namespace, jobName string, meta catalog.RunMeta) (*catalog.Run, error) {
	if err := r.catalog.record("run:" + namespace + "/" + jobName); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return nil, r.createErr
	}

	r.created = append(r.created, meta)

	r.catalog.mu.Lock()
	r.catalog.runs[*meta.ID] = true
	r.catalog.mu.Unlock()

	return &catalog.Run{ID: *meta.ID, State: catalog.RunStateNew}, nil
}

func (r *fakeRuns) MarkRunAs(_ context.Context, runID uuid.UUID, state catalog.RunState, _ time.Time) (*catalog.Run, error) {
	if err := r.catalog.record("mark:" + string(state)); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.transitions = append(r.transitions, state)

	return &catalog.Run{ID: runID, State: state}, nil
}

func newTestIngester() (*Ingester, *fakeCatalog, *fakeRuns) {
	store := newFakeCatalog()
	runs := &fakeRuns{catalog: store}
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	return NewIngester(store, runs, WithIngesterLogger(logger)), store, runs
}

func TestIngest_StartCreatesRunInDependencyOrder(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ingester, store, runs := newTestIngester()
	event := validEvent()
	event.EventType = EventTypeStart
	event.Run.Facets = json.RawMessage(`{"args": {"date": "2026-03-01"}}`)

	require.NoError(t, ingester.Ingest(context.Background(), event))

	assert.Equal(t, []string{
		"namespace:dbt://analytics",
		"source:postgresql://prod-db",
		"dataset:postgres://prod-db:5432/raw.public.orders",
		"dataset:postgres://prod-db:5432/analytics.public.orders",
		"job:dbt://analytics/transform_orders",
		"run:dbt://analytics/transform_orders",
	}, store.calls)

	require.Len(t, runs.created, 1)
	assert.Equal(t, testRunID, runs.created[0].ID.String())
	assert.Equal(t, map[string]string{"date": "2026-03-01"}, runs.created[0].Args)
	assert.Empty(t, runs.transitions, "START is recorded by run creation")

	job := store.jobs["dbt://analytics/transform_orders"]
	assert.Nil(t, job.RunID, "the run did not exist when the job was upserted")
	assert.Equal(t, []catalog.DatasetID{{Namespace: "postgres://prod-db:5432", Name: "raw.public.orders"}}, job.Inputs)
	assert.Nil(t, store.datasets["postgres://prod-db:5432/analytics.public.orders"].RunID)
}

func TestIngest_CompleteAttributesOutputsToRun(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ingester, store, runs := newTestIngester()
	start := validEvent()
	start.EventType = EventTypeStart

	require.NoError(t, ingester.Ingest(context.Background(), start))

	complete := validEvent()
	complete.EventTime = start.EventTime.Add(time.Minute)

	require.NoError(t, ingester.Ingest(context.Background(), complete))

	assert.Len(t, runs.created, 1, "an existing run is not created again")
	assert.Equal(t, []catalog.RunState{catalog.RunStateCompleted}, runs.transitions)

	output := store.datasets["postgres://prod-db:5432/analytics.public.orders"]
	require.NotNil(t, output.RunID)
	assert.Equal(t, testRunID, output.RunID.String())

	job := store.jobs["dbt://analytics/transform_orders"]
	require.NotNil(t, job.RunID, "an existing run is linked to the job version")
	assert.Equal(t, testRunID, job.RunID.String())
}

func TestIngest_ExistingDatasetWithoutFacetsKeepsVersion(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ingester, store, _ := newTestIngester()
	store.datasets["postgres://prod-db:5432/raw.public.orders"] = catalog.DatasetMeta{}
	store.sources["postgresql://prod-db"] = catalog.Source{Name: "postgresql://prod-db", ConnectionURL: "postgresql://prod-db"}

	event := validEvent()
	event.EventType = EventTypeRunning

	require.NoError(t, ingester.Ingest(context.Background(), event))

	assert.NotContains(t, store.calls, "dataset:postgres://prod-db:5432/raw.public.orders")
	assert.NotContains(t, store.calls, "source:postgresql://prod-db", "registered sources are kept")
	assert.Contains(t, store.calls, "dataset:postgres://prod-db:5432/analytics.public.orders")
}

func TestIngest_SchemaFacetCreatesNewVersionForExistingDataset(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ingester, store, _ := newTestIngester()
	store.datasets["postgres://prod-db:5432/raw.public.orders"] = catalog.DatasetMeta{}

	event := validEvent()
	event.EventType = EventTypeStart
	event.Inputs[0].Facets = json.RawMessage(`{"schema": {"fields": [{"name": "id", "type": "INT"}]}}`)

	require.NoError(t, ingester.Ingest(context.Background(), event))

	input := store.datasets["postgres://prod-db:5432/raw.public.orders"]
	assert.Equal(t, []catalog.FieldMeta{{Name: "id", Type: "INT"}}, input.Fields)
	assert.Equal(t, "postgresql://prod-db", input.SourceName)
}

func TestIngest_OtherOnlyUpsertsMetadata(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ingester, store, runs := newTestIngester()
	event := validEvent()
	event.EventType = EventTypeOther

	require.NoError(t, ingester.Ingest(context.Background(), event))

	assert.Contains(t, store.calls, "job:dbt://analytics/transform_orders")
	assert.Empty(t, runs.created)
	assert.Empty(t, runs.transitions)
}

func TestIngest_TerminalWithoutStartCreatesRunThenMarks(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ingester, store, runs := newTestIngester()
	event := validEvent()
	event.EventType = EventTypeFail

	require.NoError(t, ingester.Ingest(context.Background(), event))

	assert.Equal(t, []string{"run:dbt://analytics/transform_orders", "mark:FAILED"}, store.calls[len(store.calls)-2:])
	assert.Len(t, runs.created, 1)
	assert.Nil(t, store.datasets["postgres://prod-db:5432/analytics.public.orders"].RunID,
		"only COMPLETE attributes outputs to the run")
}

func TestIngest_ConcurrentRunCreationIsTolerated(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ingester, _, runs := newTestIngester()
	runs.createErr = fmt.Errorf("%w: run already exists", catalog.ErrConflict)

	event := validEvent()
	event.EventType = EventTypeRunning

	require.NoError(t, ingester.Ingest(context.Background(), event))
	assert.Equal(t, []catalog.RunState{catalog.RunStateRunning}, runs.transitions)
}

func TestIngest_StopsAtFirstFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ingester, store, runs := newTestIngester()
	store.failOn = "job:dbt://analytics/transform_orders"

	err := ingester.Ingest(context.Background(), validEvent())

	require.ErrorIs(t, err, catalog.ErrPersistence)
	assert.Empty(t, runs.created, "no run is inserted after a failed job upsert")
	assert.Empty(t, runs.transitions)
}

func TestIngest_RejectsInvalidEvent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ingester, store, _ := newTestIngester()
	event := validEvent()
	event.Run.ID = "not-a-uuid"

	err := ingester.Ingest(context.Background(), event)

	require.ErrorIs(t, err, catalog.ErrValidation)
	assert.Empty(t, store.calls)
	assert.False(t, errors.Is(err, catalog.ErrPersistence))
}

type renamingResolver map[string]catalog.DatasetID

func (r renamingResolver) Resolve(id catalog.DatasetID) catalog.DatasetID {
	if canonical, ok := r[id.String()]; ok {
		return canonical
	}

	return id
}

func TestIngest_ResolvesDatasetAliases(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeCatalog()
	runs := &fakeRuns{catalog: store}
	canonical := catalog.DatasetID{Namespace: "postgresql://warehouse", Name: "analytics.orders"}
	resolver := renamingResolver{"postgres://prod-db:5432/analytics.public.orders": canonical}

	ingester := NewIngester(store, runs, WithResolver(resolver), WithIngesterLogger(quietLogger()))

	require.NoError(t, ingester.Ingest(context.Background(), validEvent()))

	assert.Contains(t, store.calls, "source:postgresql://warehouse")
	assert.Contains(t, store.calls, "dataset:postgresql://warehouse/analytics.orders")
	assert.NotContains(t, store.calls, "dataset:postgres://prod-db:5432/analytics.public.orders")
	assert.Equal(t, []catalog.DatasetID{canonical}, store.jobs["dbt://analytics/transform_orders"].Outputs)
}
