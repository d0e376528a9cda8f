package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lineage-io/catalog/internal/catalog"
	"github.com/lineage-io/catalog/internal/ingestion"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeStore implements the store methods the handlers call. The embedded interface is nil, so
// an unexpected call panics and is reported as a 500 by the recovery middleware.
type fakeStore struct {
	catalog.Store

	mu         sync.Mutex
	namespaces map[string]*catalog.Namespace
	datasets   map[string]*catalog.Dataset
	versions   map[uuid.UUID]*catalog.DatasetVersion
	runs       map[uuid.UUID]*catalog.Run
	lastPage   catalog.Page
	lastMeta   any
	err        error
	healthErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		namespaces: map[string]*catalog.Namespace{},
		datasets:   map[string]*catalog.Dataset{},
		versions:   map[uuid.UUID]*catalog.DatasetVersion{},
		runs:       map[uuid.UUID]*catalog.Run{},
	}
}

func (f *fakeStore) HealthCheck(context.Context) error {
	return f.healthErr
}

func (f *fakeStore) UpsertNamespace(_ context.Context, name string, meta catalog.NamespaceMeta) (*catalog.Namespace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.lastMeta = meta
	ns := &catalog.Namespace{
		ID: uuid.New(), Name: name, OwnerName: meta.OwnerName, Description: meta.Description,
		CreatedAt: fixedTime, UpdatedAt: fixedTime,
	}
	f.namespaces[name] = ns

	return ns, nil
}

func (f *fakeStore) GetNamespace(_ context.Context, name string) (*catalog.Namespace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ns, ok := f.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: namespace %q", catalog.ErrNotFound, name)
	}

	return ns, nil
}

func (f *fakeStore) ListNamespaces(_ context.Context, page catalog.Page) ([]catalog.Namespace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastPage = page

	out := make([]catalog.Namespace, 0, len(f.namespaces))
	for _, ns := range f.namespaces {
		out = append(out, *ns)
	}

	return out, f.err
}

func (f *fakeStore) ListTags(_ context.Context, page catalog.Page) ([]catalog.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastPage = page

	return []catalog.Tag{{Name: "pii", Description: "personal data"}}, f.err
}

func (f *fakeStore) UpsertDataset(_ context.Context, namespace, name string, meta catalog.DatasetMeta) (*catalog.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.lastMeta = meta
	ds := &catalog.Dataset{
		ID: uuid.New(), Namespace: namespace, Name: name, PhysicalName: meta.PhysicalName,
		Type: meta.TypeOrDefault(), SourceName: meta.SourceName, CreatedAt: fixedTime, UpdatedAt: fixedTime,
	}

	for _, field := range meta.Fields {
		ds.Fields = append(ds.Fields, catalog.DatasetField{ID: uuid.New(), Name: field.Name, Type: field.Type})
	}

	f.datasets[namespace+"/"+name] = ds

	return ds, nil
}

func (f *fakeStore) GetDataset(_ context.Context, namespace, name string) (*catalog.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ds, ok := f.datasets[namespace+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%w: dataset %s/%s", catalog.ErrNotFound, namespace, name)
	}

	return ds, nil
}

func (f *fakeStore) GetDatasetVersion(_ context.Context, version uuid.UUID) (*catalog.DatasetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: dataset version %s", catalog.ErrNotFound, version)
	}

	return v, nil
}

func (f *fakeStore) TagDatasetField(_ context.Context, namespace, name, field, tag string) (*catalog.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ds, ok := f.datasets[namespace+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%w: dataset %s/%s", catalog.ErrNotFound, namespace, name)
	}

	for i := range ds.Fields {
		if ds.Fields[i].Name == field {
			ds.Fields[i].Tags = append(ds.Fields[i].Tags, tag)

			return ds, nil
		}
	}

	return nil, fmt.Errorf("%w: field %q", catalog.ErrNotFound, field)
}

func (f *fakeStore) GetRun(_ context.Context, runID uuid.UUID) (*catalog.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", catalog.ErrNotFound, runID)
	}

	return run, nil
}

func (f *fakeStore) ListRunStates(_ context.Context, runID uuid.UUID) ([]catalog.RunStateRecord, error) {
	return []catalog.RunStateRecord{
		{RunID: runID, State: catalog.RunStateNew, TransitionedAt: fixedTime},
		{RunID: runID, State: catalog.RunStateRunning, TransitionedAt: fixedTime.Add(time.Minute)},
	}, nil
}

// fakeRuns records lifecycle calls.
type fakeRuns struct {
	mu       sync.Mutex
	created  []catalog.RunMeta
	marked   []catalog.RunState
	markedAt []time.Time
	err      error
}

func (f *fakeRuns) CreateRun(_ context.Context, namespace, jobName string, meta catalog.RunMeta) (*catalog.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.created = append(f.created, meta)

	id := uuid.New()
	if meta.ID != nil {
		id = *meta.ID
	}

	return &catalog.Run{
		ID: id, State: catalog.RunStateNew, CreatedAt: fixedTime, UpdatedAt: fixedTime,
		Args:       meta.Args,
		JobVersion: catalog.JobVersionRef{Namespace: namespace, Name: jobName, Version: uuid.New()},
	}, nil
}

func (f *fakeRuns) MarkRunAs(_ context.Context, runID uuid.UUID, state catalog.RunState, at time.Time) (*catalog.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.marked = append(f.marked, state)
	f.markedAt = append(f.markedAt, at)

	return &catalog.Run{ID: runID, State: state, StartedAt: &at, CreatedAt: fixedTime, UpdatedAt: at}, nil
}

// fakeQueue validates like the Submitter and records what was queued.
type fakeQueue struct {
	mu      sync.Mutex
	single  []*ingestion.RunEvent
	batches [][]*ingestion.RunEvent
	err     error
}

func (f *fakeQueue) Submit(event *ingestion.RunEvent) error {
	if err := ingestion.ValidateRunEvent(event); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.single = append(f.single, event)

	return nil
}

func (f *fakeQueue) SubmitBatch(events []*ingestion.RunEvent) (int, error) {
	for i, event := range events {
		if err := ingestion.ValidateRunEvent(event); err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}

	f.batches = append(f.batches, events)

	return len(events), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type testEnv struct {
	server *Server
	store  *fakeStore
	runs   *fakeRuns
	queue  *fakeQueue
}

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		Host:            "127.0.0.1",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
		LogLevel:        slog.LevelInfo,
		MaxRequestSize:  64 * 1024,
		CORS:            CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

func newTestEnv(t *testing.T, mutate ...func(*ServerConfig)) *testEnv {
	t.Helper()

	cfg := testServerConfig()
	for _, m := range mutate {
		m(cfg)
	}

	env := &testEnv{store: newFakeStore(), runs: &fakeRuns{}, queue: &fakeQueue{}}

	server, err := NewServer(cfg, Dependencies{
		Store:   env.store,
		Runs:    env.runs,
		Lineage: env.queue,
	}, WithVersion("v-test"), WithServerLogger(testLogger()))
	require.NoError(t, err)

	env.server = server

	return env
}
