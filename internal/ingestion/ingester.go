package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lineage-io/catalog/internal/catalog"
	"github.com/lineage-io/catalog/internal/config"
)

type (
	// Catalog is the subset of the catalog store that ingestion writes through.
	Catalog interface {
		UpsertNamespace(ctx context.Context, name string, meta catalog.NamespaceMeta) (*catalog.Namespace, error)
		GetSource(ctx context.Context, name string) (*catalog.Source, error)
		UpsertSource(ctx context.Context, name string, meta catalog.SourceMeta) (*catalog.Source, error)
		GetDataset(ctx context.Context, namespace, name string) (*catalog.Dataset, error)
		UpsertDataset(ctx context.Context, namespace, name string, meta catalog.DatasetMeta) (*catalog.Dataset, error)
		UpsertJob(ctx context.Context, namespace, name string, meta catalog.JobMeta) (*catalog.Job, error)
		RunExists(ctx context.Context, runID uuid.UUID) (bool, error)
	}

	// Runs creates runs and records transitions. *lifecycle.RunLifecycle implements it, so
	// ingested transitions reach the configured listeners.
	Runs interface {
		CreateRun(ctx context.Context, namespace, jobName string, meta catalog.RunMeta) (*catalog.Run, error)
		MarkRunAs(ctx context.Context, runID uuid.UUID, state catalog.RunState, at time.Time) (*catalog.Run, error)
	}

	// DatasetResolver maps a reported dataset id onto its canonical id.
	// *aliasing.Resolver implements it.
	DatasetResolver interface {
		Resolve(id catalog.DatasetID) catalog.DatasetID
	}

	// Ingester applies lineage events to the catalog.
	Ingester struct {
		catalog  Catalog
		runs     Runs
		resolver DatasetResolver
		logger   *slog.Logger
	}

	// IngesterOption configures optional Ingester behavior.
	IngesterOption func(*Ingester)
)

// WithIngesterLogger sets the ingester's logger.
func WithIngesterLogger(logger *slog.Logger) IngesterOption {
	return func(i *Ingester) {
		i.logger = logger
	}
}

// WithResolver canonicalizes dataset ids before they are written.
func WithResolver(resolver DatasetResolver) IngesterOption {
	return func(i *Ingester) {
		i.resolver = resolver
	}
}

// NewIngester returns an Ingester writing through store and runs.
func NewIngester(store Catalog, runs Runs, opts ...IngesterOption) *Ingester {
	i := &Ingester{
		catalog: store,
		runs:    runs,
		logger:  config.DefaultLogger(),
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Ingest applies one event. Dataset ids are canonicalized by the resolver first, when one is
// configured. Each step is its own catalog transaction and the steps follow foreign-key order,
// so a failure part way leaves only complete rows behind and the event can be retried:
//
//  1. the job namespace
//  2. the source of every dataset
//  3. input datasets
//  4. output datasets (a COMPLETE event attributes the new output versions to the run)
//  5. the job version, linked to the run when the run already exists
//  6. the run, created with the event's runId when absent
//  7. the transition for the event type
//
// OTHER events stop after step 5.
func (i *Ingester) Ingest(ctx context.Context, event *RunEvent) error {
	if err := ValidateRunEvent(event); err != nil {
		return err
	}

	runID := uuid.MustParse(event.Run.ID)
	logger := i.logger.With(
		slog.String("run_id", runID.String()),
		slog.String("event_type", string(event.EventType)),
		slog.String("job", event.Job.Namespace+"/"+event.Job.Name),
	)

	if version := ExtractOpenLineageVersion(event.SchemaURL); version != "" {
		logger = logger.With(slog.String("openlineage_version", version))
	}

	if _, err := i.catalog.UpsertNamespace(ctx, event.Job.Namespace, catalog.NamespaceMeta{}); err != nil {
		return fmt.Errorf("failed to upsert namespace: %w", err)
	}

	inputDatasets := i.resolve(event.Inputs)
	outputDatasets := i.resolve(event.Outputs)

	if err := i.ensureSources(ctx, append(append([]Dataset{}, inputDatasets...), outputDatasets...)); err != nil {
		return err
	}

	inputs, err := i.upsertDatasets(ctx, inputDatasets, nil)
	if err != nil {
		return err
	}

	var producer *uuid.UUID
	if event.EventType == EventTypeComplete {
		producer = &runID
	}

	outputs, err := i.upsertDatasets(ctx, outputDatasets, producer)
	if err != nil {
		return err
	}

	exists, err := i.catalog.RunExists(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to look up run: %w", err)
	}

	meta := jobMeta(event.Job, inputs, outputs)
	if exists {
		meta.RunID = &runID
	}

	job, err := i.catalog.UpsertJob(ctx, event.Job.Namespace, event.Job.Name, meta)
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}

	if job.CurrentVersion != nil {
		logger = logger.With(slog.String("job_version", job.CurrentVersion.Version.String()))
	}

	state, ok := event.EventType.RunState()
	if !ok {
		logger.DebugContext(ctx, "applied metadata event")

		return nil
	}

	if !exists {
		if err := i.createRun(ctx, event, runID); err != nil {
			return err
		}
	}

	// NEW is recorded by run creation.
	if state != catalog.RunStateNew {
		if _, err := i.runs.MarkRunAs(ctx, runID, state, event.EventTime.UTC()); err != nil {
			return fmt.Errorf("failed to mark run as %s: %w", state, err)
		}
	}

	logger.InfoContext(ctx, "ingested lineage event",
		slog.Int("inputs", len(inputs)),
		slog.Int("outputs", len(outputs)),
	)

	return nil
}

func (i *Ingester) createRun(ctx context.Context, event *RunEvent, runID uuid.UUID) error {
	_, err := i.runs.CreateRun(ctx, event.Job.Namespace, event.Job.Name, runMeta(event.Run, runID))

	// Another worker created the run between the existence check and the insert.
	if errors.Is(err, catalog.ErrConflict) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// ensureSources creates every referenced source that does not exist yet. A source already
// present keeps its registered connection details unless it is a bare placeholder.
func (i *Ingester) ensureSources(ctx context.Context, datasets []Dataset) error {
	seen := map[string]bool{}

	for _, dataset := range datasets {
		name, meta := datasetSource(dataset)
		if seen[name] {
			continue
		}

		seen[name] = true

		existing, err := i.catalog.GetSource(ctx, name)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("failed to look up source %q: %w", name, err)
		}

		if existing != nil && existing.ConnectionURL != "" {
			continue
		}

		if _, err := i.catalog.UpsertSource(ctx, name, meta); err != nil {
			return fmt.Errorf("failed to upsert source %q: %w", name, err)
		}
	}

	return nil
}

func (i *Ingester) resolve(datasets []Dataset) []Dataset {
	if i.resolver == nil || len(datasets) == 0 {
		return datasets
	}

	resolved := make([]Dataset, len(datasets))
	for idx, dataset := range datasets {
		canonical := i.resolver.Resolve(dataset.ID())
		dataset.Namespace, dataset.Name = canonical.Namespace, canonical.Name
		resolved[idx] = dataset
	}

	return resolved
}

// upsertDatasets writes the event's datasets and returns their ids. A dataset that already
// exists and carries no schema or version facet keeps its current version.
func (i *Ingester) upsertDatasets(
	ctx context.Context,
	datasets []Dataset,
	producer *uuid.UUID,
) ([]catalog.DatasetID, error) {
	ids := make([]catalog.DatasetID, 0, len(datasets))

	for _, dataset := range datasets {
		ids = append(ids, dataset.ID())

		if producer == nil && !hasVersionFacets(dataset) {
			_, err := i.catalog.GetDataset(ctx, dataset.Namespace, dataset.Name)
			if err == nil {
				continue
			}

			if !errors.Is(err, catalog.ErrNotFound) {
				return nil, fmt.Errorf("failed to look up dataset %s: %w", dataset.ID(), err)
			}
		}

		sourceName, _ := datasetSource(dataset)

		meta := datasetMeta(dataset, sourceName)
		meta.RunID = producer

		if _, err := i.catalog.UpsertDataset(ctx, dataset.Namespace, dataset.Name, meta); err != nil {
			return nil, fmt.Errorf("failed to upsert dataset %s: %w", dataset.ID(), err)
		}
	}

	return ids, nil
}
