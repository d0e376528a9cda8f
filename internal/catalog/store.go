package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type (
	// NamespaceStore persists namespaces and their ownership history.
	NamespaceStore interface {
		UpsertNamespace(ctx context.Context, name string, meta NamespaceMeta) (*Namespace, error)
		GetNamespace(ctx context.Context, name string) (*Namespace, error)
		ListNamespaces(ctx context.Context, page Page) ([]Namespace, error)
	}

	// SourceStore persists sources.
	SourceStore interface {
		UpsertSource(ctx context.Context, name string, meta SourceMeta) (*Source, error)
		GetSource(ctx context.Context, name string) (*Source, error)
		ListSources(ctx context.Context, page Page) ([]Source, error)
	}

	// TagStore persists tags.
	TagStore interface {
		UpsertTag(ctx context.Context, name string, meta TagMeta) (*Tag, error)
		ListTags(ctx context.Context, page Page) ([]Tag, error)
	}

	// DatasetStore persists datasets, their fields and their versions.
	//
	// UpsertDataset creates the namespace and a placeholder source if absent, upserts the
	// dataset and its fields, creates or reuses the version for the derived key and moves
	// the dataset's current version pointer, all in one transaction.
	DatasetStore interface {
		UpsertDataset(ctx context.Context, namespace, name string, meta DatasetMeta) (*Dataset, error)
		GetDataset(ctx context.Context, namespace, name string) (*Dataset, error)
		ListDatasets(ctx context.Context, namespace string, page Page) ([]Dataset, error)
		GetDatasetVersion(ctx context.Context, version uuid.UUID) (*DatasetVersion, error)
		TagDataset(ctx context.Context, namespace, name, tag string) (*Dataset, error)
		TagDatasetField(ctx context.Context, namespace, name, field, tag string) (*Dataset, error)
	}

	// JobStore persists jobs, job contexts and job versions.
	//
	// UpsertJob resolves input and output datasets (skipping unknown ones), creates or
	// reuses the content-addressed job version, and moves the job's current version
	// pointer in one transaction. When meta.RunID names an existing run, the run is
	// re-pointed at the version and its inputs are linked.
	JobStore interface {
		UpsertJob(ctx context.Context, namespace, name string, meta JobMeta) (*Job, error)
		GetJob(ctx context.Context, namespace, name string) (*Job, error)
		ListJobs(ctx context.Context, namespace string, page Page) ([]Job, error)
	}

	// RunStore persists runs and their append-only state log.
	//
	// MarkRunAs appends a state row and moves the run's pointers as PlanTransition decides,
	// then re-reads the run in the same transaction.
	RunStore interface {
		CreateRun(ctx context.Context, namespace, jobName string, meta RunMeta) (*Run, error)
		MarkRunAs(ctx context.Context, runID uuid.UUID, state RunState, at time.Time) (*Transition, error)
		GetRun(ctx context.Context, runID uuid.UUID) (*Run, error)
		ListRuns(ctx context.Context, namespace, jobName string, page Page) ([]Run, error)
		ListRunStates(ctx context.Context, runID uuid.UUID) ([]RunStateRecord, error)
		RunExists(ctx context.Context, runID uuid.UUID) (bool, error)
	}

	// Store is the full catalog persistence contract.
	Store interface {
		NamespaceStore
		SourceStore
		TagStore
		DatasetStore
		JobStore
		RunStore
		HealthCheck(ctx context.Context) error
		Close() error
	}

	// Transition is the result of MarkRunAs: the run as read back after commit and the
	// state it was in before.
	Transition struct {
		Run      *Run
		Previous RunState
		State    RunState
		At       time.Time
	}
)
