// Package catalog defines the lineage catalog's domain model: reference data (namespaces,
// sources, tags), datasets and their immutable versions, jobs and their content-addressed
// versions, and runs with their append-only state log.
//
// Types here are pure domain models without JSON tags; the API layer maps them onto its own
// request and response types.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

type (
	// DatasetType distinguishes batch tables from streams.
	DatasetType string

	// JobType classifies how a job executes.
	JobType string

	// IOType tags a job version's dataset linkage.
	IOType string

	// Namespace groups datasets and jobs. OwnerName points at the open row of the
	// append-only ownership history.
	Namespace struct {
		ID          uuid.UUID
		Name        string
		CreatedAt   time.Time
		UpdatedAt   time.Time
		Description string
		OwnerName   string
	}

	// Source is a physical system datasets live in.
	Source struct {
		ID            uuid.UUID
		Type          string
		Name          string
		ConnectionURL string
		Description   string
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// Tag labels datasets and dataset fields.
	Tag struct {
		ID          uuid.UUID
		Name        string
		Description string
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// Dataset is the mutable head of a dataset's version history. Fields is the field set of
	// CurrentVersion.
	Dataset struct {
		ID             uuid.UUID
		Namespace      string
		Name           string
		PhysicalName   string
		Type           DatasetType
		SourceName     string
		Description    string
		CreatedAt      time.Time
		UpdatedAt      time.Time
		LastModifiedAt *time.Time
		Tags           []string
		Fields         []DatasetField
		CurrentVersion *DatasetVersion
	}

	// DatasetField is unique per (dataset, name, type) and shared by every version that
	// carries it.
	DatasetField struct {
		ID          uuid.UUID
		Name        string
		Type        string
		Description string
		Tags        []string
	}

	// DatasetVersion is an immutable snapshot of a dataset's field set. RunID is set when
	// the version was produced by a run.
	DatasetVersion struct {
		ID        uuid.UUID
		DatasetID uuid.UUID
		Version   uuid.UUID
		CreatedAt time.Time
		Fields    []DatasetField
		RunID     *uuid.UUID
	}

	// DatasetID names a dataset within a namespace.
	DatasetID struct {
		Namespace string `validate:"required,max=1024"`
		Name      string `validate:"required,max=1024"`
	}

	// Job is the mutable head of a job's version history.
	Job struct {
		ID             uuid.UUID
		Namespace      string
		Name           string
		Type           JobType
		Description    string
		CreatedAt      time.Time
		UpdatedAt      time.Time
		CurrentVersion *JobVersion
	}

	// JobVersion is identified by its content key. Only LatestRunID changes after creation.
	JobVersion struct {
		ID          uuid.UUID
		JobID       uuid.UUID
		Version     uuid.UUID
		Location    string
		ContextID   uuid.UUID
		Context     map[string]string
		Inputs      []DatasetID
		Outputs     []DatasetID
		LatestRunID *uuid.UUID
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// Run is one execution of a job version. State, StartedAt and EndedAt are denormalized
	// from the run's state log.
	Run struct {
		ID               uuid.UUID
		CreatedAt        time.Time
		UpdatedAt        time.Time
		NominalStartTime *time.Time
		NominalEndTime   *time.Time
		State            RunState
		StartStateID     *uuid.UUID
		EndStateID       *uuid.UUID
		StartedAt        *time.Time
		EndedAt          *time.Time
		Args             map[string]string
		JobVersion       JobVersionRef
		InputVersions    []DatasetVersionRef
		OutputVersions   []DatasetVersionRef
	}

	// RunStateRecord is one row of a run's append-only state log.
	RunStateRecord struct {
		ID             uuid.UUID
		RunID          uuid.UUID
		State          RunState
		TransitionedAt time.Time
	}

	// JobVersionRef identifies the job version a run executed.
	JobVersionRef struct {
		Namespace string
		Name      string
		Version   uuid.UUID
	}

	// DatasetVersionRef identifies a dataset version a run consumed or produced.
	DatasetVersionRef struct {
		Namespace string
		Name      string
		Version   uuid.UUID
	}
)

const (
	DatasetTypeTable  DatasetType = "TABLE"
	DatasetTypeStream DatasetType = "STREAM"

	JobTypeBatch   JobType = "BATCH"
	JobTypeStream  JobType = "STREAM"
	JobTypeService JobType = "SERVICE"

	IOTypeInput  IOType = "INPUT"
	IOTypeOutput IOType = "OUTPUT"
)

// String implements fmt.Stringer.
func (id DatasetID) String() string {
	return id.Namespace + "/" + id.Name
}
