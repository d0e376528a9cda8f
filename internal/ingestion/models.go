// Package ingestion maps OpenLineage run events onto the catalog.
//
// Events are validated synchronously, queued on a Submitter and applied by its workers in
// foreign-key order: namespace, sources, datasets, job version, run, transition.
//
// Spec: https://openlineage.io/docs/spec/object-model
package ingestion

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/lineage-io/catalog/internal/catalog"
)

type (
	// RunEvent is an OpenLineage RunEvent as received over HTTP or from Kafka.
	// Facets are kept as raw JSON and read on demand.
	RunEvent struct {
		// EventTime is when the transition happened, not when it was received.
		EventTime time.Time `json:"eventTime"`

		// EventType is START, RUNNING, COMPLETE, FAIL, ABORT or OTHER.
		EventType EventType `json:"eventType" validate:"required,oneof=START RUNNING COMPLETE FAIL ABORT OTHER"`

		Producer  string `json:"producer,omitempty"`
		SchemaURL string `json:"schemaURL,omitempty"`

		Run     Run       `json:"run"`
		Job     Job       `json:"job"`
		Inputs  []Dataset `json:"inputs,omitempty"  validate:"dive"`
		Outputs []Dataset `json:"outputs,omitempty" validate:"dive"`
	}

	// EventType represents OpenLineage run states.
	// Spec: https://openlineage.io/docs/spec/run-cycle#run-states
	EventType string

	// Run identifies the run instance. The client keeps runId stable across the run's events.
	Run struct {
		ID     string          `json:"runId"            validate:"required,uuid"`
		Facets json.RawMessage `json:"facets,omitempty"`
	}

	// Job identifies the job definition by namespace and name.
	Job struct {
		Namespace string          `json:"namespace"        validate:"notblank,max=1024"`
		Name      string          `json:"name"             validate:"notblank,max=1024"`
		Facets    json.RawMessage `json:"facets,omitempty"`
	}

	// Dataset is an input or output of a run.
	Dataset struct {
		Namespace    string          `json:"namespace"              validate:"notblank,max=1024"`
		Name         string          `json:"name"                   validate:"notblank,max=1024"`
		Facets       json.RawMessage `json:"facets,omitempty"`
		InputFacets  json.RawMessage `json:"inputFacets,omitempty"`
		OutputFacets json.RawMessage `json:"outputFacets,omitempty"`
	}
)

const (
	// EventTypeStart indicates the beginning of a job execution.
	EventTypeStart EventType = "START"

	// EventTypeRunning provides additional information about a running job.
	EventTypeRunning EventType = "RUNNING"

	// EventTypeComplete signifies that execution of the job has concluded successfully.
	EventTypeComplete EventType = "COMPLETE"

	// EventTypeFail signifies that the job has failed.
	EventTypeFail EventType = "FAIL"

	// EventTypeAbort signifies that the job has been stopped abnormally.
	EventTypeAbort EventType = "ABORT"

	// EventTypeOther carries metadata outside the run cycle. Can be sent anytime, even before START.
	EventTypeOther EventType = "OTHER"
)

// IsTerminal reports whether the event ends the run.
func (et EventType) IsTerminal() bool {
	return et == EventTypeComplete || et == EventTypeFail || et == EventTypeAbort
}

// RunState maps the event type onto the catalog run state. OTHER has no run state.
func (et EventType) RunState() (catalog.RunState, bool) {
	switch et {
	case EventTypeStart:
		return catalog.RunStateNew, true
	case EventTypeRunning:
		return catalog.RunStateRunning, true
	case EventTypeComplete:
		return catalog.RunStateCompleted, true
	case EventTypeFail:
		return catalog.RunStateFailed, true
	case EventTypeAbort:
		return catalog.RunStateAborted, true
	default:
		return "", false
	}
}

// ID returns the catalog identity of the dataset.
func (d Dataset) ID() catalog.DatasetID {
	return catalog.DatasetID{Namespace: d.Namespace, Name: d.Name}
}

// SortEventsByTime returns a copy of events ordered by eventTime. Ties keep submission order.
//
// Events may arrive out of order because of network delays or producer retries; a batch is
// applied in the order the transitions actually happened.
func SortEventsByTime(events []*RunEvent) []*RunEvent {
	sorted := make([]*RunEvent, len(events))
	copy(sorted, events)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EventTime.Before(sorted[j].EventTime)
	})

	return sorted
}
