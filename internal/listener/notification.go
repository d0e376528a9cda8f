// Package listener provides catalog.Listener implementations: structured logging, Kafka topic
// publishing and Redis pub/sub. All of them share one JSON notification envelope.
package listener

import (
	"encoding/json"
	"time"

	"github.com/lineage-io/catalog/internal/catalog"
)

// Notification types carried in the envelope's type field.
const (
	TypeTransition   = "RUN_TRANSITION"
	TypeInputUpdate  = "RUN_INPUTS"
	TypeOutputUpdate = "RUN_OUTPUTS"
)

type (
	// Notification is the wire envelope published by the Kafka and Redis listeners.
	Notification struct {
		Type           string       `json:"type"`
		RunID          string       `json:"runId"`
		JobVersion     VersionRef   `json:"jobVersion"`
		PreviousState  string       `json:"previousState,omitempty"`
		NewState       string       `json:"newState,omitempty"`
		TransitionedAt *time.Time   `json:"transitionedAt,omitempty"`
		Datasets       []VersionRef `json:"datasets,omitempty"`
		EmittedAt      time.Time    `json:"emittedAt"`
	}

	// VersionRef identifies a job or dataset version on the wire.
	VersionRef struct {
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
		Version   string `json:"version"`
	}
)

func transitionNotification(transition catalog.RunTransition) Notification {
	notification := Notification{
		Type:           TypeTransition,
		RunID:          transition.RunID.String(),
		JobVersion:     jobRef(transition.JobVersion),
		NewState:       string(transition.New),
		TransitionedAt: &transition.TransitionedAt,
		EmittedAt:      time.Now().UTC(),
	}

	if transition.Previous != nil {
		notification.PreviousState = string(*transition.Previous)
	}

	return notification
}

func inputNotification(update catalog.InputUpdate) Notification {
	return Notification{
		Type:       TypeInputUpdate,
		RunID:      update.RunID.String(),
		JobVersion: jobRef(update.JobVersion),
		Datasets:   datasetRefs(update.Inputs),
		EmittedAt:  time.Now().UTC(),
	}
}

func outputNotification(update catalog.OutputUpdate) Notification {
	return Notification{
		Type:       TypeOutputUpdate,
		RunID:      update.RunID.String(),
		JobVersion: jobRef(update.JobVersion),
		Datasets:   datasetRefs(update.Outputs),
		EmittedAt:  time.Now().UTC(),
	}
}

func jobRef(ref catalog.JobVersionRef) VersionRef {
	return VersionRef{Namespace: ref.Namespace, Name: ref.Name, Version: ref.Version.String()}
}

func datasetRefs(refs []catalog.DatasetVersionRef) []VersionRef {
	out := make([]VersionRef, len(refs))
	for i, ref := range refs {
		out[i] = VersionRef{Namespace: ref.Namespace, Name: ref.Name, Version: ref.Version.String()}
	}

	return out
}

func encode(notification Notification) ([]byte, error) {
	return json.Marshal(notification)
}
