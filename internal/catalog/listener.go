package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type (
	// Listener observes run activity. Listeners are supplied to the run lifecycle at
	// construction and invoked after the triggering transaction commits. A returned error is
	// logged and never propagates to the caller.
	Listener interface {
		Name() string
		OnInputUpdate(ctx context.Context, update InputUpdate) error
		OnOutputUpdate(ctx context.Context, update OutputUpdate) error
		OnTransition(ctx context.Context, transition RunTransition) error
	}

	// InputUpdate announces the dataset versions a run consumed.
	InputUpdate struct {
		RunID      uuid.UUID
		JobVersion JobVersionRef
		Inputs     []DatasetVersionRef
	}

	// OutputUpdate announces the dataset versions a completed run produced.
	OutputUpdate struct {
		RunID      uuid.UUID
		JobVersion JobVersionRef
		Outputs    []DatasetVersionRef
	}

	// RunTransition announces a state change. Previous is nil for a newly created run.
	RunTransition struct {
		RunID          uuid.UUID
		JobVersion     JobVersionRef
		Previous       *RunState
		New            RunState
		TransitionedAt time.Time
	}
)
