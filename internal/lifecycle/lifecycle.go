// Package lifecycle drives the run state machine and fans notifications out to listeners.
//
// Listeners are supplied at construction. They are called after the store transaction has
// committed, synchronously and in registration order; a failing or panicking listener is
// logged and skipped, and never affects the caller or the remaining listeners.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lineage-io/catalog/internal/catalog"
	"github.com/lineage-io/catalog/internal/config"
)

const defaultNotifyTimeout = 5 * time.Second

const (
	notifyTransition   = "transition"
	notifyInputUpdate  = "input_update"
	notifyOutputUpdate = "output_update"
)

type (
	// RunLifecycle creates runs and records their transitions.
	RunLifecycle struct {
		store         catalog.RunStore
		listeners     []catalog.Listener
		logger        *slog.Logger
		notifyTimeout time.Duration
	}

	// Option configures optional RunLifecycle behavior.
	Option func(*RunLifecycle)
)

// WithLogger sets the lifecycle's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *RunLifecycle) {
		l.logger = logger
	}
}

// WithNotifyTimeout bounds each individual listener call.
func WithNotifyTimeout(timeout time.Duration) Option {
	return func(l *RunLifecycle) {
		l.notifyTimeout = timeout
	}
}

// New returns a RunLifecycle over store notifying listeners in the given order.
func New(store catalog.RunStore, listeners []catalog.Listener, opts ...Option) *RunLifecycle {
	l := &RunLifecycle{
		store:         store,
		listeners:     append([]catalog.Listener(nil), listeners...),
		logger:        config.DefaultLogger(),
		notifyTimeout: defaultNotifyTimeout,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Listeners returns the names of the registered listeners.
func (l *RunLifecycle) Listeners() []string {
	names := make([]string, len(l.listeners))
	for i, listener := range l.listeners {
		names[i] = listener.Name()
	}

	return names
}

// CreateRun creates a run in NEW for the job's current version and announces the transition.
func (l *RunLifecycle) CreateRun(
	ctx context.Context,
	namespace, jobName string,
	meta catalog.RunMeta,
) (*catalog.Run, error) {
	run, err := l.store.CreateRun(ctx, namespace, jobName, meta)
	if err != nil {
		return nil, err
	}

	l.notify(ctx, notifyTransition, run.ID, func(ctx context.Context, listener catalog.Listener) error {
		return listener.OnTransition(ctx, catalog.RunTransition{
			RunID:          run.ID,
			JobVersion:     run.JobVersion,
			New:            catalog.RunStateNew,
			TransitionedAt: run.CreatedAt,
		})
	})

	return run, nil
}

// MarkRunAs appends state to the run's log and announces it. RUNNING additionally announces
// the run's known inputs; a terminal state announces the outputs the run produced. Repeated
// terminal states are accepted and announced again.
func (l *RunLifecycle) MarkRunAs(
	ctx context.Context,
	runID uuid.UUID,
	state catalog.RunState,
	at time.Time,
) (*catalog.Run, error) {
	transition, err := l.store.MarkRunAs(ctx, runID, state, at)
	if err != nil {
		return nil, err
	}

	run := transition.Run
	previous := transition.Previous

	l.notify(ctx, notifyTransition, runID, func(ctx context.Context, listener catalog.Listener) error {
		return listener.OnTransition(ctx, catalog.RunTransition{
			RunID:          runID,
			JobVersion:     run.JobVersion,
			Previous:       &previous,
			New:            state,
			TransitionedAt: transition.At,
		})
	})

	switch {
	case state == catalog.RunStateRunning:
		l.notify(ctx, notifyInputUpdate, runID, func(ctx context.Context, listener catalog.Listener) error {
			return listener.OnInputUpdate(ctx, catalog.InputUpdate{
				RunID:      runID,
				JobVersion: run.JobVersion,
				Inputs:     run.InputVersions,
			})
		})
	case state.IsTerminal():
		l.notify(ctx, notifyOutputUpdate, runID, func(ctx context.Context, listener catalog.Listener) error {
			return listener.OnOutputUpdate(ctx, catalog.OutputUpdate{
				RunID:      runID,
				JobVersion: run.JobVersion,
				Outputs:    run.OutputVersions,
			})
		})
	}

	return run, nil
}

// notify calls every listener in order. The caller's cancellation does not reach listeners:
// the triggering write has already committed.
func (l *RunLifecycle) notify(
	ctx context.Context,
	kind string,
	runID uuid.UUID,
	call func(context.Context, catalog.Listener) error,
) {
	base := context.WithoutCancel(ctx)

	for _, listener := range l.listeners {
		if err := l.callListener(base, listener, call); err != nil {
			l.logger.Error("listener notification failed",
				slog.String("listener", listener.Name()),
				slog.String("notification", kind),
				slog.String("run_id", runID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (l *RunLifecycle) callListener(
	ctx context.Context,
	listener catalog.Listener,
	call func(context.Context, catalog.Listener) error,
) (err error) {
	ctx, cancel := context.WithTimeout(ctx, l.notifyTimeout)
	defer cancel()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %s panicked: %v", catalog.ErrListener, listener.Name(), recovered)
		}
	}()

	if err := call(ctx, listener); err != nil {
		return fmt.Errorf("%w: %s: %w", catalog.ErrListener, listener.Name(), err)
	}

	return nil
}
