package listener

import (
	"context"
	"log/slog"

	"github.com/lineage-io/catalog/internal/catalog"
)

// LogListener writes every notification to a structured logger.
type LogListener struct {
	logger *slog.Logger
}

var _ catalog.Listener = (*LogListener)(nil)

// NewLogListener returns a listener logging to logger.
func NewLogListener(logger *slog.Logger) *LogListener {
	return &LogListener{logger: logger}
}

// Name implements catalog.Listener.
func (l *LogListener) Name() string {
	return "log"
}

// OnInputUpdate implements catalog.Listener.
func (l *LogListener) OnInputUpdate(ctx context.Context, update catalog.InputUpdate) error {
	l.logger.InfoContext(ctx, "run inputs updated",
		slog.String("run_id", update.RunID.String()),
		slog.String("job_version", update.JobVersion.Version.String()),
		slog.Int("inputs", len(update.Inputs)),
	)

	return nil
}

// OnOutputUpdate implements catalog.Listener.
func (l *LogListener) OnOutputUpdate(ctx context.Context, update catalog.OutputUpdate) error {
	l.logger.InfoContext(ctx, "run outputs updated",
		slog.String("run_id", update.RunID.String()),
		slog.String("job_version", update.JobVersion.Version.String()),
		slog.Int("outputs", len(update.Outputs)),
	)

	return nil
}

// OnTransition implements catalog.Listener.
func (l *LogListener) OnTransition(ctx context.Context, transition catalog.RunTransition) error {
	previous := ""
	if transition.Previous != nil {
		previous = string(*transition.Previous)
	}

	l.logger.InfoContext(ctx, "run transitioned",
		slog.String("run_id", transition.RunID.String()),
		slog.String("job", transition.JobVersion.Namespace+"/"+transition.JobVersion.Name),
		slog.String("from", previous),
		slog.String("to", string(transition.New)),
		slog.Time("transitioned_at", transition.TransitionedAt),
	)

	return nil
}
