package workflow

import (
	"context"
	"time"
)

// StatusChange describes one status transition of a run.
type StatusChange struct {
	RunID    string
	Status   Status
	Previous Status
	Run      Run
	At       time.Time
}

// Recorder is notified of every status transition, for example to maintain a
// negotiation history table. A Recorder error is reported through the
// emitter and never changes the run.
type Recorder interface {
	OnStatusChanged(ctx context.Context, change StatusChange) error
}

// RecorderFunc adapts a function into a Recorder.
type RecorderFunc func(ctx context.Context, change StatusChange) error

// OnStatusChanged implements Recorder.
func (f RecorderFunc) OnStatusChanged(ctx context.Context, change StatusChange) error {
	return f(ctx, change)
}
