// Package activities wraps the stage functions and persistence as Temporal
// activities. The workflow stays deterministic; everything that touches a
// collaborator, Redis, or Postgres happens here.
package activities

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/quillworks/quill/internal/checkpoint"
	"github.com/quillworks/quill/internal/engine"
	"github.com/quillworks/quill/internal/metrics"
	"github.com/quillworks/quill/internal/stages"
	"github.com/quillworks/quill/internal/state"
)

// Activity names registered on the worker.
const (
	ExecuteStageActivity = "ExecuteStage"
	PersistFinalActivity = "PersistFinal"
	PublishEventActivity = "PublishEvent"
)

// StageInput carries one stage invocation across the activity boundary.
type StageInput struct {
	Status   state.Status        `json:"status"`
	Snapshot state.ResearchState `json:"snapshot"`
}

// StageResult is the delta the stage produced.
type StageResult struct {
	Delta state.Delta `json:"delta"`
}

// Research bundles the collaborator-facing activities.
type Research struct {
	registry stages.Registry
	deps     stages.Deps
	store    *checkpoint.Store
	events   engine.EventSink
	logger   *zap.Logger
}

// NewResearch builds the activity set. store and events may be nil when the
// worker runs without Postgres or Redis.
func NewResearch(registry stages.Registry, deps stages.Deps, store *checkpoint.Store, events engine.EventSink, logger *zap.Logger) *Research {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &Research{registry: registry, deps: deps, store: store, events: events, logger: logger}
}

// ExecuteStage runs the stage registered for the snapshot's status and
// returns its delta.
func (r *Research) ExecuteStage(ctx context.Context, in StageInput) (StageResult, error) {
	stage, ok := r.registry[in.Status]
	if !ok {
		return StageResult{}, fmt.Errorf("no stage registered for status %s", in.Status)
	}
	activity.RecordHeartbeat(ctx, string(in.Status))

	start := time.Now()
	delta, err := stage(ctx, &in.Snapshot, r.deps)
	metrics.StageDuration.WithLabelValues(string(in.Status)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StageExecutions.WithLabelValues(string(in.Status), "error").Inc()
		return StageResult{}, err
	}
	metrics.StageExecutions.WithLabelValues(string(in.Status), "ok").Inc()
	return StageResult{Delta: delta}, nil
}

// PersistFinal saves the terminal snapshot. Without a store it is a no-op
// so dev setups run without Postgres.
func (r *Research) PersistFinal(ctx context.Context, fs state.FinalState) error {
	if r.store == nil {
		r.logger.Debug("no checkpoint store configured, skipping persist",
			zap.String("run_id", fs.RunID))
		return nil
	}
	return r.store.SaveFinal(ctx, &fs)
}

// PublishEvent forwards a run event to the streaming sinks.
func (r *Research) PublishEvent(ctx context.Context, ev engine.Event) error {
	if r.events == nil {
		return nil
	}
	r.events.Publish(ctx, ev)
	return nil
}
