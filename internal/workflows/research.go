// Package workflows holds the Temporal rendition of the research run. The
// workflow owns the state record and the routing loop; stages execute as
// activities so the event history replays deterministically.
package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/quillworks/quill/internal/activities"
	"github.com/quillworks/quill/internal/engine"
	"github.com/quillworks/quill/internal/routing"
	"github.com/quillworks/quill/internal/state"
)

// TaskQueue is the default queue research workers poll.
const TaskQueue = "quill-research"

// maxSteps mirrors the engine's defensive ceiling.
const maxSteps = 10000

// ResearchRequest starts one research run.
type ResearchRequest struct {
	RunID         string         `json:"run_id,omitempty"`
	Topic         string         `json:"topic"`
	CitationStyle string         `json:"citation_style,omitempty"`
	Routing       routing.Config `json:"routing"`
}

// ResearchWorkflow drives a run through the stage graph to a terminal
// status. Stage work happens in activities; merging deltas and choosing the
// next stage happen here, deterministically.
func ResearchWorkflow(ctx workflow.Context, req ResearchRequest) (*state.FinalState, error) {
	logger := workflow.GetLogger(ctx)

	if strings.TrimSpace(req.Topic) == "" {
		return nil, temporal.NewNonRetryableApplicationError("topic must not be blank", "ConfigurationError", nil)
	}
	if err := req.Routing.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "ConfigurationError", nil)
	}

	runID := req.RunID
	if runID == "" {
		runID = workflow.GetInfo(ctx).WorkflowExecution.RunID
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
			InitialInterval: 2 * time.Second,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	start := workflow.Now(ctx)
	st := state.New(runID, strings.TrimSpace(req.Topic), req.CitationStyle, start)
	logger.Info("research run started", "run_id", runID, "topic", st.Topic)
	publish(ctx, engine.Event{RunID: runID, Type: engine.EventRunStarted, Stage: st.Status, Timestamp: start})

	steps := 0
	for !st.Status.Terminal() {
		steps++
		if steps > maxSteps {
			return fail(ctx, st, start, st.Status, fmt.Errorf("step ceiling %d exceeded", maxSteps))
		}
		cur := st.Status

		var res activities.StageResult
		err := workflow.ExecuteActivity(ctx, activities.ExecuteStageActivity, activities.StageInput{
			Status:   cur,
			Snapshot: *st.Clone(),
		}).Get(ctx, &res)
		if err != nil {
			logger.Error("stage failed", "stage", string(cur), "error", err)
			return fail(ctx, st, start, cur, err)
		}

		delta := res.Delta
		delta.AppliedAt = workflow.Now(ctx)
		if err := st.Apply(delta); err != nil {
			return fail(ctx, st, start, cur, err)
		}

		decision, err := routing.Decide(cur, st, req.Routing)
		if err != nil {
			return fail(ctx, st, start, cur, err)
		}
		if !routing.ValidEdge(cur, decision.Next) {
			return fail(ctx, st, start, cur, fmt.Errorf("routing violation: %s -> %s", cur, decision.Next))
		}
		if decision.IncrementCounter != "" {
			if err := st.Apply(state.Delta{CounterInc: map[string]int{decision.IncrementCounter: 1}}); err != nil {
				return fail(ctx, st, start, cur, err)
			}
		}
		if decision.ForcedForward {
			logger.Warn("loop budget exhausted, forcing forward",
				"stage", string(cur), "next", string(decision.Next))
			publish(ctx, engine.Event{RunID: runID, Type: engine.EventForcedForward, Stage: cur, Next: decision.Next, ForcedForward: true, Timestamp: workflow.Now(ctx)})
		}

		st.Status = decision.Next
		publish(ctx, engine.Event{RunID: runID, Type: engine.EventStageCompleted, Stage: cur, Next: decision.Next, Timestamp: workflow.Now(ctx)})
	}

	fs := st.Final(workflow.Now(ctx).Sub(start))
	persist(ctx, fs)
	publish(ctx, engine.Event{RunID: runID, Type: engine.EventRunCompleted, Stage: st.Status, Timestamp: workflow.Now(ctx)})
	logger.Info("research run completed",
		"run_id", runID,
		"status", string(st.Status),
		"sources", fs.SourceCount,
		"steps", steps,
	)
	return fs, nil
}

// fail marks the run FAILED, persists what was gathered, and returns the
// failing snapshot alongside the error.
func fail(ctx workflow.Context, st *state.ResearchState, start time.Time, at state.Status, cause error) (*state.FinalState, error) {
	st.Status = state.StatusFailed
	fs := st.Final(workflow.Now(ctx).Sub(start))
	fs.FailedStage = at
	fs.FailReason = cause.Error()
	persist(ctx, fs)
	publish(ctx, engine.Event{RunID: st.RunID, Type: engine.EventRunFailed, Stage: at, Error: cause.Error(), Timestamp: workflow.Now(ctx)})
	return fs, cause
}

func persist(ctx workflow.Context, fs *state.FinalState) {
	if err := workflow.ExecuteActivity(ctx, activities.PersistFinalActivity, *fs).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("persist final snapshot failed", "run_id", fs.RunID, "error", err)
	}
}

// publish sends a run event without blocking the run on sink failures.
func publish(ctx workflow.Context, ev engine.Event) {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
	if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, opts), activities.PublishEventActivity, ev).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("publish run event failed", "type", ev.Type, "error", err)
	}
}
