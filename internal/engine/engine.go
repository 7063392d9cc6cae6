// Package engine drives a research run through the stage graph: execute the
// stage registered for the current status, merge its delta, ask routing for
// the next status, repeat until a terminal status. The engine owns the state
// record; stages only ever see clones.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quillworks/quill/internal/metrics"
	"github.com/quillworks/quill/internal/routing"
	"github.com/quillworks/quill/internal/stages"
	"github.com/quillworks/quill/internal/state"
)

// maxSteps is a defensive ceiling on graph steps per run. The loop budgets
// bound every cycle, so hitting this means a routing bug, not a long run.
const maxSteps = 10000

// Request starts one research run.
type Request struct {
	RunID         string
	Topic         string
	CitationStyle string
}

// Engine executes research runs.
type Engine struct {
	registry stages.Registry
	deps     stages.Deps
	cfg      routing.Config
	logger   *zap.Logger
	sink     EventSink
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the run logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithEventSink sets where run events are published.
func WithEventSink(s EventSink) Option { return func(e *Engine) { e.sink = s } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New builds an engine, validating the routing configuration and that every
// non-terminal status has a registered stage.
func New(registry stages.Registry, deps stages.Deps, cfg routing.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	if deps.Generator == nil {
		return nil, &ConfigurationError{Reason: "text generator is required"}
	}
	if deps.Searcher == nil {
		return nil, &ConfigurationError{Reason: "web searcher is required"}
	}
	if deps.Formatter == nil {
		return nil, &ConfigurationError{Reason: "citation formatter is required"}
	}
	for _, status := range state.AllStatuses() {
		if status.Terminal() {
			continue
		}
		if _, ok := registry[status]; !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("no stage registered for status %s", status)}
		}
	}
	e := &Engine{
		registry: registry,
		deps:     deps,
		cfg:      cfg,
		logger:   zap.NewNop(),
		sink:     nopSink{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.deps.Logger == nil {
		e.deps.Logger = e.logger
	}
	return e, nil
}

// Run executes one research run to a terminal status. On failure the
// returned final state carries the failing stage and reason along with
// everything accumulated before it; the error is returned alongside.
func (e *Engine) Run(ctx context.Context, req Request) (*state.FinalState, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, &ConfigurationError{Reason: "topic must not be blank"}
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	start := e.now()
	st := state.New(runID, strings.TrimSpace(req.Topic), req.CitationStyle, start)
	logger := e.logger.With(zap.String("run_id", runID), zap.String("topic", st.Topic))

	metrics.RunsStarted.Inc()
	e.sink.Publish(ctx, Event{RunID: runID, Type: EventRunStarted, Stage: st.Status, Timestamp: start})
	logger.Info("run started", zap.String("citation_style", st.CitationStyle))

	steps := 0
	for !st.Status.Terminal() {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, st, start, st.Status, fmt.Errorf("%w: %v", ErrCancelled, err), logger)
		}
		steps++
		if steps > maxSteps {
			return e.fail(ctx, st, start, st.Status, fmt.Errorf("step ceiling %d exceeded", maxSteps), logger)
		}

		cur := st.Status
		stage, ok := e.registry[cur]
		if !ok {
			return e.fail(ctx, st, start, cur, fmt.Errorf("no stage registered for status %s", cur), logger)
		}

		e.sink.Publish(ctx, Event{RunID: runID, Type: EventStageStarted, Stage: cur, Timestamp: e.now()})
		stageStart := e.now()
		delta, err := stage(ctx, st.Clone(), e.deps)
		metrics.StageDuration.WithLabelValues(string(cur)).Observe(e.now().Sub(stageStart).Seconds())
		if err != nil {
			metrics.StageExecutions.WithLabelValues(string(cur), "error").Inc()
			return e.fail(ctx, st, start, cur, &StageExecutionError{Stage: cur, Cause: err}, logger)
		}
		metrics.StageExecutions.WithLabelValues(string(cur), "ok").Inc()

		sourcesBefore := len(st.Sources)
		delta.AppliedAt = e.now()
		if err := st.Apply(delta); err != nil {
			return e.fail(ctx, st, start, cur, &StageExecutionError{Stage: cur, Cause: err}, logger)
		}
		if added := len(st.Sources) - sourcesBefore; added > 0 {
			metrics.SourcesCollected.Add(float64(added))
		}

		decision, err := routing.Decide(cur, st, e.cfg)
		if err != nil {
			return e.fail(ctx, st, start, cur, err, logger)
		}
		if !routing.ValidEdge(cur, decision.Next) {
			return e.fail(ctx, st, start, cur, &RoutingViolationError{From: cur, To: decision.Next}, logger)
		}
		if decision.IncrementCounter != "" {
			if err := st.Apply(state.Delta{CounterInc: map[string]int{decision.IncrementCounter: 1}}); err != nil {
				return e.fail(ctx, st, start, cur, err, logger)
			}
			metrics.LoopIterations.WithLabelValues(decision.IncrementCounter).Inc()
		}
		if decision.ForcedForward {
			metrics.ForcedForward.WithLabelValues(string(cur)).Inc()
			logger.Warn("loop budget exhausted, forcing forward",
				zap.String("stage", string(cur)),
				zap.String("next", string(decision.Next)),
			)
			e.sink.Publish(ctx, Event{RunID: runID, Type: EventForcedForward, Stage: cur, Next: decision.Next, ForcedForward: true, Timestamp: e.now()})
		}

		st.Status = decision.Next
		e.sink.Publish(ctx, Event{RunID: runID, Type: EventStageCompleted, Stage: cur, Next: decision.Next, Timestamp: e.now()})
		logger.Debug("stage completed",
			zap.String("stage", string(cur)),
			zap.String("next", string(decision.Next)),
			zap.Int("step", steps),
		)
	}

	duration := e.now().Sub(start)
	metrics.RunsCompleted.WithLabelValues(string(st.Status)).Inc()
	metrics.RunDuration.Observe(duration.Seconds())
	e.sink.Publish(ctx, Event{RunID: runID, Type: EventRunCompleted, Stage: st.Status, Timestamp: e.now()})
	logger.Info("run completed",
		zap.String("status", string(st.Status)),
		zap.Duration("duration", duration),
		zap.Int("sources", len(st.Sources)),
		zap.Int("steps", steps),
	)
	return st.Final(duration), nil
}

// fail marks the run FAILED, preserving everything merged so far. A cancel
// that lands mid-collaborator-call arrives as context.Canceled inside a
// stage error; it is still a cancellation, not a stage defect.
func (e *Engine) fail(ctx context.Context, st *state.ResearchState, start time.Time, at state.Status, cause error, logger *zap.Logger) (*state.FinalState, error) {
	if errors.Is(cause, context.Canceled) && !errors.Is(cause, ErrCancelled) {
		cause = fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	st.Status = state.StatusFailed
	duration := e.now().Sub(start)
	metrics.RunsCompleted.WithLabelValues(string(state.StatusFailed)).Inc()
	metrics.RunDuration.Observe(duration.Seconds())

	fs := st.Final(duration)
	fs.FailedStage = at
	fs.FailReason = cause.Error()

	e.sink.Publish(ctx, Event{RunID: st.RunID, Type: EventRunFailed, Stage: at, Error: cause.Error(), Timestamp: e.now()})
	logger.Error("run failed",
		zap.String("stage", string(at)),
		zap.Error(cause),
		zap.Duration("duration", duration),
	)
	return fs, cause
}
