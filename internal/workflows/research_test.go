package workflows

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/quillworks/quill/internal/activities"
	"github.com/quillworks/quill/internal/engine"
	"github.com/quillworks/quill/internal/routing"
	"github.com/quillworks/quill/internal/state"
)

// stageStub produces canned deltas per status, tracking how often each stage
// ran and which validation/coherence verdict to hand out next.
type stageStub struct {
	runs        map[state.Status]int
	validations []state.ValidationScores
	coherences  [][]string // flagged section ids per coherence check; nil means coherent
	failAt      state.Status
	vIdx, cIdx  int
}

func newStageStub() *stageStub {
	return &stageStub{
		runs:        make(map[state.Status]int),
		validations: []state.ValidationScores{{Comprehensiveness: 0.9, Currency: 0.9, Relevance: 0.9}},
	}
}

func (s *stageStub) execute(ctx context.Context, in activities.StageInput) (activities.StageResult, error) {
	s.runs[in.Status]++
	if s.failAt != "" && in.Status == s.failAt {
		return activities.StageResult{}, errors.New("collaborator unavailable")
	}
	snap := &in.Snapshot
	switch in.Status {
	case state.StatusInitialized:
		return result(state.Delta{Thesis: state.StringPtr("Storage economics gate the transition.")}), nil
	case state.StatusSurveying:
		return result(state.Delta{
			Queries:           []string{"storage survey"},
			Sources:           []state.Source{{URL: "https://papers.example/survey", Title: "Survey"}},
			LiteratureSummary: state.StringPtr("initial summary"),
		}), nil
	case state.StatusValidating:
		v := s.validations[min(s.vIdx, len(s.validations)-1)]
		s.vIdx++
		return result(state.Delta{Validation: &v}), nil
	case state.StatusGapAnalysis:
		id := "gap-" + string(rune('a'+len(snap.Gaps)))
		return result(state.Delta{Gaps: []state.Gap{{ID: id, Importance: state.ImportanceHigh, ResearchQuestion: "q-" + id}}}), nil
	case state.StatusTargetedResearch:
		delta := state.Delta{
			Sources:           []state.Source{{URL: fmt.Sprintf("https://papers.example/extra-%d", len(snap.Sources)), Title: "Gap source"}},
			LiteratureSummary: state.StringPtr("updated summary"),
		}
		for _, g := range snap.Gaps {
			if !g.Resolved {
				delta.ResolvedGaps = append(delta.ResolvedGaps, g.ID)
			}
		}
		return result(delta), nil
	case state.StatusSummarizing:
		return result(state.Delta{LiteratureSummary: state.StringPtr("final summary")}), nil
	case state.StatusOutlining:
		return result(state.Delta{Outline: []state.SectionSpec{
			{ID: "introduction", Title: "Introduction"},
			{ID: "conclusion", Title: "Conclusion"},
		}}), nil
	case state.StatusDrafting:
		if len(snap.IncoherentSections) > 0 {
			id := snap.IncoherentSections[0]
			rest := append([]string(nil), snap.IncoherentSections[1:]...)
			return result(state.Delta{
				Drafts:             map[string]state.DraftedSection{id: {Content: "revised " + id, Coherent: true}},
				IncoherentSections: &rest,
			}), nil
		}
		ledger := state.NewSectionLedger(snap.Outline, snap.Drafts)
		sec, ok := ledger.NextPending()
		if !ok {
			return activities.StageResult{}, errors.New("nothing to draft")
		}
		return result(state.Delta{Drafts: map[string]state.DraftedSection{sec.ID: {Content: "text for " + sec.ID, Coherent: true}}}), nil
	case state.StatusCompletionCheck:
		return result(state.Delta{}), nil
	case state.StatusCoherenceCheck:
		var flagged []string
		if s.cIdx < len(s.coherences) {
			flagged = s.coherences[s.cIdx]
		}
		s.cIdx++
		if flagged == nil {
			flagged = []string{}
		}
		return result(state.Delta{IncoherentSections: &flagged}), nil
	case state.StatusCiting:
		cites := make(map[string]state.CitationEntry, len(snap.Sources))
		for i, src := range snap.Sources {
			cites[src.URL] = state.CitationEntry{SourceURL: src.URL, Number: i + 1, Style: "APA", Formatted: src.Title}
		}
		return result(state.Delta{Citations: cites}), nil
	case state.StatusAssembling:
		return result(state.Delta{Assembled: state.StringPtr("# " + snap.WorkingTitle + "\n")}), nil
	default:
		return activities.StageResult{}, errors.New("unexpected status " + string(in.Status))
	}
}

func result(d state.Delta) activities.StageResult { return activities.StageResult{Delta: d} }

type captured struct {
	finals []state.FinalState
	events []engine.Event
}

func newEnv(t *testing.T, stub *stageStub) (*testsuite.TestWorkflowEnvironment, *captured) {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	cap := &captured{}

	env.RegisterActivityWithOptions(stub.execute, activity.RegisterOptions{Name: activities.ExecuteStageActivity})
	env.RegisterActivityWithOptions(func(ctx context.Context, fs state.FinalState) error {
		cap.finals = append(cap.finals, fs)
		return nil
	}, activity.RegisterOptions{Name: activities.PersistFinalActivity})
	env.RegisterActivityWithOptions(func(ctx context.Context, ev engine.Event) error {
		cap.events = append(cap.events, ev)
		return nil
	}, activity.RegisterOptions{Name: activities.PublishEventActivity})
	env.RegisterWorkflow(ResearchWorkflow)
	return env, cap
}

func defaultRouting() routing.Config {
	return routing.Config{
		MaxLiteratureLoops:  3,
		MaxRevisionLoops:    2,
		MaxGapsPerCycle:     3,
		ValidationThreshold: 0.7,
	}
}

func TestResearchWorkflowHappyPath(t *testing.T) {
	stub := newStageStub()
	env, cap := newEnv(t, stub)

	env.ExecuteWorkflow(ResearchWorkflow, ResearchRequest{
		RunID:         "run-wf",
		Topic:         "renewable energy storage",
		CitationStyle: "APA",
		Routing:       defaultRouting(),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var fs state.FinalState
	require.NoError(t, env.GetWorkflowResult(&fs))
	assert.Equal(t, state.StatusDone, fs.Status)
	assert.Equal(t, "run-wf", fs.RunID)
	require.Len(t, fs.Sections, 2)
	assert.Equal(t, "introduction", fs.Sections[0].ID)
	assert.NotEmpty(t, fs.Document)
	assert.Zero(t, fs.LoopCounters[state.CounterLiteratureLoops])
	assert.Equal(t, 2, stub.runs[state.StatusDrafting])
	assert.Zero(t, stub.runs[state.StatusGapAnalysis])

	require.Len(t, cap.finals, 1)
	assert.Equal(t, state.StatusDone, cap.finals[0].Status)
	assert.Equal(t, engine.EventRunStarted, cap.events[0].Type)
	assert.Equal(t, engine.EventRunCompleted, cap.events[len(cap.events)-1].Type)
}

func TestResearchWorkflowLiteratureLoopCeiling(t *testing.T) {
	stub := newStageStub()
	stub.validations = []state.ValidationScores{{Comprehensiveness: 0.1, Currency: 0.1, Relevance: 0.1}}
	env, cap := newEnv(t, stub)

	cfg := defaultRouting()
	cfg.MaxLiteratureLoops = 1
	env.ExecuteWorkflow(ResearchWorkflow, ResearchRequest{Topic: "renewable energy storage", Routing: cfg})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var fs state.FinalState
	require.NoError(t, env.GetWorkflowResult(&fs))
	assert.Equal(t, state.StatusDone, fs.Status)
	assert.Equal(t, 1, fs.LoopCounters[state.CounterLiteratureLoops])
	assert.Equal(t, 1, stub.runs[state.StatusGapAnalysis])
	assert.Equal(t, 2, stub.runs[state.StatusValidating])

	forced := 0
	for _, ev := range cap.events {
		if ev.Type == engine.EventForcedForward {
			forced++
			assert.Equal(t, state.StatusValidating, ev.Stage)
		}
	}
	assert.Equal(t, 1, forced)
}

func TestResearchWorkflowRevisionLoop(t *testing.T) {
	stub := newStageStub()
	stub.coherences = [][]string{{"introduction"}, nil}
	env, _ := newEnv(t, stub)

	env.ExecuteWorkflow(ResearchWorkflow, ResearchRequest{Topic: "renewable energy storage", Routing: defaultRouting()})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var fs state.FinalState
	require.NoError(t, env.GetWorkflowResult(&fs))
	assert.Equal(t, state.StatusDone, fs.Status)
	assert.Equal(t, 1, fs.LoopCounters[state.CounterRevisionLoops])
	assert.Equal(t, 3, stub.runs[state.StatusDrafting])
	assert.Equal(t, "revised introduction", fs.Sections[0].Content)
}

func TestResearchWorkflowStageFailurePersistsSnapshot(t *testing.T) {
	stub := newStageStub()
	stub.failAt = state.StatusValidating
	env, cap := newEnv(t, stub)

	env.ExecuteWorkflow(ResearchWorkflow, ResearchRequest{Topic: "renewable energy storage", Routing: defaultRouting()})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())

	require.Len(t, cap.finals, 1)
	fs := cap.finals[0]
	assert.Equal(t, state.StatusFailed, fs.Status)
	assert.Equal(t, state.StatusValidating, fs.FailedStage)
	assert.Equal(t, 1, fs.SourceCount, "survey sources survive the failure")

	last := cap.events[len(cap.events)-1]
	assert.Equal(t, engine.EventRunFailed, last.Type)
}

func TestResearchWorkflowRejectsBlankTopic(t *testing.T) {
	stub := newStageStub()
	env, _ := newEnv(t, stub)

	env.ExecuteWorkflow(ResearchWorkflow, ResearchRequest{Topic: "  ", Routing: defaultRouting()})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}
