// Package routing holds the transition table and the decision logic that
// selects the next workflow stage from the current state. Every decision is
// a pure function of the state snapshot; loop ceilings always have a
// forced-forward edge so the graph terminates regardless of how stage
// outcomes fall.
package routing

import (
	"fmt"

	"github.com/quillworks/quill/internal/state"
)

// Config carries the knobs routing consults. Zero ceilings are legal and
// mean the loop body never runs.
type Config struct {
	MaxLiteratureLoops  int     `json:"max_literature_loops"`
	MaxRevisionLoops    int     `json:"max_revision_loops"`
	MaxGapsPerCycle     int     `json:"max_gaps_per_cycle"`
	ValidationThreshold float64 `json:"validation_threshold"`
}

// Validate rejects configurations the graph cannot run with.
func (c Config) Validate() error {
	if c.MaxLiteratureLoops < 0 {
		return fmt.Errorf("max_literature_loops must be >= 0, got %d", c.MaxLiteratureLoops)
	}
	if c.MaxRevisionLoops < 0 {
		return fmt.Errorf("max_revision_loops must be >= 0, got %d", c.MaxRevisionLoops)
	}
	if c.MaxGapsPerCycle < 1 {
		return fmt.Errorf("max_gaps_per_cycle must be >= 1, got %d", c.MaxGapsPerCycle)
	}
	if c.ValidationThreshold < 0 || c.ValidationThreshold > 1 {
		return fmt.Errorf("validation_threshold must be in [0,1], got %v", c.ValidationThreshold)
	}
	return nil
}

// Decision is the outcome of one routing evaluation. IncrementCounter names
// the loop counter to bump when a loop-back edge is taken; it is empty on
// forward edges.
type Decision struct {
	Next             state.Status
	IncrementCounter string
	ForcedForward    bool
}

// transitions is the full edge set of the graph. Decide only ever returns a
// status listed here for the current one; anything else is a programming
// error surfaced by the executor.
var transitions = map[state.Status][]state.Status{
	state.StatusInitialized:      {state.StatusSurveying},
	state.StatusSurveying:        {state.StatusValidating},
	state.StatusValidating:       {state.StatusSummarizing, state.StatusGapAnalysis},
	state.StatusGapAnalysis:      {state.StatusTargetedResearch},
	state.StatusTargetedResearch: {state.StatusValidating},
	state.StatusSummarizing:      {state.StatusOutlining},
	state.StatusOutlining:        {state.StatusDrafting},
	state.StatusDrafting:         {state.StatusDrafting, state.StatusCompletionCheck},
	state.StatusCompletionCheck:  {state.StatusDrafting, state.StatusCoherenceCheck},
	state.StatusCoherenceCheck:   {state.StatusDrafting, state.StatusCiting},
	state.StatusCiting:           {state.StatusAssembling},
	state.StatusAssembling:       {state.StatusDone},
}

// ValidEdge reports whether from→to is a registered transition.
func ValidEdge(from, to state.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Decide computes the next status after the stage for cur has run and its
// delta has been merged into s.
func Decide(cur state.Status, s *state.ResearchState, cfg Config) (Decision, error) {
	switch cur {
	case state.StatusInitialized:
		return Decision{Next: state.StatusSurveying}, nil

	case state.StatusSurveying:
		return Decision{Next: state.StatusValidating}, nil

	case state.StatusValidating:
		if s.Validation != nil && s.Validation.Sufficient(cfg.ValidationThreshold) {
			return Decision{Next: state.StatusSummarizing}, nil
		}
		if s.LoopCounters[state.CounterLiteratureLoops] < cfg.MaxLiteratureLoops {
			return Decision{Next: state.StatusGapAnalysis, IncrementCounter: state.CounterLiteratureLoops}, nil
		}
		// Loop budget exhausted: proceed without a sufficiency guarantee.
		return Decision{Next: state.StatusSummarizing, ForcedForward: true}, nil

	case state.StatusGapAnalysis:
		return Decision{Next: state.StatusTargetedResearch}, nil

	case state.StatusTargetedResearch:
		return Decision{Next: state.StatusValidating}, nil

	case state.StatusSummarizing:
		return Decision{Next: state.StatusOutlining}, nil

	case state.StatusOutlining:
		return Decision{Next: state.StatusDrafting}, nil

	case state.StatusDrafting:
		ledger := state.NewSectionLedger(s.Outline, s.Drafts)
		if len(s.IncoherentSections) > 0 || ledger.PendingCount() > 0 {
			return Decision{Next: state.StatusDrafting}, nil
		}
		return Decision{Next: state.StatusCompletionCheck}, nil

	case state.StatusCompletionCheck:
		ledger := state.NewSectionLedger(s.Outline, s.Drafts)
		if !ledger.Complete() {
			return Decision{Next: state.StatusDrafting}, nil
		}
		return Decision{Next: state.StatusCoherenceCheck}, nil

	case state.StatusCoherenceCheck:
		if len(s.IncoherentSections) > 0 {
			if s.LoopCounters[state.CounterRevisionLoops] < cfg.MaxRevisionLoops {
				return Decision{Next: state.StatusDrafting, IncrementCounter: state.CounterRevisionLoops}, nil
			}
			return Decision{Next: state.StatusCiting, ForcedForward: true}, nil
		}
		return Decision{Next: state.StatusCiting}, nil

	case state.StatusCiting:
		return Decision{Next: state.StatusAssembling}, nil

	case state.StatusAssembling:
		return Decision{Next: state.StatusDone}, nil

	default:
		return Decision{}, fmt.Errorf("no routing policy for status %s", cur)
	}
}
