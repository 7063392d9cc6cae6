// Package stages implements the units of work the graph executor dispatches.
// Each stage takes a state snapshot plus the injected collaborators and
// returns a delta; stages never mutate the snapshot and never set status.
package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quillworks/quill/internal/citations"
	"github.com/quillworks/quill/internal/llm"
	"github.com/quillworks/quill/internal/search"
	"github.com/quillworks/quill/internal/state"
)

// Params are the per-call knobs stages consult.
type Params struct {
	MaxTokens       int
	Temperature     float64
	SearchResults   int
	MaxGapsPerCycle int
	// SnippetBudget caps how many snippet characters per source go into a
	// prompt.
	SnippetBudget int
	// GapNormalizer overrides the dedup strategy for research questions.
	// Nil uses state.NormalizeQuestion.
	GapNormalizer state.Normalizer
}

// Deps bundles the collaborators injected into every stage.
type Deps struct {
	Generator llm.TextGenerator
	Searcher  search.WebSearcher
	Formatter citations.Formatter
	Logger    *zap.Logger
	Params    Params
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Func is one unit of workflow work.
type Func func(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error)

// Registry maps each status to the stage that runs in it.
type Registry map[state.Status]Func

// DefaultRegistry wires every non-terminal status to its stage.
func DefaultRegistry() Registry {
	return Registry{
		state.StatusInitialized:      FormulateThesis,
		state.StatusSurveying:        SurveyLiterature,
		state.StatusValidating:       ValidateLiterature,
		state.StatusGapAnalysis:      IdentifyGaps,
		state.StatusTargetedResearch: ResearchGaps,
		state.StatusSummarizing:      ConsolidateSummary,
		state.StatusOutlining:        GenerateOutline,
		state.StatusDrafting:         DraftSection,
		state.StatusCompletionCheck:  CheckCompletion,
		state.StatusCoherenceCheck:   CheckCoherence,
		state.StatusCiting:           FormatCitations,
		state.StatusAssembling:       AssemblePaper,
	}
}

func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "... [truncated]"
}

func formatSources(sources []state.Source, snippetBudget int) string {
	var b []byte
	for i, src := range sources {
		b = append(b, fmt.Sprintf("%d. %s\n   URL: %s\n   %s\n", i+1, src.Title, src.URL, clip(src.Snippet, snippetBudget))...)
	}
	return string(b)
}
