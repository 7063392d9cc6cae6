package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quillworks/quill/internal/search"
	"github.com/quillworks/quill/internal/state"
)

// FormulateThesis runs in INITIALIZED and produces the thesis statement that
// anchors every later stage.
func FormulateThesis(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	text, err := deps.Generator.Generate(ctx, fmt.Sprintf(thesisPrompt, snap.Topic), deps.Params.MaxTokens, deps.Params.Temperature)
	if err != nil {
		return state.Delta{}, err
	}
	thesis := strings.TrimSpace(text)
	deps.logger().Info("thesis formulated", zap.String("run_id", snap.RunID))
	return state.Delta{Thesis: &thesis}, nil
}

// SurveyLiterature generates a search query from the thesis, gathers
// sources, and produces the first literature summary.
func SurveyLiterature(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	queryText, err := deps.Generator.Generate(ctx, fmt.Sprintf(surveyQueryPrompt, snap.Topic, snap.Thesis), deps.Params.MaxTokens, deps.Params.Temperature)
	if err != nil {
		return state.Delta{}, err
	}
	query := firstLine(queryText)

	results, err := deps.Searcher.Search(ctx, query, deps.Params.SearchResults)
	if err != nil {
		return state.Delta{}, err
	}
	sources := toSources(results)

	summaryText, err := deps.Generator.Generate(ctx,
		fmt.Sprintf(surveySummaryPrompt, snap.Topic, snap.LiteratureSummary, formatSources(sources, deps.Params.SnippetBudget)),
		deps.Params.MaxTokens, deps.Params.Temperature)
	if err != nil {
		return state.Delta{}, err
	}
	summary := strings.TrimSpace(summaryText)

	deps.logger().Info("literature survey completed",
		zap.String("run_id", snap.RunID),
		zap.String("query", query),
		zap.Int("sources", len(sources)),
	)
	return state.Delta{
		Queries:           []string{query},
		Sources:           sources,
		LiteratureSummary: &summary,
	}, nil
}

type validationReply struct {
	Comprehensiveness float64 `json:"comprehensiveness"`
	Currency          float64 `json:"currency"`
	Relevance         float64 `json:"relevance"`
	Notes             string  `json:"notes"`
}

// ValidateLiterature scores the gathered literature against the three
// sufficiency axes. Malformed validator output is treated as insufficient
// rather than failing the run.
func ValidateLiterature(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	text, err := deps.Generator.Generate(ctx,
		fmt.Sprintf(validationPrompt, snap.Topic, snap.Thesis, snap.LiteratureSummary, len(snap.Sources)),
		deps.Params.MaxTokens, deps.Params.Temperature)
	if err != nil {
		return state.Delta{}, err
	}

	var reply validationReply
	if !decodeJSON(text, &reply) {
		deps.logger().Warn("unparseable validation output, treating literature as insufficient",
			zap.String("run_id", snap.RunID))
		return state.Delta{Validation: &state.ValidationScores{Notes: "validator output unparseable"}}, nil
	}
	return state.Delta{Validation: &state.ValidationScores{
		Comprehensiveness: reply.Comprehensiveness,
		Currency:          reply.Currency,
		Relevance:         reply.Relevance,
		Notes:             reply.Notes,
	}}, nil
}

type gapReply struct {
	Gaps []struct {
		Description      string `json:"description"`
		Importance       string `json:"importance"`
		ResearchQuestion string `json:"research_question"`
	} `json:"gaps"`
}

// IdentifyGaps extracts knowledge gaps from the current literature, dedups
// them against already-known gaps, and appends the new ones.
func IdentifyGaps(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	text, err := deps.Generator.Generate(ctx,
		fmt.Sprintf(gapAnalysisPrompt, snap.Topic, snap.Thesis, snap.LiteratureSummary),
		deps.Params.MaxTokens, deps.Params.Temperature)
	if err != nil {
		return state.Delta{}, err
	}

	var reply gapReply
	if !decodeJSON(text, &reply) || len(reply.Gaps) == 0 {
		// Original fallback: one generic gap so targeted research still has
		// something to chase.
		reply.Gaps = append(reply.Gaps[:0], struct {
			Description      string `json:"description"`
			Importance       string `json:"importance"`
			ResearchQuestion string `json:"research_question"`
		}{
			Description:      "literature coverage needs broadening",
			Importance:       string(state.ImportanceMedium),
			ResearchQuestion: fmt.Sprintf("What additional literature strengthens research on %s?", snap.Topic),
		})
	}

	queue := state.NewGapQueue(snap.Gaps, deps.Params.GapNormalizer)
	var added []state.Gap
	for _, g := range reply.Gaps {
		gap := state.Gap{
			ID:               uuid.NewString(),
			Description:      strings.TrimSpace(g.Description),
			Importance:       parseImportance(g.Importance),
			ResearchQuestion: strings.TrimSpace(g.ResearchQuestion),
		}
		if gap.ResearchQuestion == "" {
			continue
		}
		if queue.Enqueue(gap) {
			added = append(added, gap)
		}
	}
	deps.logger().Info("gap analysis completed",
		zap.String("run_id", snap.RunID),
		zap.Int("new_gaps", len(added)),
	)
	return state.Delta{Gaps: added}, nil
}

// ResearchGaps takes the highest-priority unresolved gaps (bounded per
// cycle), searches for each, and folds the findings into the summary. A gap
// is marked resolved only when its search succeeded.
func ResearchGaps(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	queue := state.NewGapQueue(snap.Gaps, deps.Params.GapNormalizer)
	batch := queue.DequeueBatch(deps.Params.MaxGapsPerCycle)

	var (
		queries  []string
		sources  []state.Source
		resolved []string
	)
	if len(batch) == 0 {
		// No actionable gaps recorded: fall back to one broadening pass.
		queryText, err := deps.Generator.Generate(ctx,
			fmt.Sprintf(gapQueryPrompt, "broaden the literature base", snap.Topic, snap.Thesis),
			deps.Params.MaxTokens, deps.Params.Temperature)
		if err != nil {
			return state.Delta{}, err
		}
		query := firstLine(queryText)
		results, err := deps.Searcher.Search(ctx, query, deps.Params.SearchResults)
		if err != nil {
			return state.Delta{}, err
		}
		queries = append(queries, query)
		sources = append(sources, toSources(results)...)
	}
	for _, gap := range batch {
		queryText, err := deps.Generator.Generate(ctx,
			fmt.Sprintf(gapQueryPrompt, gap.ResearchQuestion, snap.Topic, snap.Thesis),
			deps.Params.MaxTokens, deps.Params.Temperature)
		if err != nil {
			return state.Delta{}, err
		}
		query := firstLine(queryText)
		results, err := deps.Searcher.Search(ctx, query, deps.Params.SearchResults)
		if err != nil {
			return state.Delta{}, err
		}
		queries = append(queries, query)
		sources = append(sources, toSources(results)...)
		resolved = append(resolved, gap.ID)
	}

	summaryText, err := deps.Generator.Generate(ctx,
		fmt.Sprintf(updateSummaryPrompt, snap.Topic, snap.LiteratureSummary, formatSources(sources, deps.Params.SnippetBudget)),
		deps.Params.MaxTokens, deps.Params.Temperature)
	if err != nil {
		return state.Delta{}, err
	}
	summary := strings.TrimSpace(summaryText)

	deps.logger().Info("targeted research completed",
		zap.String("run_id", snap.RunID),
		zap.Int("gaps_addressed", len(resolved)),
		zap.Int("new_sources", len(sources)),
	)
	return state.Delta{
		Queries:           queries,
		Sources:           sources,
		LiteratureSummary: &summary,
		ResolvedGaps:      resolved,
	}, nil
}

// ConsolidateSummary produces the final form of the literature summary
// before outlining begins.
func ConsolidateSummary(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	text, err := deps.Generator.Generate(ctx,
		fmt.Sprintf(consolidatePrompt, snap.Topic, snap.Thesis, snap.LiteratureSummary),
		deps.Params.MaxTokens, deps.Params.Temperature)
	if err != nil {
		return state.Delta{}, err
	}
	summary := strings.TrimSpace(text)
	return state.Delta{LiteratureSummary: &summary}, nil
}

func parseImportance(s string) state.Importance {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return state.ImportanceHigh
	case "low":
		return state.ImportanceLow
	default:
		return state.ImportanceMedium
	}
}

func toSources(results []search.Result) []state.Source {
	now := time.Now()
	sources := make([]state.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, state.Source{
			URL:         r.URL,
			Title:       r.Title,
			Snippet:     r.Snippet,
			RetrievedAt: now,
		})
	}
	return sources
}
