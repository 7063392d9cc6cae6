package stages

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/quill/internal/citations"
	"github.com/quillworks/quill/internal/search"
	"github.com/quillworks/quill/internal/state"
)

// scriptedGenerator answers prompts by matching a substring, falling back to
// a default response.
type scriptedGenerator struct {
	responses map[string]string
	fallback  string
	err       error
	calls     []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	g.calls = append(g.calls, prompt)
	if g.err != nil {
		return "", g.err
	}
	for key, resp := range g.responses {
		if strings.Contains(prompt, key) {
			return resp, nil
		}
	}
	return g.fallback, nil
}

type stubSearcher struct {
	results []search.Result
	err     error
	queries []string
}

func (s *stubSearcher) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func testDeps(gen *scriptedGenerator, searcher *stubSearcher) Deps {
	return Deps{
		Generator: gen,
		Searcher:  searcher,
		Formatter: citations.NewStyleFormatter(),
		Params: Params{
			MaxTokens:       512,
			Temperature:     0.2,
			SearchResults:   3,
			MaxGapsPerCycle: 2,
			SnippetBudget:   400,
		},
	}
}

func startedState(t *testing.T) *state.ResearchState {
	t.Helper()
	s := state.New("run-1", "renewable energy storage", "APA", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.Apply(state.Delta{
		Thesis:            state.StringPtr("Storage economics gate the transition."),
		LiteratureSummary: state.StringPtr("prior summary"),
	}))
	return s
}

func TestFormulateThesis(t *testing.T) {
	gen := &scriptedGenerator{fallback: "  Storage economics gate the transition.  "}
	s := state.New("run-1", "renewable energy storage", "APA", time.Now())

	d, err := FormulateThesis(context.Background(), s, testDeps(gen, nil))
	require.NoError(t, err)
	require.NotNil(t, d.Thesis)
	assert.Equal(t, "Storage economics gate the transition.", *d.Thesis)
}

func TestSurveyLiterature(t *testing.T) {
	gen := &scriptedGenerator{
		responses: map[string]string{
			"generate one web search query": "\"grid scale storage survey\"\n",
			"Summarize the key findings":    "a fresh summary",
		},
	}
	searcher := &stubSearcher{results: []search.Result{
		{URL: "https://a.org/1", Title: "One", Snippet: "s1"},
		{URL: "https://a.org/2", Title: "Two", Snippet: "s2"},
	}}
	s := startedState(t)

	d, err := SurveyLiterature(context.Background(), s, testDeps(gen, searcher))
	require.NoError(t, err)
	assert.Equal(t, []string{"grid scale storage survey"}, d.Queries)
	assert.Len(t, d.Sources, 2)
	require.NotNil(t, d.LiteratureSummary)
	assert.Equal(t, "a fresh summary", *d.LiteratureSummary)
	assert.Equal(t, []string{"grid scale storage survey"}, searcher.queries)
}

func TestSurveyLiteratureSearchErrorPropagates(t *testing.T) {
	gen := &scriptedGenerator{fallback: "query"}
	searcher := &stubSearcher{err: &search.SearchError{Cause: errors.New("quota exhausted")}}

	_, err := SurveyLiterature(context.Background(), startedState(t), testDeps(gen, searcher))
	var serr *search.SearchError
	require.ErrorAs(t, err, &serr)
}

func TestValidateLiteratureParsesScores(t *testing.T) {
	gen := &scriptedGenerator{fallback: "```json\n{\"comprehensiveness\": 0.8, \"currency\": 0.7, \"relevance\": 0.9, \"notes\": \"solid\"}\n```"}

	d, err := ValidateLiterature(context.Background(), startedState(t), testDeps(gen, nil))
	require.NoError(t, err)
	require.NotNil(t, d.Validation)
	assert.Equal(t, 0.8, d.Validation.Comprehensiveness)
	assert.Equal(t, "solid", d.Validation.Notes)
}

func TestValidateLiteratureMalformedIsInsufficient(t *testing.T) {
	gen := &scriptedGenerator{fallback: "I think it looks pretty good overall!"}

	d, err := ValidateLiterature(context.Background(), startedState(t), testDeps(gen, nil))
	require.NoError(t, err)
	require.NotNil(t, d.Validation)
	assert.False(t, d.Validation.Sufficient(0.1))
}

func TestIdentifyGapsDedupsAgainstExisting(t *testing.T) {
	gen := &scriptedGenerator{fallback: `{"gaps": [
		{"description": "d1", "importance": "high", "research_question": "What about lithium supply?"},
		{"description": "d2", "importance": "low", "research_question": "what about LITHIUM supply?"},
		{"description": "d3", "importance": "medium", "research_question": "How do tariffs affect storage?"}
	]}`}
	s := startedState(t)
	require.NoError(t, s.Apply(state.Delta{Gaps: []state.Gap{
		{ID: "g0", ResearchQuestion: "How do tariffs affect storage?"},
	}}))

	d, err := IdentifyGaps(context.Background(), s, testDeps(gen, nil))
	require.NoError(t, err)
	require.Len(t, d.Gaps, 1, "near-duplicates and known questions are dropped")
	assert.Equal(t, state.ImportanceHigh, d.Gaps[0].Importance)
	assert.NotEmpty(t, d.Gaps[0].ID)
}

func TestIdentifyGapsFallbackGap(t *testing.T) {
	gen := &scriptedGenerator{fallback: "no json here"}

	d, err := IdentifyGaps(context.Background(), startedState(t), testDeps(gen, nil))
	require.NoError(t, err)
	require.Len(t, d.Gaps, 1)
	assert.Equal(t, state.ImportanceMedium, d.Gaps[0].Importance)
}

func TestResearchGapsBoundedBatch(t *testing.T) {
	gen := &scriptedGenerator{
		responses: map[string]string{
			"Update the literature summary": "updated summary",
		},
		fallback: "gap query",
	}
	searcher := &stubSearcher{results: []search.Result{{URL: "https://b.org/1", Title: "B"}}}
	s := startedState(t)
	require.NoError(t, s.Apply(state.Delta{Gaps: []state.Gap{
		{ID: "g1", Importance: state.ImportanceLow, ResearchQuestion: "q1"},
		{ID: "g2", Importance: state.ImportanceHigh, ResearchQuestion: "q2"},
		{ID: "g3", Importance: state.ImportanceMedium, ResearchQuestion: "q3"},
	}}))

	d, err := ResearchGaps(context.Background(), s, testDeps(gen, searcher))
	require.NoError(t, err)
	assert.Equal(t, []string{"g2", "g3"}, d.ResolvedGaps, "two highest-priority gaps per cycle")
	assert.Len(t, searcher.queries, 2)
	require.NotNil(t, d.LiteratureSummary)
	assert.Equal(t, "updated summary", *d.LiteratureSummary)
}

func TestResearchGapsSearchFailureFailsStage(t *testing.T) {
	gen := &scriptedGenerator{fallback: "gap query"}
	searcher := &stubSearcher{err: &search.SearchError{Cause: errors.New("network down")}}
	s := startedState(t)
	require.NoError(t, s.Apply(state.Delta{Gaps: []state.Gap{
		{ID: "g1", Importance: state.ImportanceHigh, ResearchQuestion: "q1"},
	}}))

	_, err := ResearchGaps(context.Background(), s, testDeps(gen, searcher))
	require.Error(t, err)
	var serr *search.SearchError
	assert.ErrorAs(t, err, &serr)
}

func TestResearchGapsNoGapsBroadens(t *testing.T) {
	gen := &scriptedGenerator{
		responses: map[string]string{"Update the literature summary": "updated"},
		fallback:  "broadening query",
	}
	searcher := &stubSearcher{results: []search.Result{{URL: "https://c.org", Title: "C"}}}

	d, err := ResearchGaps(context.Background(), startedState(t), testDeps(gen, searcher))
	require.NoError(t, err)
	assert.Empty(t, d.ResolvedGaps)
	assert.Len(t, d.Sources, 1)
	assert.Len(t, searcher.queries, 1)
}

func TestGenerateOutlineParsesSections(t *testing.T) {
	gen := &scriptedGenerator{fallback: `[
		{"id": "Introduction", "title": "Introduction", "key_points": ["context"]},
		{"id": "introduction", "title": "Duplicate"},
		{"id": "", "title": "Case Studies"},
		{"id": "conclusion", "title": ""}
	]`}

	d, err := GenerateOutline(context.Background(), startedState(t), testDeps(gen, nil))
	require.NoError(t, err)
	require.Len(t, d.Outline, 3)
	assert.Equal(t, "introduction", d.Outline[0].ID)
	assert.Equal(t, "case_studies", d.Outline[1].ID)
	assert.Equal(t, "Conclusion", d.Outline[2].Title, "missing titles derive from the id")
}

func TestGenerateOutlineFallback(t *testing.T) {
	gen := &scriptedGenerator{fallback: "sorry, I cannot produce an outline"}

	d, err := GenerateOutline(context.Background(), startedState(t), testDeps(gen, nil))
	require.NoError(t, err)
	require.Len(t, d.Outline, 7)
	assert.Equal(t, "abstract", d.Outline[0].ID)
	assert.Equal(t, "conclusion", d.Outline[6].ID)
}

func outlinedState(t *testing.T) *state.ResearchState {
	s := startedState(t)
	require.NoError(t, s.Apply(state.Delta{Outline: []state.SectionSpec{
		{ID: "intro", Title: "Introduction", KeyPoints: []string{"scope"}},
		{ID: "body", Title: "Body"},
	}}))
	return s
}

func TestDraftSectionPicksFirstPending(t *testing.T) {
	gen := &scriptedGenerator{fallback: "drafted content"}
	s := outlinedState(t)

	d, err := DraftSection(context.Background(), s, testDeps(gen, nil))
	require.NoError(t, err)
	require.Contains(t, d.Drafts, "intro")
	assert.Equal(t, "drafted content", d.Drafts["intro"].Content)
	assert.True(t, d.Drafts["intro"].Coherent)

	require.NoError(t, s.Apply(d))
	d, err = DraftSection(context.Background(), s, testDeps(gen, nil))
	require.NoError(t, err)
	assert.Contains(t, d.Drafts, "body")
}

func TestDraftSectionRevisesFlaggedFirst(t *testing.T) {
	gen := &scriptedGenerator{fallback: "revised content"}
	s := outlinedState(t)
	require.NoError(t, s.Apply(state.Delta{Drafts: map[string]state.DraftedSection{
		"intro": {Content: "original", Coherent: true},
	}}))
	flagged := []string{"intro"}
	require.NoError(t, s.Apply(state.Delta{
		IncoherentSections: &flagged,
		CoherenceAnalysis:  state.StringPtr("intro contradicts thesis"),
	}))

	d, err := DraftSection(context.Background(), s, testDeps(gen, nil))
	require.NoError(t, err)
	require.Contains(t, d.Drafts, "intro")
	assert.Equal(t, "revised content", d.Drafts["intro"].Content)
	require.NotNil(t, d.IncoherentSections)
	assert.Empty(t, *d.IncoherentSections, "revised section is unflagged")
}

func TestDraftSectionNothingPendingFails(t *testing.T) {
	gen := &scriptedGenerator{fallback: "x"}
	s := outlinedState(t)
	require.NoError(t, s.Apply(state.Delta{Drafts: map[string]state.DraftedSection{
		"intro": {Content: "a"}, "body": {Content: "b"},
	}}))

	_, err := DraftSection(context.Background(), s, testDeps(gen, nil))
	assert.Error(t, err)
}

func TestCheckCoherenceFlagsKnownSections(t *testing.T) {
	gen := &scriptedGenerator{fallback: `{"coherent": false, "incoherent_sections": ["intro", "ghost"], "analysis": "intro drifts"}`}
	s := outlinedState(t)
	require.NoError(t, s.Apply(state.Delta{Drafts: map[string]state.DraftedSection{
		"intro": {Content: "a"}, "body": {Content: "b"},
	}}))

	d, err := CheckCoherence(context.Background(), s, testDeps(gen, nil))
	require.NoError(t, err)
	require.NotNil(t, d.IncoherentSections)
	assert.Equal(t, []string{"intro"}, *d.IncoherentSections, "unknown section ids are dropped")
	require.NotNil(t, d.CoherenceAnalysis)
	assert.Equal(t, "intro drifts", *d.CoherenceAnalysis)
}

func TestCheckCoherenceMalformedIsCoherent(t *testing.T) {
	gen := &scriptedGenerator{fallback: "looks fine to me"}
	s := outlinedState(t)

	d, err := CheckCoherence(context.Background(), s, testDeps(gen, nil))
	require.NoError(t, err)
	require.NotNil(t, d.IncoherentSections)
	assert.Empty(t, *d.IncoherentSections)
}

func TestFormatCitationsNumbersInInsertionOrder(t *testing.T) {
	s := startedState(t)
	require.NoError(t, s.Apply(state.Delta{Sources: []state.Source{
		{URL: "https://a.org", Title: "A"},
		{URL: "https://b.org", Title: "B"},
	}}))

	d, err := FormatCitations(context.Background(), s, testDeps(&scriptedGenerator{}, nil))
	require.NoError(t, err)
	require.Len(t, d.Citations, 2)
	assert.Equal(t, 1, d.Citations["https://a.org"].Number)
	assert.Equal(t, 2, d.Citations["https://b.org"].Number)
	assert.Equal(t, "APA", d.Citations["https://a.org"].Style)
}

func TestAssemblePaperOrdering(t *testing.T) {
	s := outlinedState(t)
	require.NoError(t, s.Apply(state.Delta{Drafts: map[string]state.DraftedSection{
		"body":  {Content: "body text"},
		"intro": {Content: "intro text"},
	}}))
	require.NoError(t, s.Apply(state.Delta{Citations: map[string]state.CitationEntry{
		"https://b.org": {SourceURL: "https://b.org", Number: 2, Formatted: "[2] B"},
		"https://a.org": {SourceURL: "https://a.org", Number: 1, Formatted: "[1] A"},
	}}))

	d, err := AssemblePaper(context.Background(), s, testDeps(&scriptedGenerator{}, nil))
	require.NoError(t, err)
	require.NotNil(t, d.Assembled)
	doc := *d.Assembled

	assert.Less(t, strings.Index(doc, "intro text"), strings.Index(doc, "body text"),
		"sections appear in outline order")
	assert.Less(t, strings.Index(doc, "[1] A"), strings.Index(doc, "[2] B"),
		"references appear in citation order")
	assert.Contains(t, doc, "# Research on renewable energy storage")
	assert.Contains(t, doc, "**Thesis.**")
}
