// Package state holds the single mutable record threaded through a research
// run, plus the derived views (gap queue, section ledger) that routing and
// individual stages consult. The record is exclusively owned by the executor
// driving the run; stages receive clones and hand back deltas.
package state

import (
	"time"
)

// Status identifies the workflow stage a run is currently in. Transitions
// happen only along edges defined by the routing policy.
type Status string

const (
	StatusInitialized      Status = "INITIALIZED"
	StatusSurveying        Status = "SURVEYING"
	StatusValidating       Status = "VALIDATING"
	StatusGapAnalysis      Status = "GAP_ANALYSIS"
	StatusTargetedResearch Status = "TARGETED_RESEARCH"
	StatusSummarizing      Status = "SUMMARIZING"
	StatusOutlining        Status = "OUTLINING"
	StatusDrafting         Status = "DRAFTING"
	StatusCompletionCheck  Status = "COMPLETION_CHECK"
	StatusCoherenceCheck   Status = "COHERENCE_CHECK"
	StatusCiting           Status = "CITING"
	StatusAssembling       Status = "ASSEMBLING"
	StatusDone             Status = "DONE"
	StatusFailed           Status = "FAILED"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// AllStatuses lists every status in graph order, terminals last.
func AllStatuses() []Status {
	return []Status{
		StatusInitialized,
		StatusSurveying,
		StatusValidating,
		StatusGapAnalysis,
		StatusTargetedResearch,
		StatusSummarizing,
		StatusOutlining,
		StatusDrafting,
		StatusCompletionCheck,
		StatusCoherenceCheck,
		StatusCiting,
		StatusAssembling,
		StatusDone,
		StatusFailed,
	}
}

// Loop counter names tracked in ResearchState.LoopCounters.
const (
	CounterLiteratureLoops = "literature_loops"
	CounterRevisionLoops   = "revision_loops"
)

// Importance ranks how badly a knowledge gap needs addressing.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// Rank maps importance to an ordinal for queue ordering.
func (i Importance) Rank() int {
	switch i {
	case ImportanceHigh:
		return 2
	case ImportanceMedium:
		return 1
	default:
		return 0
	}
}

// Source is one piece of gathered literature. Uniqueness key is the
// normalized URL; sources are only ever added within a run.
type Source struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Gap is a specific, actionable deficiency in gathered information.
type Gap struct {
	ID               string     `json:"id"`
	Description      string     `json:"description"`
	Importance       Importance `json:"importance"`
	ResearchQuestion string     `json:"research_question"`
	Resolved         bool       `json:"resolved"`
}

// SectionSpec is one planned section of the paper.
type SectionSpec struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// DraftedSection is the written content for one outline section.
type DraftedSection struct {
	Content       string `json:"content"`
	RevisionCount int    `json:"revision_count"`
	Coherent      bool   `json:"coherent"`
}

// CitationEntry is a formatted citation for one source.
type CitationEntry struct {
	SourceURL string `json:"source_url"`
	Number    int    `json:"number"`
	Style     string `json:"style"`
	Formatted string `json:"formatted"`
}

// ValidationScores holds the literature sufficiency assessment produced by
// the validating stage. Each score is clamped to [0,1].
type ValidationScores struct {
	Comprehensiveness float64 `json:"comprehensiveness"`
	Currency          float64 `json:"currency"`
	Relevance         float64 `json:"relevance"`
	Notes             string  `json:"notes,omitempty"`
}

// Sufficient reports whether all three scores clear the threshold.
func (v ValidationScores) Sufficient(threshold float64) bool {
	return v.Comprehensiveness >= threshold &&
		v.Currency >= threshold &&
		v.Relevance >= threshold
}

// ResearchState is the aggregate for one run. Topic and RunID are fixed at
// creation; everything else changes only through Apply.
type ResearchState struct {
	RunID         string `json:"run_id"`
	Topic         string `json:"topic"`
	WorkingTitle  string `json:"working_title,omitempty"`
	Thesis        string `json:"thesis,omitempty"`
	CitationStyle string `json:"citation_style,omitempty"`

	Queries           []string                  `json:"queries,omitempty"`
	Sources           []Source                  `json:"sources,omitempty"`
	LiteratureSummary string                    `json:"literature_summary,omitempty"`
	Gaps              []Gap                     `json:"gaps,omitempty"`
	Outline           []SectionSpec             `json:"outline,omitempty"`
	Drafts            map[string]DraftedSection `json:"drafts,omitempty"`
	Citations         map[string]CitationEntry  `json:"citations,omitempty"`
	LoopCounters      map[string]int            `json:"loop_counters,omitempty"`

	Validation         *ValidationScores `json:"validation,omitempty"`
	CoherenceAnalysis  string            `json:"coherence_analysis,omitempty"`
	IncoherentSections []string          `json:"incoherent_sections,omitempty"`
	Assembled          string            `json:"assembled,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates the state for a fresh run.
func New(runID, topic, citationStyle string, now time.Time) *ResearchState {
	return &ResearchState{
		RunID:         runID,
		Topic:         topic,
		WorkingTitle:  "Research on " + topic,
		CitationStyle: citationStyle,
		Drafts:        make(map[string]DraftedSection),
		Citations:     make(map[string]CitationEntry),
		LoopCounters:  make(map[string]int),
		Status:        StatusInitialized,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy. Stages receive clones so the executor-owned
// record is never mutated outside Apply.
func (s *ResearchState) Clone() *ResearchState {
	cp := *s
	cp.Queries = append([]string(nil), s.Queries...)
	cp.Sources = append([]Source(nil), s.Sources...)
	cp.Gaps = append([]Gap(nil), s.Gaps...)
	cp.IncoherentSections = append([]string(nil), s.IncoherentSections...)
	cp.Outline = make([]SectionSpec, len(s.Outline))
	for i, sec := range s.Outline {
		sec.KeyPoints = append([]string(nil), sec.KeyPoints...)
		cp.Outline[i] = sec
	}
	cp.Drafts = make(map[string]DraftedSection, len(s.Drafts))
	for k, v := range s.Drafts {
		cp.Drafts[k] = v
	}
	cp.Citations = make(map[string]CitationEntry, len(s.Citations))
	for k, v := range s.Citations {
		cp.Citations[k] = v
	}
	cp.LoopCounters = make(map[string]int, len(s.LoopCounters))
	for k, v := range s.LoopCounters {
		cp.LoopCounters[k] = v
	}
	if s.Validation != nil {
		v := *s.Validation
		cp.Validation = &v
	}
	return &cp
}

// AssembledSection pairs a section spec with its final content.
type AssembledSection struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// FinalState is the snapshot returned when a run terminates. Sections appear
// in outline order. Serializing this into a document is the caller's concern.
type FinalState struct {
	RunID        string                   `json:"run_id"`
	Topic        string                   `json:"topic"`
	WorkingTitle string                   `json:"working_title,omitempty"`
	Thesis       string                   `json:"thesis,omitempty"`
	Status       Status                   `json:"status"`
	Sections     []AssembledSection       `json:"sections,omitempty"`
	Citations    map[string]CitationEntry `json:"citations,omitempty"`
	Document     string                   `json:"document,omitempty"`
	LoopCounters map[string]int           `json:"loop_counters,omitempty"`
	SourceCount  int                      `json:"source_count"`
	Duration     time.Duration            `json:"duration"`
	FailedStage  Status                   `json:"failed_stage,omitempty"`
	FailReason   string                   `json:"fail_reason,omitempty"`
}

// Final builds the terminal snapshot for the current state.
func (s *ResearchState) Final(duration time.Duration) *FinalState {
	fs := &FinalState{
		RunID:        s.RunID,
		Topic:        s.Topic,
		WorkingTitle: s.WorkingTitle,
		Thesis:       s.Thesis,
		Status:       s.Status,
		Document:     s.Assembled,
		SourceCount:  len(s.Sources),
		Duration:     duration,
		Citations:    make(map[string]CitationEntry, len(s.Citations)),
		LoopCounters: make(map[string]int, len(s.LoopCounters)),
	}
	for k, v := range s.Citations {
		fs.Citations[k] = v
	}
	for k, v := range s.LoopCounters {
		fs.LoopCounters[k] = v
	}
	for _, sec := range s.Outline {
		if d, ok := s.Drafts[sec.ID]; ok {
			fs.Sections = append(fs.Sections, AssembledSection{ID: sec.ID, Title: sec.Title, Content: d.Content})
		}
	}
	return fs
}
