package state

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Delta is the set of field changes a stage produces. Merging a delta via
// Apply is the only way state changes; nil/zero fields leave the state
// untouched. A delta never carries a status — routing owns status.
type Delta struct {
	WorkingTitle      *string                   `json:"working_title,omitempty"`
	Thesis            *string                   `json:"thesis,omitempty"`
	Queries           []string                  `json:"queries,omitempty"`
	Sources           []Source                  `json:"sources,omitempty"`
	LiteratureSummary *string                   `json:"literature_summary,omitempty"`
	Gaps              []Gap                     `json:"gaps,omitempty"`
	ResolvedGaps      []string                  `json:"resolved_gaps,omitempty"`
	Outline           []SectionSpec             `json:"outline,omitempty"`
	Drafts            map[string]DraftedSection `json:"drafts,omitempty"`
	Citations         map[string]CitationEntry  `json:"citations,omitempty"`
	CounterInc        map[string]int            `json:"counter_inc,omitempty"`
	Validation        *ValidationScores         `json:"validation,omitempty"`
	CoherenceAnalysis *string                   `json:"coherence_analysis,omitempty"`
	// IncoherentSections replaces the current list when non-nil. An empty,
	// non-nil slice marks the paper coherent.
	IncoherentSections *[]string `json:"incoherent_sections,omitempty"`
	Assembled          *string   `json:"assembled,omitempty"`
	AppliedAt          time.Time `json:"-"`
}

// NormalizeURL canonicalizes a source URL for dedup: lower-cased scheme and
// host, no fragment, no trailing slash.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	s := u.String()
	return strings.TrimRight(s, "/")
}

// Apply merges a delta into the state. It enforces the structural
// invariants: sources never shrink and dedup by normalized URL, counters
// only grow, draft keys stay a subset of outline section ids, and resolved
// gap ids must exist.
func (s *ResearchState) Apply(d Delta) error {
	if d.WorkingTitle != nil {
		s.WorkingTitle = *d.WorkingTitle
	}
	if d.Thesis != nil {
		s.Thesis = *d.Thesis
	}
	s.Queries = append(s.Queries, d.Queries...)

	if len(d.Sources) > 0 {
		seen := make(map[string]struct{}, len(s.Sources))
		for _, src := range s.Sources {
			seen[NormalizeURL(src.URL)] = struct{}{}
		}
		for _, src := range d.Sources {
			key := NormalizeURL(src.URL)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			s.Sources = append(s.Sources, src)
		}
	}

	if d.LiteratureSummary != nil {
		s.LiteratureSummary = *d.LiteratureSummary
	}

	s.Gaps = append(s.Gaps, d.Gaps...)
	for _, id := range d.ResolvedGaps {
		found := false
		for i := range s.Gaps {
			if s.Gaps[i].ID == id {
				s.Gaps[i].Resolved = true
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("resolve gap %q: no such gap", id)
		}
	}

	if len(d.Outline) > 0 {
		s.Outline = append([]SectionSpec(nil), d.Outline...)
	}

	if len(d.Drafts) > 0 {
		known := make(map[string]struct{}, len(s.Outline))
		for _, sec := range s.Outline {
			known[sec.ID] = struct{}{}
		}
		for id, draft := range d.Drafts {
			if _, ok := known[id]; !ok {
				return fmt.Errorf("draft for section %q: not in outline", id)
			}
			if prev, ok := s.Drafts[id]; ok {
				draft.RevisionCount = prev.RevisionCount + 1
			}
			s.Drafts[id] = draft
		}
	}

	for u, entry := range d.Citations {
		s.Citations[u] = entry
	}

	for name, inc := range d.CounterInc {
		if inc < 0 {
			return fmt.Errorf("counter %q: negative increment %d", name, inc)
		}
		s.LoopCounters[name] += inc
	}

	if d.Validation != nil {
		v := *d.Validation
		v.Comprehensiveness = clamp01(v.Comprehensiveness)
		v.Currency = clamp01(v.Currency)
		v.Relevance = clamp01(v.Relevance)
		s.Validation = &v
	}
	if d.CoherenceAnalysis != nil {
		s.CoherenceAnalysis = *d.CoherenceAnalysis
	}
	if d.IncoherentSections != nil {
		s.IncoherentSections = append([]string(nil), (*d.IncoherentSections)...)
	}
	if d.Assembled != nil {
		s.Assembled = *d.Assembled
	}
	if !d.AppliedAt.IsZero() {
		s.UpdatedAt = d.AppliedAt
	}
	return nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// StringPtr is a convenience for building deltas.
func StringPtr(s string) *string { return &s }
