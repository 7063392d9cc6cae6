package state

// SectionStatus is the drafting state of one outline section.
type SectionStatus string

const (
	SectionPending SectionStatus = "pending"
	SectionDrafted SectionStatus = "drafted"
	SectionRevised SectionStatus = "revised"
)

// SectionLedger tracks per-section drafting progress. It is a view derived
// from the outline and the drafts map; completion and coherence routing
// consult it to decide whether drafting must run again.
type SectionLedger struct {
	outline []SectionSpec
	drafts  map[string]DraftedSection
}

// NewSectionLedger builds the ledger view. The drafts map is copied so
// Advance never touches executor-owned state.
func NewSectionLedger(outline []SectionSpec, drafts map[string]DraftedSection) *SectionLedger {
	copied := make(map[string]DraftedSection, len(drafts))
	for k, v := range drafts {
		copied[k] = v
	}
	return &SectionLedger{outline: append([]SectionSpec(nil), outline...), drafts: copied}
}

// StatusOf reports the drafting status of a section. Unknown sections are
// pending.
func (l *SectionLedger) StatusOf(sectionID string) SectionStatus {
	d, ok := l.drafts[sectionID]
	if !ok {
		return SectionPending
	}
	if d.RevisionCount > 0 {
		return SectionRevised
	}
	return SectionDrafted
}

// Advance records new content for a section: pending moves to drafted,
// drafted or revised moves to revised with the revision count bumped.
// Sections never move backward. The updated draft is returned for inclusion
// in a stage delta.
func (l *SectionLedger) Advance(sectionID, content string) DraftedSection {
	next := DraftedSection{Content: content, Coherent: true}
	if prev, ok := l.drafts[sectionID]; ok {
		next.RevisionCount = prev.RevisionCount + 1
	}
	l.drafts[sectionID] = next
	return next
}

// NextPending returns the first outline section without a draft, in outline
// order.
func (l *SectionLedger) NextPending() (SectionSpec, bool) {
	for _, sec := range l.outline {
		if _, ok := l.drafts[sec.ID]; !ok {
			return sec, true
		}
	}
	return SectionSpec{}, false
}

// PendingCount reports how many outline sections still lack a draft.
func (l *SectionLedger) PendingCount() int {
	n := 0
	for _, sec := range l.outline {
		if _, ok := l.drafts[sec.ID]; !ok {
			n++
		}
	}
	return n
}

// Complete reports whether every outline section has a draft.
func (l *SectionLedger) Complete() bool {
	return len(l.outline) > 0 && l.PendingCount() == 0
}
