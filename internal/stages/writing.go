package stages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/quillworks/quill/internal/state"
)

type outlineReply []struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	KeyPoints []string `json:"key_points"`
}

// defaultOutline is the classic paper structure used when the model's
// outline is unusable.
func defaultOutline() []state.SectionSpec {
	names := []struct{ id, title string }{
		{"abstract", "Abstract"},
		{"introduction", "Introduction"},
		{"literature_review", "Literature Review"},
		{"methodology", "Methodology"},
		{"results", "Results"},
		{"discussion", "Discussion"},
		{"conclusion", "Conclusion"},
	}
	out := make([]state.SectionSpec, 0, len(names))
	for _, n := range names {
		out = append(out, state.SectionSpec{ID: n.id, Title: n.title})
	}
	return out
}

// GenerateOutline turns the consolidated summary into the paper's section
// plan.
func GenerateOutline(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	text, err := deps.Generator.Generate(ctx,
		fmt.Sprintf(outlinePrompt, snap.Topic, snap.Thesis, snap.LiteratureSummary),
		deps.Params.MaxTokens, deps.Params.Temperature)
	if err != nil {
		return state.Delta{}, err
	}

	var reply outlineReply
	outline := make([]state.SectionSpec, 0, len(reply))
	if decodeJSON(text, &reply) {
		seen := make(map[string]struct{}, len(reply))
		for _, sec := range reply {
			id := sectionID(sec.ID, sec.Title)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			title := strings.TrimSpace(sec.Title)
			if title == "" {
				title = titleFromID(id)
			}
			outline = append(outline, state.SectionSpec{ID: id, Title: title, KeyPoints: sec.KeyPoints})
		}
	}
	if len(outline) == 0 {
		deps.logger().Warn("unusable outline output, falling back to default structure",
			zap.String("run_id", snap.RunID))
		outline = defaultOutline()
	}
	return state.Delta{Outline: outline}, nil
}

// DraftSection writes or revises exactly one section per invocation.
// Flagged incoherent sections take priority over pending ones; within each
// group, outline order wins.
func DraftSection(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	if len(snap.IncoherentSections) > 0 {
		return reviseSection(ctx, snap, deps)
	}

	ledger := state.NewSectionLedger(snap.Outline, snap.Drafts)
	sec, ok := ledger.NextPending()
	if !ok {
		// Routing should never dispatch drafting with nothing to do.
		return state.Delta{}, fmt.Errorf("drafting dispatched with no pending section")
	}

	keyPoints := "- (none specified)"
	if len(sec.KeyPoints) > 0 {
		keyPoints = "- " + strings.Join(sec.KeyPoints, "\n- ")
	}
	text, err := deps.Generator.Generate(ctx,
		fmt.Sprintf(draftSectionPrompt, sec.Title, snap.Topic, snap.Thesis, keyPoints, snap.LiteratureSummary),
		deps.Params.MaxTokens, deps.Params.Temperature)
	if err != nil {
		return state.Delta{}, err
	}

	draft := ledger.Advance(sec.ID, strings.TrimSpace(text))
	deps.logger().Info("section drafted",
		zap.String("run_id", snap.RunID),
		zap.String("section", sec.ID),
		zap.Int("revision", draft.RevisionCount),
	)
	return state.Delta{Drafts: map[string]state.DraftedSection{sec.ID: draft}}, nil
}

func reviseSection(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	id := snap.IncoherentSections[0]
	draft, ok := snap.Drafts[id]
	if !ok {
		// A flag for a section that was never drafted: clear it and move on.
		rest := append([]string(nil), snap.IncoherentSections[1:]...)
		return state.Delta{IncoherentSections: &rest}, nil
	}

	title := id
	for _, sec := range snap.Outline {
		if sec.ID == id {
			title = sec.Title
			break
		}
	}
	text, err := deps.Generator.Generate(ctx,
		fmt.Sprintf(reviseSectionPrompt, title, snap.Topic, snap.CoherenceAnalysis, draft.Content),
		deps.Params.MaxTokens, deps.Params.Temperature)
	if err != nil {
		return state.Delta{}, err
	}

	ledger := state.NewSectionLedger(snap.Outline, snap.Drafts)
	revised := ledger.Advance(id, strings.TrimSpace(text))
	rest := append([]string(nil), snap.IncoherentSections[1:]...)
	deps.logger().Info("section revised",
		zap.String("run_id", snap.RunID),
		zap.String("section", id),
	)
	return state.Delta{
		Drafts:             map[string]state.DraftedSection{id: revised},
		IncoherentSections: &rest,
	}, nil
}

// CheckCompletion is a pure decision point: routing reads the section ledger
// directly, so the stage itself only reports progress.
func CheckCompletion(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	ledger := state.NewSectionLedger(snap.Outline, snap.Drafts)
	deps.logger().Info("completion check",
		zap.String("run_id", snap.RunID),
		zap.Int("pending_sections", ledger.PendingCount()),
	)
	return state.Delta{}, nil
}

type coherenceReply struct {
	Coherent           bool     `json:"coherent"`
	IncoherentSections []string `json:"incoherent_sections"`
	Analysis           string   `json:"analysis"`
}

// CheckCoherence evaluates cross-section flow and flags the sections that
// need targeted revision. Unusable checker output is treated as coherent so
// the run keeps moving; the revision budget exists for real findings.
func CheckCoherence(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	var summaries strings.Builder
	for _, sec := range snap.Outline {
		if d, ok := snap.Drafts[sec.ID]; ok {
			fmt.Fprintf(&summaries, "%s (%s):\n%s\n\n", sec.Title, sec.ID, clip(d.Content, 300))
		}
	}

	text, err := deps.Generator.Generate(ctx,
		fmt.Sprintf(coherencePrompt, snap.Topic, snap.Thesis, summaries.String()),
		deps.Params.MaxTokens, deps.Params.Temperature)
	if err != nil {
		return state.Delta{}, err
	}

	var reply coherenceReply
	if !decodeJSON(text, &reply) {
		deps.logger().Warn("unparseable coherence output, treating paper as coherent",
			zap.String("run_id", snap.RunID))
		reply = coherenceReply{Coherent: true}
	}

	flagged := []string{}
	if !reply.Coherent {
		known := make(map[string]struct{}, len(snap.Drafts))
		for id := range snap.Drafts {
			known[id] = struct{}{}
		}
		for _, id := range reply.IncoherentSections {
			id = strings.TrimSpace(id)
			if _, ok := known[id]; ok {
				flagged = append(flagged, id)
			}
		}
	}
	analysis := strings.TrimSpace(reply.Analysis)
	return state.Delta{
		IncoherentSections: &flagged,
		CoherenceAnalysis:  &analysis,
	}, nil
}

func titleFromID(id string) string {
	words := strings.Split(id, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func sectionID(id, title string) string {
	id = strings.TrimSpace(strings.ToLower(id))
	if id == "" {
		id = strings.TrimSpace(strings.ToLower(title))
	}
	id = strings.Join(strings.Fields(id), "_")
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
