package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/quillworks/quill/internal/state"
)

// FormatCitations runs the citation-formatting collaborator over every
// gathered source, in insertion order, keyed by source URL.
func FormatCitations(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	entries := make(map[string]state.CitationEntry, len(snap.Sources))
	for i, src := range snap.Sources {
		entries[src.URL] = deps.Formatter.Format(src, snap.CitationStyle, i+1)
	}
	deps.logger().Info("citations formatted",
		zap.String("run_id", snap.RunID),
		zap.Int("count", len(entries)),
		zap.String("style", snap.CitationStyle),
	)
	return state.Delta{Citations: entries}, nil
}

// AssemblePaper builds the final document body: title, thesis, sections in
// outline order, then references numbered in citation order. Rendering the
// document into any particular file format stays outside the core.
func AssemblePaper(ctx context.Context, snap *state.ResearchState, deps Deps) (state.Delta, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", snap.WorkingTitle)
	if snap.Thesis != "" {
		fmt.Fprintf(&b, "**Thesis.** %s\n\n", snap.Thesis)
	}
	for _, sec := range snap.Outline {
		draft, ok := snap.Drafts[sec.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", sec.Title, draft.Content)
	}

	if len(snap.Citations) > 0 {
		entries := make([]state.CitationEntry, 0, len(snap.Citations))
		for _, e := range snap.Citations {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Number < entries[j].Number })
		b.WriteString("## References\n\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "%s\n\n", e.Formatted)
		}
	}

	doc := strings.TrimSpace(b.String()) + "\n"
	deps.logger().Info("paper assembled",
		zap.String("run_id", snap.RunID),
		zap.Int("sections", len(snap.Drafts)),
		zap.Int("bytes", len(doc)),
	)
	return state.Delta{Assembled: &doc}, nil
}
