// Package citations provides the citation-formatting collaborator. The
// workflow core passes the style string through opaquely; the mapping from
// style to text lives here.
package citations

import (
	"fmt"
	"strings"
	"time"

	"github.com/quillworks/quill/internal/state"
)

// Formatter turns a source into a formatted citation entry.
type Formatter interface {
	Format(src state.Source, style string, number int) state.CitationEntry
}

// StyleFormatter formats citations for the common academic styles. Unknown
// styles fall back to APA.
type StyleFormatter struct{}

// NewStyleFormatter returns the default formatter.
func NewStyleFormatter() *StyleFormatter { return &StyleFormatter{} }

// Format renders one citation. Web sources rarely carry authors, so the
// title leads and the retrieval date anchors the reference.
func (f *StyleFormatter) Format(src state.Source, style string, number int) state.CitationEntry {
	retrieved := src.RetrievedAt
	if retrieved.IsZero() {
		retrieved = time.Now()
	}
	date := retrieved.Format("January 2, 2006")
	title := src.Title
	if title == "" {
		title = "Untitled source"
	}

	styleKey := strings.ToUpper(strings.TrimSpace(style))
	var formatted string
	switch styleKey {
	case "MLA":
		formatted = fmt.Sprintf("%q Web. %s. <%s>.", title, date, src.URL)
	case "CHICAGO":
		formatted = fmt.Sprintf("%q Accessed %s. %s.", title, date, src.URL)
	case "IEEE":
		formatted = fmt.Sprintf("[%d] %q [Online]. Available: %s. [Accessed: %s].", number, title, src.URL, date)
	default:
		styleKey = "APA"
		formatted = fmt.Sprintf("(n.d.). %s. Retrieved %s, from %s", title, date, src.URL)
	}

	return state.CitationEntry{
		SourceURL: src.URL,
		Number:    number,
		Style:     styleKey,
		Formatted: formatted,
	}
}
