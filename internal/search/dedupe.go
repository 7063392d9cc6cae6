package search

import (
	"github.com/quillworks/quill/internal/state"
)

// Dedupe drops results whose normalized URL was already seen, preserving
// rank order.
func Dedupe(results []Result) []Result {
	seen := make(map[string]struct{}, len(results))
	out := results[:0]
	for _, r := range results {
		key := state.NormalizeURL(r.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
