package state

import (
	"sort"
	"strings"
)

// Normalizer canonicalizes a research question for dedup. The equality
// strategy is pluggable; the default is plain string normalization.
type Normalizer func(string) string

// NormalizeQuestion lower-cases, trims, collapses inner whitespace and
// strips trailing punctuation.
func NormalizeQuestion(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	q = strings.Join(strings.Fields(q), " ")
	return strings.TrimRight(q, ".?! ")
}

// GapQueue is an ordered worklist of knowledge gaps awaiting targeted
// research. It is a view recomputed from ResearchState.Gaps, never persisted
// separately; ordering is importance descending with stable insertion-order
// tie-break.
type GapQueue struct {
	gaps      []Gap
	normalize Normalizer
	seen      map[string]struct{}
	dequeued  map[string]struct{}
}

// NewGapQueue builds the queue view over the given gaps. A nil normalizer
// falls back to NormalizeQuestion.
func NewGapQueue(gaps []Gap, normalize Normalizer) *GapQueue {
	if normalize == nil {
		normalize = NormalizeQuestion
	}
	q := &GapQueue{
		gaps:      append([]Gap(nil), gaps...),
		normalize: normalize,
		seen:      make(map[string]struct{}, len(gaps)),
		dequeued:  make(map[string]struct{}),
	}
	for _, g := range gaps {
		q.seen[normalize(g.ResearchQuestion)] = struct{}{}
	}
	return q
}

// Enqueue adds a gap unless an equivalent research question is already
// present. Returns whether the gap was inserted.
func (q *GapQueue) Enqueue(g Gap) bool {
	key := q.normalize(g.ResearchQuestion)
	if _, dup := q.seen[key]; dup {
		return false
	}
	q.seen[key] = struct{}{}
	q.gaps = append(q.gaps, g)
	return true
}

// DequeueBatch returns up to n unresolved gaps ordered by importance
// descending, then insertion order. A gap is handed out at most once per
// queue instance, which scopes it to one targeted-research pass.
func (q *GapQueue) DequeueBatch(n int) []Gap {
	if n <= 0 {
		return nil
	}
	type indexed struct {
		gap Gap
		pos int
	}
	var candidates []indexed
	for i, g := range q.gaps {
		if g.Resolved {
			continue
		}
		if _, taken := q.dequeued[g.ID]; taken {
			continue
		}
		candidates = append(candidates, indexed{gap: g, pos: i})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		ra, rb := candidates[a].gap.Importance.Rank(), candidates[b].gap.Importance.Rank()
		if ra != rb {
			return ra > rb
		}
		return candidates[a].pos < candidates[b].pos
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]Gap, 0, len(candidates))
	for _, c := range candidates {
		q.dequeued[c.gap.ID] = struct{}{}
		out = append(out, c.gap)
	}
	return out
}

// MarkResolved flags a gap as resolved within the view.
func (q *GapQueue) MarkResolved(id string) {
	for i := range q.gaps {
		if q.gaps[i].ID == id {
			q.gaps[i].Resolved = true
			return
		}
	}
}

// Pending reports how many unresolved gaps remain.
func (q *GapQueue) Pending() int {
	n := 0
	for _, g := range q.gaps {
		if !g.Resolved {
			n++
		}
	}
	return n
}
