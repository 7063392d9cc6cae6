package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGapQueueEnqueueDedup(t *testing.T) {
	q := NewGapQueue(nil, nil)

	assert.True(t, q.Enqueue(Gap{ID: "g1", ResearchQuestion: "How does grid storage scale?"}))
	assert.False(t, q.Enqueue(Gap{ID: "g2", ResearchQuestion: "  how does grid  storage scale?? "}),
		"normalized duplicates are rejected")
	assert.Equal(t, 1, q.Pending())

	// Idempotent under repeated insertion.
	assert.False(t, q.Enqueue(Gap{ID: "g3", ResearchQuestion: "How does grid storage scale?"}))
	assert.Equal(t, 1, q.Pending())
}

func TestGapQueueSeedsDedupFromExistingGaps(t *testing.T) {
	existing := []Gap{{ID: "g1", ResearchQuestion: "What is the levelized cost?"}}
	q := NewGapQueue(existing, nil)
	assert.False(t, q.Enqueue(Gap{ID: "g2", ResearchQuestion: "what is the levelized cost"}))
}

func TestGapQueueDequeueBatchOrdering(t *testing.T) {
	q := NewGapQueue([]Gap{
		{ID: "a", Importance: ImportanceLow, ResearchQuestion: "qa"},
		{ID: "b", Importance: ImportanceHigh, ResearchQuestion: "qb"},
		{ID: "c", Importance: ImportanceMedium, ResearchQuestion: "qc"},
		{ID: "d", Importance: ImportanceHigh, ResearchQuestion: "qd"},
	}, nil)

	batch := q.DequeueBatch(3)
	ids := []string{batch[0].ID, batch[1].ID, batch[2].ID}
	assert.Equal(t, []string{"b", "d", "c"}, ids,
		"importance descending, insertion order breaks ties")
}

func TestGapQueueDequeueAtMostOncePerPass(t *testing.T) {
	q := NewGapQueue([]Gap{
		{ID: "a", Importance: ImportanceHigh, ResearchQuestion: "qa"},
		{ID: "b", Importance: ImportanceLow, ResearchQuestion: "qb"},
	}, nil)

	first := q.DequeueBatch(1)
	assert.Equal(t, "a", first[0].ID)

	second := q.DequeueBatch(2)
	assert.Len(t, second, 1)
	assert.Equal(t, "b", second[0].ID, "already-dequeued gaps are not handed out twice")
}

func TestGapQueueSkipsResolved(t *testing.T) {
	q := NewGapQueue([]Gap{
		{ID: "a", Importance: ImportanceHigh, ResearchQuestion: "qa", Resolved: true},
		{ID: "b", Importance: ImportanceLow, ResearchQuestion: "qb"},
	}, nil)

	batch := q.DequeueBatch(2)
	assert.Len(t, batch, 1)
	assert.Equal(t, "b", batch[0].ID)

	q.MarkResolved("b")
	assert.Equal(t, 0, q.Pending())
}

func TestGapQueueCustomNormalizer(t *testing.T) {
	exact := func(s string) string { return s }
	q := NewGapQueue(nil, exact)
	assert.True(t, q.Enqueue(Gap{ID: "a", ResearchQuestion: "Q"}))
	assert.True(t, q.Enqueue(Gap{ID: "b", ResearchQuestion: "q"}),
		"exact-match normalizer treats case variants as distinct")
}
