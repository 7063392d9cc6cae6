// Package streaming fans run events out to live subscribers. The in-memory
// Hub serves SSE/WebSocket clients on this process; RedisStream persists
// events so other processes and late joiners can read them.
package streaming

import (
	"context"
	"sync"

	"github.com/quillworks/quill/internal/engine"
)

// SeqEvent is an engine event with the per-run sequence number the hub
// assigned at publish time.
type SeqEvent struct {
	engine.Event
	Seq uint64 `json:"seq"`
}

// Hub is an in-memory pub/sub for run events with a per-run ring buffer for
// replay and Last-Event-ID support. Slow subscribers drop events rather
// than block the run.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan SeqEvent]struct{}
	history     map[string]*ring
	capacity    int
}

// NewHub creates a hub keeping up to capacity events per run for replay.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		subscribers: make(map[string]map[chan SeqEvent]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Publish implements engine.EventSink.
func (h *Hub) Publish(_ context.Context, ev engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rg := h.history[ev.RunID]
	if rg == nil {
		rg = newRing(h.capacity)
		h.history[ev.RunID] = rg
	}
	sev := SeqEvent{Event: ev, Seq: rg.nextSeq}
	rg.nextSeq++
	rg.push(sev)

	// Fan out under the lock: sends never block, and Unsubscribe holds the
	// same lock, so a channel can never be closed mid-send.
	for ch := range h.subscribers[ev.RunID] {
		select {
		case ch <- sev:
		default:
		}
	}
}

// Subscribe registers a channel for a run's events. The caller must drain
// it and call Unsubscribe when done.
func (h *Hub) Subscribe(runID string, buffer int) chan SeqEvent {
	ch := make(chan SeqEvent, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[runID]
	if subs == nil {
		subs = make(map[chan SeqEvent]struct{})
		h.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(runID string, ch chan SeqEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscribers[runID]; ok {
		if _, present := subs[ch]; present {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, runID)
		}
	}
}

// ReplaySince returns buffered events with Seq > since, best effort within
// ring capacity.
func (h *Hub) ReplaySince(runID string, since uint64) []SeqEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rg := h.history[runID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// ring is a fixed-capacity buffer of recent events.
type ring struct {
	buf     []SeqEvent
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]SeqEvent, capacity)} }

func (r *ring) push(e SeqEvent) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []SeqEvent {
	if r.count == 0 {
		return nil
	}
	out := make([]SeqEvent, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// Fanout publishes to every sink in order.
type Fanout []engine.EventSink

// Publish implements engine.EventSink.
func (f Fanout) Publish(ctx context.Context, ev engine.Event) {
	for _, s := range f {
		s.Publish(ctx, ev)
	}
}
