package engine

import (
	"context"
	"time"

	"github.com/quillworks/quill/internal/state"
)

// Event types emitted over the run's lifetime.
const (
	EventRunStarted     = "run_started"
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventForcedForward  = "forced_forward"
	EventRunCompleted   = "run_completed"
	EventRunFailed      = "run_failed"
)

// Event is one observable step of a run.
type Event struct {
	RunID         string       `json:"run_id"`
	Type          string       `json:"type"`
	Stage         state.Status `json:"stage,omitempty"`
	Next          state.Status `json:"next,omitempty"`
	ForcedForward bool         `json:"forced_forward,omitempty"`
	Error         string       `json:"error,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// EventSink receives run events. Publish must not block the run for long;
// sinks that fan out over the network buffer internally.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// nopSink drops everything.
type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}
