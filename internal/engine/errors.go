package engine

import (
	"errors"
	"fmt"

	"github.com/quillworks/quill/internal/state"
)

// ErrCancelled marks a run stopped by its context between stages.
var ErrCancelled = errors.New("run cancelled")

// ConfigurationError rejects a run before any stage executes.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// StageExecutionError wraps a stage failure with the status it ran in.
type StageExecutionError struct {
	Stage state.Status
	Cause error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Cause)
}

func (e *StageExecutionError) Unwrap() error { return e.Cause }

// RoutingViolationError reports a decision outside the registered edge set.
// It always indicates a programming error, never bad input.
type RoutingViolationError struct {
	From state.Status
	To   state.Status
}

func (e *RoutingViolationError) Error() string {
	return fmt.Sprintf("routing violation: %s -> %s is not a registered transition", e.From, e.To)
}
