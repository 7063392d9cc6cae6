package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quillworks/quill/internal/metrics"
)

// retrying decorates a TextGenerator with bounded retry and exponential
// backoff. Retry lives at the collaborator-call level only: the stage that
// issued the call is never re-run.
type retrying struct {
	inner    TextGenerator
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// WithRetry wraps gen so each Generate call is attempted up to attempts
// times with exponential backoff starting at backoff, each attempt bounded
// by timeout.
func WithRetry(gen TextGenerator, attempts int, backoff, timeout time.Duration, logger *zap.Logger) TextGenerator {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retrying{inner: gen, attempts: attempts, backoff: backoff, timeout: timeout, logger: logger}
}

func (r *retrying) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	var lastErr error
	delay := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if r.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		text, err := r.inner.Generate(callCtx, prompt, maxTokens, temperature)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < r.attempts {
			metrics.CollaboratorRetries.WithLabelValues("generator").Inc()
			r.logger.Warn("generation attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", &GenerationError{Cause: ctx.Err()}
			}
			delay *= 2
		}
	}
	return "", lastErr
}
