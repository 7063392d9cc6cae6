package search

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quillworks/quill/internal/metrics"
)

// retrying decorates a WebSearcher with bounded retry, exponential backoff
// and an optional rate limiter shared across runs.
type retrying struct {
	inner    WebSearcher
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// WithRetry wraps s so each Search call is attempted up to attempts times.
// limiter may be nil.
func WithRetry(s WebSearcher, attempts int, backoff, timeout time.Duration, limiter *rate.Limiter, logger *zap.Logger) WebSearcher {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retrying{inner: s, attempts: attempts, backoff: backoff, timeout: timeout, limiter: limiter, logger: logger}
}

func (r *retrying) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	var lastErr error
	delay := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, &SearchError{Cause: err}
			}
		}
		callCtx := ctx
		var cancel context.CancelFunc
		if r.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		results, err := r.inner.Search(callCtx, query, maxResults)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return results, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < r.attempts {
			metrics.CollaboratorRetries.WithLabelValues("searcher").Inc()
			r.logger.Warn("search attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &SearchError{Cause: ctx.Err()}
			}
			delay *= 2
		}
	}
	return nil, lastErr
}
