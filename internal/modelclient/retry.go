package modelclient

import (
	"context"
	"math/rand"
	"time"

	"github.com/aphchrisc/policypulse/internal/legislation"
)

// RetryConfig tunes the exponential-backoff retry RateLimited applies around
// a Client. Mirrors internal/upstream's RateLimitConfig retry knobs, minus
// the token bucket: model calls are paced by AnalysisEngine's bounded
// concurrency (spec.md §5), not a shared requests-per-second limiter, so
// only the retry/backoff half of that pattern is needed here.
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent float64
}

// DefaultRetryConfig mirrors spec.md §4.7's stated defaults (maxRetries=3,
// exponential base 1.0s), matching config.Config's MaxRetries/RetryBaseDelay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		JitterPercent: 0.3,
	}
}

// retryableError is the same capability interface internal/upstream uses:
// an error opts into retry by implementing Retryable() bool rather than by
// substring-matching its message. *legislation.ApiError implements it.
type retryableError interface {
	Retryable() bool
}

func isRetryable(err error) bool {
	r, ok := err.(retryableError)
	return ok && r.Retryable()
}

type rateLimited struct {
	inner  Client
	cfg    RetryConfig
	source string
}

// RateLimited wraps inner with spec.md §4.7's retry/backoff policy,
// distinguishing rate-limit/transient failures (retried) from fatal ones
// (returned immediately), the same decorator shape as
// internal/upstream.RateLimited. source names the provider in error
// messages (e.g. "openai", "anthropic").
func RateLimited(inner Client, cfg RetryConfig, source string) Client {
	return &rateLimited{inner: inner, cfg: cfg, source: source}
}

func retryOp[T any](ctx context.Context, cfg RetryConfig, source string, op func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	maxAttempts := cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return zero, err
		}

		delay := cfg.BaseDelay * (1 << attempt)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		jitter := time.Duration(float64(delay) * cfg.JitterPercent * rand.Float64())
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay + jitter):
		}
	}
	return zero, &legislation.ApiError{Source: source, Message: "exhausted retries", Err: lastErr}
}

func (rl *rateLimited) SupportsVision() bool { return rl.inner.SupportsVision() }

func (rl *rateLimited) StructuredCompletion(ctx context.Context, prompt, text string, schema map[string]any) (legislation.StructuredAnalysis, error) {
	return retryOp(ctx, rl.cfg, rl.source, func() (legislation.StructuredAnalysis, error) {
		return rl.inner.StructuredCompletion(ctx, prompt, text, schema)
	})
}

func (rl *rateLimited) StructuredCompletionWithPdf(ctx context.Context, prompt string, pdfBytes []byte, schema map[string]any) (legislation.StructuredAnalysis, error) {
	return retryOp(ctx, rl.cfg, rl.source, func() (legislation.StructuredAnalysis, error) {
		return rl.inner.StructuredCompletionWithPdf(ctx, prompt, pdfBytes, schema)
	})
}
