package legislation

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra context, matching the
// teacher's persistence.ErrNotFound/ErrForbidden idiom
// (internal/persistence/databases/projects_store_postgres.go).
var (
	// ErrNotFound indicates the requested bill id is absent (spec.md §7
	// NotFoundError).
	ErrNotFound = errors.New("legislation: not found")

	// ErrCancelled indicates the caller's context was cancelled mid-operation
	// (spec.md §7 CancellationError).
	ErrCancelled = errors.New("legislation: cancelled")
)

// RateLimitError indicates upstream or the model enforced a rate limit that
// survived retry/backoff. Retryable responsibility lives in the caller's
// caller; by the time this surfaces, retries are exhausted.
type RateLimitError struct {
	Source     string // "upstream" | "model"
	RetryAfter string
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %v", e.Source, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ApiError indicates upstream returned a non-OK status or malformed
// envelope. Retryable for 5xx/timeouts by the caller; fatal otherwise.
type ApiError struct {
	Source     string
	StatusCode int
	Message    string
	Err        error
}

func (e *ApiError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: api error (status %d): %s", e.Source, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: api error: %s", e.Source, e.Message)
}

func (e *ApiError) Unwrap() error { return e.Err }

// Retryable classifies rate-limit (429) and server-side (5xx) statuses as
// transient; everything else, including a zero/unknown status, is terminal.
// Satisfies the retryableError capability interface used by upstream and
// modelclient's retry decorators.
func (e *ApiError) Retryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// TokenLimitError indicates content exceeds a hard ceiling in a path where
// chunking is disallowed.
type TokenLimitError struct {
	Tokens int
	Limit  int
}

func (e *TokenLimitError) Error() string {
	return fmt.Sprintf("legislation: token count %d exceeds limit %d", e.Tokens, e.Limit)
}

// ContentProcessingError indicates chunking produced no valid analyses, or
// PDF extraction failed with no PDF-capable model path available.
type ContentProcessingError struct {
	BillID int64
	Reason string
	Err    error
}

func (e *ContentProcessingError) Error() string {
	return fmt.Sprintf("legislation: content processing failed for bill %d: %s", e.BillID, e.Reason)
}

func (e *ContentProcessingError) Unwrap() error { return e.Err }

// PersistenceError wraps a rolled-back transaction's underlying database
// error with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("legislation: persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// BillPersistenceError is the BillStore-specific alias of PersistenceError
// named in spec.md §4.8, kept distinct so callers can errors.As() for it
// specifically if they need to distinguish sync-time from analysis-time
// persistence failures.
type BillPersistenceError struct {
	PersistenceError
}
