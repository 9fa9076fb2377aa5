// Package upstream defines the contract PolicyPulse uses to talk to the
// legislative data provider (spec.md §4.6) and a rate-limited, retrying
// decorator that any concrete Client implementation can be wrapped in.
package upstream

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aphchrisc/policypulse/internal/legislation"
)

// Session is one legislative session for a jurisdiction.
type Session struct {
	ID       string
	State    string
	Name     string
	YearEnd  int
	SineDie  bool
}

// MasterListEntry is one row of a session's master change-hash index.
type MasterListEntry struct {
	BillID     string
	ChangeHash string
}

// BillDetail is the full upstream bill payload fetched by id.
type BillDetail struct {
	Bill       legislation.Bill
	Sponsors   []legislation.BillSponsor
	Amendments []legislation.Amendment
	Texts      []RawBillText
}

// RawBillText is one entry of a bill detail response's texts array, in the
// shape the wire format actually delivers it (spec.md §6): a stateLink to
// fetch the document from, or a base64-encoded doc attached directly, but
// not yet resolved into the plain content a BillStore can persist. Resolving
// a RawBillText into a legislation.BillText is the text acquisition policy
// (spec.md §4.8), applied by the sync package before values reach
// BillStore.UpsertBill.
type RawBillText struct {
	DocID         string
	VersionNumber int
	TextType      string
	Date          string
	MimeID        int
	TextHash      string
	StateLink     string
	Doc           string // base64-encoded, present only as a fallback source
}

// FetchResult is the outcome of fetchUrl: raw bytes plus a best-effort MIME
// hint derived from the response's Content-Type header.
type FetchResult struct {
	Bytes    []byte
	MimeHint string
}

// SearchResult is one row returned by searchRaw.
type SearchResult struct {
	BillID string
	Title  string
	Score  float64
}

// Client is the contract consumed by SyncEngine and BillStore. HTTPClient
// (httpclient.go) is the LegiScan-backed implementation; RateLimited wraps
// any Client with throttling and retries.
type Client interface {
	GetSessionList(ctx context.Context, stateCode string) ([]Session, error)
	GetMasterListRaw(ctx context.Context, sessionID string) (map[string]MasterListEntry, error)
	GetBill(ctx context.Context, billID string) (BillDetail, error)
	GetBillText(ctx context.Context, docID string) ([]byte, error)
	SearchRaw(ctx context.Context, state, query string, year int) ([]SearchResult, error)
	FetchURL(ctx context.Context, stateLink string) (FetchResult, error)
}

// RateLimitConfig tunes the token-bucket limiter and retry/backoff applied
// by RateLimited. Grounded on manifold's internal/tools/web/search.go
// RateLimitConfig/DefaultRateLimitConfig.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	JitterPercent     float64
}

// DefaultRateLimitConfig mirrors spec.md §6's defaults: MaxRetries=3,
// base retry delay and rate-limit delay both ~1s.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         2,
		MaxRetries:        3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		JitterPercent:     0.3,
	}
}

type tokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	refillAt   time.Time
	refillRate time.Duration
}

func newTokenBucket(capacity int, refillRate time.Duration) *tokenBucket {
	return &tokenBucket{capacity: capacity, tokens: capacity, refillAt: time.Now(), refillRate: refillRate}
}

func (tb *tokenBucket) take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	if now.After(tb.refillAt) {
		elapsed := now.Sub(tb.refillAt)
		add := int(elapsed / tb.refillRate)
		if add > 0 {
			tb.tokens = min(tb.capacity, tb.tokens+add)
			tb.refillAt = tb.refillAt.Add(time.Duration(add) * tb.refillRate)
		}
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *tokenBucket) wait(ctx context.Context) error {
	for {
		if tb.take() {
			return nil
		}
		tb.mu.Lock()
		wait := time.Until(tb.refillAt)
		tb.mu.Unlock()
		if wait <= 0 {
			wait = tb.refillRate
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// rateLimited wraps a Client with a token-bucket limiter and exponential
// backoff with jitter, turning persistent failures into RateLimitError or
// ApiError per spec.md §7. An operation that keeps failing with transient
// 5xx/timeout-style errors is attempted cfg.MaxRetries times in total;
// context cancellation aborts immediately.
type rateLimited struct {
	inner   Client
	bucket  *tokenBucket
	cfg     RateLimitConfig
	source  string
}

// RateLimited wraps inner with a shared rate limiter/retry policy. source
// names the upstream in error messages (e.g. "legiscan").
func RateLimited(inner Client, cfg RateLimitConfig, source string) Client {
	refillRate := time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
	return &rateLimited{
		inner:  inner,
		bucket: newTokenBucket(cfg.BurstSize, refillRate),
		cfg:    cfg,
		source: source,
	}
}

func retry[T any](ctx context.Context, rl *rateLimited, op func() (T, error)) (T, error) {
	var zero T
	if err := rl.bucket.wait(ctx); err != nil {
		return zero, &legislation.RateLimitError{Source: rl.source, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < rl.cfg.MaxRetries; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return zero, wrapUpstreamError(rl.source, err)
		}

		delay := rl.cfg.BaseDelay * (1 << attempt)
		if delay > rl.cfg.MaxDelay {
			delay = rl.cfg.MaxDelay
		}
		jitter := time.Duration(float64(delay) * rl.cfg.JitterPercent * rand.Float64())
		select {
		case <-ctx.Done():
			return zero, &legislation.RateLimitError{Source: rl.source, Err: ctx.Err()}
		case <-time.After(delay + jitter):
		}
	}
	return zero, &legislation.ApiError{Source: rl.source, Message: "exhausted retries", Err: lastErr}
}

// retryableError is an optional interface a concrete Client's errors can
// implement to mark themselves as transient (5xx, timeouts, connection
// resets) versus terminal (4xx, malformed payloads). Errors that don't
// implement it are treated as terminal, matching spec.md §9's "distinguish
// retryable vs terminal errors by taxonomy rather than by substring match".
type retryableError interface {
	Retryable() bool
}

func isRetryable(err error) bool {
	if r, ok := err.(retryableError); ok {
		return r.Retryable()
	}
	return false
}

func wrapUpstreamError(source string, err error) error {
	return &legislation.ApiError{Source: source, Message: err.Error(), Err: err}
}

func (rl *rateLimited) GetSessionList(ctx context.Context, stateCode string) ([]Session, error) {
	return retry(ctx, rl, func() ([]Session, error) { return rl.inner.GetSessionList(ctx, stateCode) })
}

func (rl *rateLimited) GetMasterListRaw(ctx context.Context, sessionID string) (map[string]MasterListEntry, error) {
	return retry(ctx, rl, func() (map[string]MasterListEntry, error) { return rl.inner.GetMasterListRaw(ctx, sessionID) })
}

func (rl *rateLimited) GetBill(ctx context.Context, billID string) (BillDetail, error) {
	return retry(ctx, rl, func() (BillDetail, error) { return rl.inner.GetBill(ctx, billID) })
}

func (rl *rateLimited) GetBillText(ctx context.Context, docID string) ([]byte, error) {
	return retry(ctx, rl, func() ([]byte, error) { return rl.inner.GetBillText(ctx, docID) })
}

func (rl *rateLimited) SearchRaw(ctx context.Context, state, query string, year int) ([]SearchResult, error) {
	return retry(ctx, rl, func() ([]SearchResult, error) { return rl.inner.SearchRaw(ctx, state, query, year) })
}

func (rl *rateLimited) FetchURL(ctx context.Context, stateLink string) (FetchResult, error) {
	return retry(ctx, rl, func() (FetchResult, error) { return rl.inner.FetchURL(ctx, stateLink) })
}
