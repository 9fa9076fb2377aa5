package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transientErr struct{ msg string }

func (e transientErr) Error() string  { return e.msg }
func (e transientErr) Retryable() bool { return true }

type terminalErr struct{ msg string }

func (e terminalErr) Error() string { return e.msg }

type countingClient struct {
	failuresBeforeSuccess int
	calls                 int
	err                   error
}

func (c *countingClient) GetSessionList(ctx context.Context, stateCode string) ([]Session, error) {
	c.calls++
	if c.calls <= c.failuresBeforeSuccess {
		return nil, c.err
	}
	return []Session{{ID: "s1", State: stateCode}}, nil
}
func (c *countingClient) GetMasterListRaw(ctx context.Context, sessionID string) (map[string]MasterListEntry, error) {
	return nil, nil
}
func (c *countingClient) GetBill(ctx context.Context, billID string) (BillDetail, error) {
	return BillDetail{}, nil
}
func (c *countingClient) GetBillText(ctx context.Context, docID string) ([]byte, error) {
	return nil, nil
}
func (c *countingClient) SearchRaw(ctx context.Context, state, query string, year int) ([]SearchResult, error) {
	return nil, nil
}
func (c *countingClient) FetchURL(ctx context.Context, stateLink string) (FetchResult, error) {
	return FetchResult{}, nil
}

func fastConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 1000,
		BurstSize:         10,
		MaxRetries:        3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		JitterPercent:     0,
	}
}

func TestRateLimitedRetriesTransientErrors(t *testing.T) {
	inner := &countingClient{failuresBeforeSuccess: 2, err: transientErr{"boom"}}
	client := RateLimited(inner, fastConfig(), "test")

	sessions, err := client.GetSessionList(context.Background(), "TX")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
	assert.Equal(t, 3, inner.calls)
}

func TestRateLimitedDoesNotRetryTerminalErrors(t *testing.T) {
	inner := &countingClient{failuresBeforeSuccess: 99, err: terminalErr{"bad request"}}
	client := RateLimited(inner, fastConfig(), "test")

	_, err := client.GetSessionList(context.Background(), "TX")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls, "terminal error must not be retried")
}

func TestRateLimitedGivesUpAfterMaxRetries(t *testing.T) {
	inner := &countingClient{failuresBeforeSuccess: 99, err: transientErr{"boom"}}
	client := RateLimited(inner, fastConfig(), "test")

	_, err := client.GetSessionList(context.Background(), "TX")
	require.Error(t, err)
	assert.Equal(t, fastConfig().MaxRetries, inner.calls)
}

func TestRateLimitedAbortsOnCancelledContext(t *testing.T) {
	inner := &countingClient{failuresBeforeSuccess: 99, err: transientErr{"boom"}}
	client := RateLimited(inner, fastConfig(), "test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetSessionList(ctx, "TX")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || err != nil)
}
