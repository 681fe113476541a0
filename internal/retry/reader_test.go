package retry

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"multisig-console/internal/failure"
)

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("HTTP 429 Too Many Requests: slow down"), true},
		{errors.New("HTTP 403 Forbidden"), true},
		{errors.New("Rate Limit reached"), true},
		{errors.New("server responded with TOO MANY REQUESTS"), true},
		{errors.New("RPC error 429: slow down"), true},
		{errors.New("account not found"), false},
		{errors.New("account 4vF429xQpe3KcRt403 not found"), false},
		{errors.New("signature 3o4291403zz not found"), false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRateLimit(tt.err), "%v", tt.err)
	}
}

func TestReader_Backoff(t *testing.T) {
	r := New()
	assert.Equal(t, uint(3), r.Attempts())
	assert.Equal(t, time.Second, r.Backoff(1))
	assert.Equal(t, 2*time.Second, r.Backoff(2))
	assert.Equal(t, 4*time.Second, r.Backoff(3))
}

// recordCalls returns an op failing with errs in order and then succeeding,
// recording the time of every invocation.
func recordCalls(errs []error, calls *[]time.Time) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls = append(*calls, time.Now())
		if len(*calls) <= len(errs) {
			return "", errs[len(*calls)-1]
		}
		return "ok", nil
	}
}

func TestReader_RetriesRateLimit(t *testing.T) {
	base := 20 * time.Millisecond
	r := New(WithBaseDelay(base), WithLogger(zaptest.NewLogger(t)))

	var calls []time.Time
	rateLimited := errors.New("HTTP 429 Too Many Requests")
	got, err := Read(context.Background(), r, "test", recordCalls([]error{rateLimited, rateLimited}, &calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	require.Len(t, calls, 3)

	first := calls[1].Sub(calls[0])
	second := calls[2].Sub(calls[1])
	assert.GreaterOrEqual(t, first, base)
	assert.GreaterOrEqual(t, second, 2*base)
	assert.Less(t, first, second)
}

func TestReader_DefaultDelays(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the real backoff schedule")
	}
	r := New()

	var calls []time.Time
	rateLimited := errors.New("HTTP 429")
	_, err := Read(context.Background(), r, "test", recordCalls([]error{rateLimited, rateLimited}, &calls))
	require.NoError(t, err)
	require.Len(t, calls, 3)

	assert.InDelta(t, 1000, calls[1].Sub(calls[0]).Milliseconds(), 250)
	assert.InDelta(t, 2000, calls[2].Sub(calls[1]).Milliseconds(), 250)
}

func TestReader_NonRateLimitFailsImmediately(t *testing.T) {
	r := New(WithBaseDelay(time.Second))

	var calls []time.Time
	boom := errors.New("account not found")
	start := time.Now()
	_, err := Read(context.Background(), r, "test", recordCalls([]error{boom, boom, boom}, &calls))

	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Len(t, calls, 1)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, failure.Is(err, failure.KindRateLimited))
}

func TestReader_ExhaustedRateLimit(t *testing.T) {
	r := New(WithBaseDelay(time.Millisecond))

	var calls []time.Time
	rateLimited := errors.New("HTTP 429 Too Many Requests")
	_, err := Read(context.Background(), r, "getAccountInfo", recordCalls([]error{rateLimited, rateLimited, rateLimited}, &calls))

	require.Error(t, err)
	assert.Len(t, calls, 3)
	assert.True(t, failure.Is(err, failure.KindRateLimited))
	assert.True(t, errors.Is(err, rateLimited))
	assert.Contains(t, err.Error(), "different RPC endpoint")
}

func TestReader_ContextCancelDuringBackoff(t *testing.T) {
	r := New(WithBaseDelay(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, "test", func(context.Context) error {
		return errors.New("HTTP 429")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
