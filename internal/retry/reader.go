// Package retry wraps remote reads with bounded exponential backoff for
// rate-limited endpoints.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"multisig-console/internal/failure"
	"multisig-console/internal/observability"
)

// Defaults for the reader.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// rateLimitMarkers are matched against the lower-cased error text. Status
// codes are anchored to a preceding word so that digits inside base58 keys
// and signatures do not match.
var rateLimitMarkers = []string{
	"http 429", "http 403",
	"status 429", "status 403",
	"error 429", "error 403",
	"too many requests", "rate limit",
}

// IsRateLimit reports whether err looks like a rate-limit response. This is
// the only retry criterion of the reader.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Reader retries operations that fail with rate-limit errors.
type Reader struct {
	attempts  uint
	baseDelay time.Duration
	logger    *zap.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithAttempts sets the total number of attempts, including the first.
func WithAttempts(n uint) Option {
	return func(r *Reader) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBaseDelay sets the delay before the second attempt.
func WithBaseDelay(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.baseDelay = d
		}
	}
}

// WithLogger sets the logger for attempt and backoff events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reader with 3 attempts and a 1s base delay unless overridden.
func New(opts ...Option) *Reader {
	r := &Reader{
		attempts:  DefaultAttempts,
		baseDelay: DefaultBaseDelay,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attempts returns the configured attempt cap.
func (r *Reader) Attempts() uint { return r.attempts }

// Backoff returns the delay before attempt n+1, i.e. baseDelay * 2^(n-1).
func (r *Reader) Backoff(n uint) time.Duration {
	if n == 0 {
		return 0
	}
	return r.baseDelay << (n - 1)
}

// Do runs op until it succeeds, fails with a non rate-limit error, or the
// attempts run out. Exhausting the attempts on rate-limit errors yields a
// failure.KindRateLimited error.
func (r *Reader) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	var last error
	err := retry.Do(
		func() error {
			last = op(ctx)
			return last
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRateLimit),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			// n counts failed attempts from zero.
			return r.Backoff(n + 1)
		}),
		retry.OnRetry(func(n uint, err error) {
			observability.RecordRetry(label)
			if n+1 < r.attempts {
				r.logger.Debug("rate limited, backing off",
					zap.String("label", label),
					zap.Uint("attempt", n+1),
					zap.Duration("delay", r.Backoff(n+1)),
					zap.Error(err))
			}
		}),
	)

	switch {
	case err == nil:
		observability.RecordReadOutcome(label, "ok")
		return nil
	case ctx.Err() != nil:
		observability.RecordReadOutcome(label, "canceled")
		return ctx.Err()
	case IsRateLimit(last):
		observability.RecordReadOutcome(label, "rate_limited")
		r.logger.Warn("rate limit persisted after all attempts",
			zap.String("label", label),
			zap.Uint("attempts", r.attempts),
			zap.Error(last))
		return failure.Wrap(last, failure.KindRateLimited, label,
			fmt.Sprintf("rate limited after %d attempts, use a different RPC endpoint", r.attempts))
	default:
		observability.RecordReadOutcome(label, "error")
		return err
	}
}

// Read is Do for operations producing a value.
func Read[T any](ctx context.Context, r *Reader, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, label, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
