package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/jpillora/backoff"

	"riverflow/logger"
)

// ErrUpstreamUnavailable wraps any failure that exhausted its retries or hit
// an open circuit. Callers treat it as "try again next cycle".
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// HTTPStatusError reports a non-2xx response. It keeps the status code so the
// retry classifier can separate rate limiting and server errors from plain
// client errors.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// RetryPolicy controls the exponential backoff loop around one download.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

// DefaultRetryPolicy matches the collector's production settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2,
		Jitter:         true,
	}
}

// IsRetriable classifies an error for the retry loop. Timeouts and connection
// failures always retry; HTTP errors retry only for 429 and the 5xx range.
// Everything else, including context cancellation, fails immediately.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	// Cancellation of the caller's context never retries. Deadline errors do:
	// a request-level timeout is indistinguishable from the context deadline
	// sentinel, and the backoff loop exits on its own once the caller's
	// context is really done.
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// url.Error without a timeout is a connection-level failure
	// (refused, reset, DNS) and is always worth retrying.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// withRetry runs op under the policy, sleeping with exponential backoff
// between attempts. Non-retriable errors propagate unchanged; exhausting the
// attempts wraps the last error in ErrUpstreamUnavailable.
func withRetry(ctx context.Context, policy RetryPolicy, log *logger.Entry, op func() error) error {
	b := &backoff.Backoff{
		Min:    policy.InitialBackoff,
		Max:    policy.MaxBackoff,
		Factor: policy.Multiplier,
		Jitter: policy.Jitter,
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			if attempt > 1 {
				log.WithFields(logger.Fields{"attempt": attempt}).Info("succeeded after retry")
			}
			return nil
		}
		if !IsRetriable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := b.Duration()
		log.WithFields(logger.Fields{
			"attempt":    attempt,
			"backoff_ms": wait.Milliseconds(),
			"error":      lastErr.Error(),
		}).Warn("retriable error, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("%w: %d attempts failed: %v", ErrUpstreamUnavailable, policy.MaxAttempts, lastErr)
}
