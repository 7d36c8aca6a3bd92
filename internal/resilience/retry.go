package resilience

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
)

// ErrAllAttemptsFailed is returned by [RetryPolicy.Do] when every attempt
// failed. The last attempt's error is wrapped alongside it.
var ErrAllAttemptsFailed = errors.New("all retry attempts failed")

// transientError marks a wrapped error as retryable regardless of its type.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// MarkTransient wraps err so that [Transient] reports true for it.
// Provider adapters use it for backend failures that carry no inspectable
// type but are known to be retryable.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transient reports whether err is worth retrying: a timeout, a rate limit,
// or a 5xx-equivalent backend failure. Auth failures, malformed requests, and
// other 4xx-class errors are permanent and must be surfaced immediately.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var marked *transientError
	if errors.As(err, &marked) {
		return true
	}

	// A call that ran out its per-call deadline counts as transient; the
	// caller's own cancellation does not.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// OpenAI SDK errors carry the HTTP status of the failed call.
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 408 || apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	// Last resort for SDKs that only surface stringly-typed failures.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "timed out", "deadline exceeded", "rate limit", "overloaded", "too many requests", "status 429", "status 5", "502", "503", "504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RetryPolicy retries transient failures with exponential backoff.
// The zero value is usable and means "no retries".
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry. Default: 200ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries. Default: 10s.
	MaxBackoff time.Duration
}

// Do runs fn until it succeeds, returns a permanent error, or the retry
// budget is exhausted. Between attempts it sleeps with exponential backoff,
// aborting early when ctx is done. The final failure is wrapped in
// [ErrAllAttemptsFailed] only when the budget ran out; permanent errors are
// returned as-is.
func (p RetryPolicy) Do(ctx context.Context, name string, fn func() error) error {
	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 10 * time.Second
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			break
		}

		slog.Debug("transient failure, backing off",
			"name", name,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff = min(backoff*2, maxBackoff)
	}
	return errors.Join(ErrAllAttemptsFailed, err)
}
