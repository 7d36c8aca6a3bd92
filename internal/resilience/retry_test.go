package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	oai "github.com/openai/openai-go"
)

type fakeNetErr struct{ timeout bool }

func (e *fakeNetErr) Error() string   { return "dial tcp: i/o problem" }
func (e *fakeNetErr) Timeout() bool   { return e.timeout }
func (e *fakeNetErr) Temporary() bool { return e.timeout }

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked transient", MarkTransient(errors.New("connection reset")), true},
		{"marked transient wrapped", fmt.Errorf("call failed: %w", MarkTransient(errors.New("reset"))), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"net timeout", &fakeNetErr{timeout: true}, true},
		{"net non-timeout", &fakeNetErr{timeout: false}, false},
		{"openai 429", &oai.Error{StatusCode: 429}, true},
		{"openai 500", &oai.Error{StatusCode: 500}, true},
		{"openai 408", &oai.Error{StatusCode: 408}, true},
		{"openai 401", &oai.Error{StatusCode: 401}, false},
		{"openai 400", &oai.Error{StatusCode: 400}, false},
		{"rate limit string", errors.New("Rate limit exceeded, retry later"), true},
		{"deadline string", errors.New("request: context deadline exceeded"), true},
		{"503 string", errors.New("upstream returned 503"), true},
		{"auth string", errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.want {
				t.Errorf("Transient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarkTransientNil(t *testing.T) {
	if MarkTransient(nil) != nil {
		t.Fatal("MarkTransient(nil) should return nil")
	}
}

func TestRetryPolicyDoSucceedsAfterTransientFailures(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond}
	attempts := 0
	err := p.Do(context.Background(), "test", func() error {
		attempts++
		if attempts < 3 {
			return MarkTransient(errBackend)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPolicyDoPermanentErrorNoRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, InitialBackoff: time.Millisecond}
	permanent := errors.New("invalid api key")
	attempts := 0
	err := p.Do(context.Background(), "test", func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want the permanent error", err)
	}
	if errors.Is(err, ErrAllAttemptsFailed) {
		t.Fatal("permanent errors must not be wrapped in ErrAllAttemptsFailed")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPolicyDoExhaustsBudget(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond}
	transient := MarkTransient(errBackend)
	attempts := 0
	err := p.Do(context.Background(), "test", func() error {
		attempts++
		return transient
	})
	if !errors.Is(err, ErrAllAttemptsFailed) {
		t.Fatalf("err = %v, want ErrAllAttemptsFailed", err)
	}
	if !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, should wrap the last failure", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
}

func TestRetryPolicyZeroValueNoRetries(t *testing.T) {
	var p RetryPolicy
	attempts := 0
	err := p.Do(context.Background(), "test", func() error {
		attempts++
		return MarkTransient(errBackend)
	})
	if !errors.Is(err, ErrAllAttemptsFailed) {
		t.Fatalf("err = %v, want ErrAllAttemptsFailed", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPolicyDoAbortsOnContextCancel(t *testing.T) {
	p := RetryPolicy{MaxRetries: 10, InitialBackoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, "test", func() error {
		attempts++
		return MarkTransient(errBackend)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (cancel fired during backoff)", attempts)
	}
}
