// Package retry wraps fallible remote operations with classified, bounded
// exponential-backoff retry.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/toolhive-docsync/internal/docstore"
)

const (
	// DefaultMaxAttempts is the default number of attempts, including the first one
	DefaultMaxAttempts = 3

	// DefaultInitialDelay is the wait before the second attempt
	DefaultInitialDelay = time.Second

	// DefaultMultiplier is the factor applied to the delay after each retry
	DefaultMultiplier = 2.0

	// DefaultMaxDelay caps any single wait between attempts
	DefaultMaxDelay = 30 * time.Second
)

// Classifier reports whether an error is worth retrying.
type Classifier func(err error) bool

// Recorder receives a notification for every scheduled retry.
type Recorder interface {
	RecordRetry(ctx context.Context, label string)
}

// Executor runs operations under a retry policy. It is safe for concurrent use.
type Executor struct {
	maxAttempts  uint
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
	retryable    Classifier
	recorder     Recorder
}

// Option is a functional option for configuring the Executor
type Option func(*Executor) error

// WithMaxAttempts sets the total number of attempts
func WithMaxAttempts(n int) Option {
	return func(e *Executor) error {
		if n < 1 {
			return fmt.Errorf("max attempts must be at least 1, got %d", n)
		}
		e.maxAttempts = uint(n)
		return nil
	}
}

// WithInitialDelay sets the wait before the first retry
func WithInitialDelay(d time.Duration) Option {
	return func(e *Executor) error {
		if d <= 0 {
			return fmt.Errorf("initial delay must be positive, got %s", d)
		}
		e.initialDelay = d
		return nil
	}
}

// WithMultiplier sets the growth factor between consecutive delays
func WithMultiplier(m float64) Option {
	return func(e *Executor) error {
		if m < 1 {
			return fmt.Errorf("multiplier must be at least 1, got %v", m)
		}
		e.multiplier = m
		return nil
	}
}

// WithMaxDelay caps any single wait between attempts
func WithMaxDelay(d time.Duration) Option {
	return func(e *Executor) error {
		if d <= 0 {
			return fmt.Errorf("max delay must be positive, got %s", d)
		}
		e.maxDelay = d
		return nil
	}
}

// WithClassifier replaces the default retryability classifier
func WithClassifier(c Classifier) Option {
	return func(e *Executor) error {
		if c == nil {
			return fmt.Errorf("classifier cannot be nil")
		}
		e.retryable = c
		return nil
	}
}

// WithRecorder sets the retry recorder, typically the sync metrics
func WithRecorder(r Recorder) Option {
	return func(e *Executor) error {
		e.recorder = r
		return nil
	}
}

// New creates an Executor using the defaults overridden by opts.
func New(opts ...Option) (*Executor, error) {
	e := &Executor{
		maxAttempts:  DefaultMaxAttempts,
		initialDelay: DefaultInitialDelay,
		multiplier:   DefaultMultiplier,
		maxDelay:     DefaultMaxDelay,
		retryable:    docstore.IsRetryable,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.maxDelay < e.initialDelay {
		e.maxDelay = e.initialDelay
	}
	return e, nil
}

// MaxAttempts returns the configured attempt budget.
func (e *Executor) MaxAttempts() int {
	return int(e.maxAttempts)
}

// newBackOff builds a fresh, jitter-free exponential schedule.
func (e *Executor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialDelay
	b.Multiplier = e.multiplier
	b.MaxInterval = e.maxDelay
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Run executes op under the retry policy and returns its final error.
func (e *Executor) Run(ctx context.Context, label string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, e, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do executes op under the executor's retry policy. Non-retryable failures
// are returned after the first attempt; retryable ones are retried with
// exponential backoff until the attempt budget is spent, at which point the
// last error is returned.
func Do[T any](ctx context.Context, e *Executor, label string, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err != nil && !e.retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, delay time.Duration) {
		slog.WarnContext(ctx, "Operation failed, retrying",
			"label", label,
			"attempt", attempt,
			"max_attempts", e.maxAttempts,
			"delay", delay,
			"error", err)
		if e.recorder != nil {
			e.recorder.RecordRetry(ctx, label)
		}
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(e.maxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		// Permanent wrappers are stripped by backoff, but be explicit about it
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		if attempt > 1 {
			slog.DebugContext(ctx, "Operation failed after retries",
				"label", label,
				"attempts", attempt,
				"error", err)
		}
		return res, err
	}
	return res, nil
}
