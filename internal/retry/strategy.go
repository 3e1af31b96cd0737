// Package retry runs RPC operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Strategy defines how an operation is retried.
type Strategy interface {
	// Do runs the operation with the configured retry logic.
	Do(ctx context.Context, name string, operation Operation) error

	// Name returns the name of the strategy for logging.
	Name() string
}

// Operation is a function that can be retried.
type Operation func(ctx context.Context) error

// Config holds retry configuration.
type Config struct {
	Attempts     int           // Total attempts, including the first one
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound for the delay between attempts
}

// DefaultConfig returns three attempts starting at one second, capped at thirty.
func DefaultConfig() Config {
	return Config{
		Attempts:     3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// New creates a strategy from configuration.
// A single attempt means no retries at all.
func New(cfg Config, logger *slog.Logger) Strategy {
	if cfg.Attempts <= 1 {
		return NewNoRetryStrategy()
	}
	return NewExponentialBackoffStrategy(cfg, logger)
}

// RetryableError marks an error as transient.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so that IsRetryable reports true for it.
// Returns nil if err is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// PermanentError marks an error that must not be retried, whatever it
// looks like.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that IsRetryable reports false for it.
// Returns nil if err is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsRetryable checks if an error is worth another attempt.
// Explicitly marked errors and transport failures are retryable; context
// cancellation and errors marked permanent never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return true
	}
	return IsTransient(err)
}
