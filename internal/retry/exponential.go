package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExponentialBackoffStrategy implements retry with exponential backoff.
type ExponentialBackoffStrategy struct {
	attempts     int
	initialDelay time.Duration
	maxDelay     time.Duration
	logger       *slog.Logger
}

// NewExponentialBackoffStrategy creates a new ExponentialBackoffStrategy.
func NewExponentialBackoffStrategy(cfg Config, logger *slog.Logger) *ExponentialBackoffStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}

	return &ExponentialBackoffStrategy{
		attempts:     cfg.Attempts,
		initialDelay: cfg.InitialDelay,
		maxDelay:     cfg.MaxDelay,
		logger:       logger,
	}
}

// Do runs the operation, retrying transient failures with a doubling delay.
func (s *ExponentialBackoffStrategy) Do(ctx context.Context, name string, operation Operation) error {
	var lastErr error
	delay := s.initialDelay

	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			s.logger.Warn("operation failed, retrying with exponential backoff",
				slog.String("operation", name),
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", s.attempts),
				slog.Duration("retry_in", delay),
				slog.String("error", lastErr.Error()),
			)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			case <-time.After(delay):
			}

			delay = min(delay*2, s.maxDelay)
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				s.logger.Info("operation succeeded after retry",
					slog.String("operation", name),
					slog.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, s.attempts, lastErr)
}

// Name returns the strategy name.
func (s *ExponentialBackoffStrategy) Name() string {
	return "ExponentialBackoff"
}

// NoRetryStrategy executes operations exactly once.
type NoRetryStrategy struct{}

// NewNoRetryStrategy creates a new NoRetryStrategy.
func NewNoRetryStrategy() *NoRetryStrategy {
	return &NoRetryStrategy{}
}

// Do runs the operation once without retrying.
func (s *NoRetryStrategy) Do(ctx context.Context, name string, operation Operation) error {
	return operation(ctx)
}

// Name returns the strategy name.
func (s *NoRetryStrategy) Name() string {
	return "NoRetry"
}
