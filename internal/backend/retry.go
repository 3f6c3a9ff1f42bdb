// internal/backend/retry.go
package backend

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy defines how to retry failed backend calls
type RetryPolicy struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       bool
	logger       *zap.Logger
}

// RetryOption configures retry behavior
type RetryOption func(*RetryPolicy)

// WithInitialDelay sets the initial retry delay
func WithInitialDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) {
		p.initialDelay = d
	}
}

// WithMaxDelay sets the maximum retry delay
func WithMaxDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) {
		p.maxDelay = d
	}
}

// WithJitter enables jitter to prevent thundering herd
func WithJitter(enabled bool) RetryOption {
	return func(p *RetryPolicy) {
		p.jitter = enabled
	}
}

// NewRetryPolicy creates a new retry policy
func NewRetryPolicy(logger *zap.Logger, opts ...RetryOption) *RetryPolicy {
	p := &RetryPolicy{
		initialDelay: 100 * time.Millisecond,
		maxDelay:     2 * time.Second,
		multiplier:   2.0,
		jitter:       true,
		logger:       logger,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Execute runs fn up to 1+retries times. Errors that are not retryable
// (client-side HTTP statuses) stop immediately.
func (p *RetryPolicy) Execute(ctx context.Context, retries int, fn func() error) error {
	attempts := 1 + retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				p.logger.Debug("backend call succeeded after retry",
					zap.Int("attempt", attempt+1),
					zap.Int("maxAttempts", attempts))
			}
			return nil
		}

		if !retryable(lastErr) || attempt == attempts-1 {
			break
		}

		delay := p.calculateDelay(attempt)
		p.logger.Debug("backend call failed, retrying",
			zap.Error(lastErr),
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", attempts),
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// calculateDelay computes the delay for the given attempt
func (p *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}

	// Jitter between 0.5x and 1.5x the delay
	if p.jitter {
		delay = delay * (0.5 + rand.Float64())
	}

	return time.Duration(delay)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}
