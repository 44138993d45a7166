package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Policy configures exponential backoff for an operation.
type Policy struct {
	MaxRetries int           // Maximum number of retry attempts after the first call
	BaseDelay  time.Duration // Delay before the first retry
	MaxDelay   time.Duration // Upper bound for any single delay
	Multiplier float64       // Exponential backoff multiplier
	Jitter     bool          // Add up to 10% random jitter

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil means every error is retried.
	ShouldRetry func(error) bool
}

// Result describes how a retried operation went.
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
	Success       bool
	RetryReasons  []string
}

// RateLimitPolicy retries only rate-limit failures, with the slower backoff
// that hosted LLM endpoints need.
func RateLimitPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:  maxRetries,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.5,
		Jitter:      true,
		ShouldRetry: IsRateLimitError,
	}
}

// Do executes an operation with exponential backoff retry logic. logger may be nil.
func Do(ctx context.Context, policy Policy, operation func() error, logger *zerolog.Logger) Result {
	startTime := time.Now()

	result := Result{
		RetryReasons: make([]string, 0),
	}

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err := operation()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if logger != nil && attempt > 0 {
				logger.Info().
					Int("retries", attempt).
					Dur("duration", result.TotalDuration).
					Msg("operation succeeded after retry")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, err.Error())

		if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			result.TotalDuration = time.Since(startTime)
			return result
		}

		if attempt >= policy.MaxRetries {
			result.TotalDuration = time.Since(startTime)
			if logger != nil {
				logger.Warn().Err(err).
					Int("attempts", result.Attempts).
					Dur("duration", result.TotalDuration).
					Msg("operation failed after all retries")
			}
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := calculateDelay(policy, attempt)
		if logger != nil {
			logger.Warn().Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", policy.MaxRetries+1).
				Dur("backoff", delay).
				Msg("operation failed, retrying")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-timer.C:
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay returns the wait before retry number attempt+1.
func calculateDelay(policy Policy, attempt int) time.Duration {
	delay := float64(policy.BaseDelay) * math.Pow(policy.Multiplier, float64(attempt))

	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}

	if policy.Jitter {
		jitterRange := delay * 0.1
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		delay += jitter

		if delay < 0 {
			delay = float64(policy.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRateLimitError reports whether an error message looks like provider throttling.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), []string{
		"rate limit",
		"rate_limit",
		"ratelimit",
		"too many requests",
		"429",
	})
}

func containsAny(s string, substrs []string) bool {
	s = strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
