package errors

import "time"

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      15 * time.Second,
		BackoffFactor: 2.0,
	}
}

/*
Delay returns the backoff delay for the given zero-based attempt, capped at
MaxDelay.
*/
func (config *RetryConfig) Delay(attempt int) time.Duration {
	delay := config.InitialDelay

	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if delay > config.MaxDelay {
			return config.MaxDelay
		}
	}

	if delay > config.MaxDelay {
		return config.MaxDelay
	}

	return delay
}

// RetryWithBackoff executes a function with exponential backoff retry logic.
func RetryWithBackoff(config *RetryConfig, fn func() error) error {
	var err error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		time.Sleep(config.Delay(attempt))
	}

	return &RpcError{
		Code:    ErrInternal.Code,
		Message: "retries exhausted: " + err.Error(),
	}
}
