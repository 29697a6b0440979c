package common

import (
	"context"
	"time"
)

// RetryWithContext retries operation up to maxRetries times, doubling
// the delay between consecutive attempts. Only errors accepted by
// retryable are attempted again; anything else is returned as is. The
// attempt number and the delay before the next retry are passed to the
// operation so call sites can log them. Returns the last error when all
// attempts fail, or the error in flight when the context is canceled
// while waiting.
func RetryWithContext(ctx context.Context, operation func(attempt int, retryIn time.Duration) error,
	retryable func(error) bool, maxRetries int, delay time.Duration,
) error {
	err := operation(1, delay)

	for attempt := 1; err != nil && retryable(err) && attempt < maxRetries; attempt++ {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}

		delay *= 2

		err = operation(attempt+1, delay)
	}

	return err
}
