package util

import (
	"context"
	"time"
)

// Retry runs fn up to maxAttempts times, doubling the delay between attempts
// starting from baseDelay. It stops on the first nil error or when ctx is
// cancelled while backing off, and otherwise returns the last error.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt, delay := 1, baseDelay; ; attempt, delay = attempt+1, delay*2 {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
