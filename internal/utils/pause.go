package utils

import (
	"context"
	"fmt"
	"time"
)

// Pause sleeps for interval, a Go duration string such as "500ms" or "2s".
// It returns early with the context error if ctx is cancelled, and returns an
// error without sleeping if interval cannot be parsed.
func Pause(ctx context.Context, interval string) error {
	duration, err := time.ParseDuration(interval)
	if err != nil {
		return fmt.Errorf("invalid pause interval %q: %w", interval, err)
	}
	if duration <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
