package ingest

import (
	"context"
	"time"
)

// BackoffSleep waits d, or 200ms when d is not positive. It returns false if
// ctx ends first.
func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
