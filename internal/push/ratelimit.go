package push

import (
	"context"
	"fmt"
	"time"
)

// PushCounter counts delivery attempts inside the rolling window.
// Backed by push_logs rows so the count survives restarts.
type PushCounter interface {
	CountPushesSince(ctx context.Context, channelID int64, since time.Time) (int, error)
}

// RateLimiter gates pushes per channel over a rolling window
type RateLimiter struct {
	counter PushCounter
	limit   int
	window  time.Duration
}

// NewRateLimiter creates a limiter allowing limit pushes per window
func NewRateLimiter(counter PushCounter, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		limit:   limit,
		window:  window,
	}
}

// Allow reports whether the channel may receive one more push now
func (l *RateLimiter) Allow(ctx context.Context, channelID int64) (bool, error) {
	since := time.Now().Add(-l.window)
	count, err := l.counter.CountPushesSince(ctx, channelID, since)
	if err != nil {
		return false, fmt.Errorf("failed to count pushes: %w", err)
	}
	return count < l.limit, nil
}

// Limit returns the configured per-window cap
func (l *RateLimiter) Limit() int {
	return l.limit
}
