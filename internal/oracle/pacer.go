package oracle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces oracle calls. Wait blocks until the next call may go out or
// ctx is done.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewPacer returns a Pacer that lets the first call through immediately and
// then one call per interval. A non-positive interval disables pacing.
func NewPacer(interval time.Duration) Pacer {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
