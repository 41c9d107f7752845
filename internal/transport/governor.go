package transport

import (
	"context"
	"sync"
	"time"
)

// Governor caps the number of outbound requests in a rolling window. Once
// the ceiling is reached, Wait blocks until the window resets. One Governor
// instance is shared by every Client in the process, independent of per-call
// retry logic. The clock and sleep hooks exist so tests can run the window
// deterministically.
type Governor struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	start  time.Time
	count  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGovernor creates a governor allowing limit requests per window.
// A limit of zero disables governing.
func NewGovernor(limit int, window time.Duration) *Governor {
	return &Governor{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Wait blocks until a request slot is available in the current window, then
// consumes it. Returns the context error if cancelled while blocked.
func (g *Governor) Wait(ctx context.Context) error {
	if g == nil || g.limit <= 0 {
		return nil
	}

	for {
		g.mu.Lock()
		now := g.now()
		if g.start.IsZero() || now.Sub(g.start) >= g.window {
			g.start = now
			g.count = 0
		}
		if g.count < g.limit {
			g.count++
			g.mu.Unlock()
			return nil
		}
		wait := g.window - now.Sub(g.start)
		g.mu.Unlock()

		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
