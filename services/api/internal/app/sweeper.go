package app

import (
	"context"
	"log/slog"
	"time"
)

// RunOverdueSweeper calls SweepOverdue every interval until ctx is done.
// A non-positive interval disables the loop.
func (a *App) RunOverdueSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.SweepOverdue(ctx); err != nil && ctx.Err() == nil {
				slog.Error("overdue sweep failed", "err", err)
			}
		}
	}
}
