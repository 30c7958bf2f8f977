package device

import (
	"context"
	"time"

	"github.com/getdoover/digital-matter/core/logger"
	"github.com/getdoover/digital-matter/ui"
)

const defaultTick = time.Second

// RunManager drives a UI manager from a device-side loop: it subscribes
// the manager to its channels and ticks HandleComms until the context is
// cancelled. Flush errors are logged and the loop keeps going, so a flaky
// link does not kill the agent.
func RunManager(ctx context.Context, manager *ui.Manager, tick time.Duration) error {
	if tick <= 0 {
		tick = defaultTick
	}
	if err := manager.StartComms(); err != nil {
		return err
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := manager.HandleComms(ctx, false); err != nil {
				logger.FromContext(ctx).WithError(err).Warn("cannot flush ui")
			}
		}
	}
}
