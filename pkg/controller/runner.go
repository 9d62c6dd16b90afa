package controller

import (
	"context"

	"golang.org/x/time/rate"
)

// Run ticks once per poll period until ctx is done. Tick failures are
// logged; the failed operation has already been aborted.
func (c *Controller) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(c.opts.PollPeriod), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			// Wait only fails when ctx ends or its deadline is too close
			<-ctx.Done()
			return ctx.Err()
		}
		if err := c.Tick(); err != nil {
			c.logger.Warnf("Tick failed: %v", err)
		}
	}
}
