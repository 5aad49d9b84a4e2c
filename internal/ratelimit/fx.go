package ratelimit

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/hireloop/hireloop/internal/clock"
	"github.com/hireloop/hireloop/internal/config"
)

var Module = fx.Module("ratelimit",
	fx.Provide(func(cfg config.Config, clk clock.Clock) *FixedWindowLimiter {
		return NewFixedWindowLimiter(int64(cfg.AnonymousRateLimit), cfg.AnonymousRateWindow, clk)
	}),
	fx.Invoke(registerSweep),
)

// registerSweep periodically drops expired windows so idle keys do not
// accumulate for the process lifetime.
func registerSweep(lc fx.Lifecycle, limiter *FixedWindowLimiter) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(10 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						limiter.Sweep()
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
