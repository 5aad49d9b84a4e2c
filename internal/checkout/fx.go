package checkout

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	checkoutdomain "github.com/hireloop/hireloop/internal/checkout/domain"
	checkoutservice "github.com/hireloop/hireloop/internal/checkout/service"
	"github.com/hireloop/hireloop/internal/clock"
	"github.com/hireloop/hireloop/internal/config"
	"github.com/hireloop/hireloop/internal/payment/adapters/intasend"
	"github.com/hireloop/hireloop/internal/payment/adapters/stripe"
)

// Module wires the redirect checkout clients, the session service, and the
// background sweep that expires stale pending sessions.
var Module = fx.Module("checkout",
	fx.Provide(
		fx.Annotate(
			func(cfg config.Config) checkoutdomain.RedirectClient {
				return stripe.NewCheckoutClient(cfg.StripeSecretKey, cfg.ProviderTimeout)
			},
			fx.ResultTags(`group:"redirect_clients"`),
		),
		fx.Annotate(
			func(cfg config.Config) checkoutdomain.RedirectClient {
				return intasend.NewCheckoutClient(cfg.IntaSendSecretKey, cfg.IntaSendBaseURL, cfg.ProviderTimeout)
			},
			fx.ResultTags(`group:"redirect_clients"`),
		),
	),
	fx.Provide(checkoutservice.NewService),
	fx.Invoke(registerSweep),
)

type sweepParams struct {
	fx.In

	LC    fx.Lifecycle
	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
	Svc   checkoutdomain.Service
}

// registerSweep runs ExpireStale on a fixed interval for the process
// lifetime. Expired is the only terminal state not driven by a provider
// outcome, and this sweep is its only writer.
func registerSweep(p sweepParams) {
	log := p.Log.Named("checkout.sweep")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(p.Cfg.SessionSweepEvery)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						cutoff := p.Clock.Now().UTC().Add(-p.Cfg.SessionTTL)
						if _, err := p.Svc.ExpireStale(ctx, cutoff); err != nil {
							log.Warn("session sweep failed", zap.Error(err))
						}
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
