package payment

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hireloop/hireloop/internal/config"
	"github.com/hireloop/hireloop/internal/payment/adapters"
	"github.com/hireloop/hireloop/internal/payment/adapters/intasend"
	"github.com/hireloop/hireloop/internal/payment/adapters/mpesa"
	"github.com/hireloop/hireloop/internal/payment/adapters/stripe"
	paymentdomain "github.com/hireloop/hireloop/internal/payment/domain"
	paymentservice "github.com/hireloop/hireloop/internal/payment/service"
)

// Module wires the provider adapters and the reconciliation engine. Providers
// with missing credentials are left out of the registry instead of failing
// startup, so a deployment can run with any subset configured.
var Module = fx.Module("payment.service",
	fx.Provide(func(cfg config.Config, log *zap.Logger) *adapters.Registry {
		var list []paymentdomain.WebhookAdapter
		if adapter, err := stripe.NewAdapter(cfg.StripeWebhookSecret); err == nil {
			list = append(list, adapter)
		} else {
			log.Warn("stripe webhooks disabled", zap.Error(err))
		}
		if adapter, err := intasend.NewAdapter(cfg.IntaSendWebhookSecret); err == nil {
			list = append(list, adapter)
		} else {
			log.Warn("intasend webhooks disabled", zap.Error(err))
		}
		return adapters.NewRegistry(list...)
	}),
	fx.Provide(func(cfg config.Config, log *zap.Logger) paymentdomain.MobileMoneyClient {
		client, err := mpesa.NewClient(mpesa.Config{
			APIKey:              cfg.MpesaAPIKey,
			PublicKey:           cfg.MpesaPublicKey,
			BaseURL:             cfg.MpesaBaseURL,
			ServiceProviderCode: cfg.MpesaServiceProviderCode,
			Country:             cfg.MpesaCountry,
			Timeout:             cfg.ProviderTimeout,
		})
		if err != nil {
			log.Warn("mobile money disabled", zap.Error(err))
			return nil
		}
		return client
	}),
	fx.Provide(paymentservice.NewService),
)
