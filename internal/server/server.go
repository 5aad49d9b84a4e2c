package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hireloop/hireloop/internal/audit"
	auditdomain "github.com/hireloop/hireloop/internal/audit/domain"
	"github.com/hireloop/hireloop/internal/checkout"
	checkoutdomain "github.com/hireloop/hireloop/internal/checkout/domain"
	"github.com/hireloop/hireloop/internal/clock"
	"github.com/hireloop/hireloop/internal/config"
	"github.com/hireloop/hireloop/internal/identity"
	identitydomain "github.com/hireloop/hireloop/internal/identity/domain"
	"github.com/hireloop/hireloop/internal/ledger"
	ledgerdomain "github.com/hireloop/hireloop/internal/ledger/domain"
	"github.com/hireloop/hireloop/internal/metering"
	obsmetrics "github.com/hireloop/hireloop/internal/observability/metrics"
	"github.com/hireloop/hireloop/internal/payment"
	paymentdomain "github.com/hireloop/hireloop/internal/payment/domain"
	"github.com/hireloop/hireloop/internal/ratelimit"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	identity.Module,
	ledger.Module,
	checkout.Module,
	payment.Module,
	metering.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	clock        clock.Clock
	identitySvc  identitydomain.Service
	ledgerSvc    ledgerdomain.Service
	checkoutSvc  checkoutdomain.Service
	paymentSvc   paymentdomain.Service
	meteringSvc  metering.Service
	auditSvc     auditdomain.Service
	anonLimiter  *ratelimit.FixedWindowLimiter
	actionRunner metering.ActionRunner
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Clock        clock.Clock
	IdentitySvc  identitydomain.Service
	LedgerSvc    ledgerdomain.Service
	CheckoutSvc  checkoutdomain.Service
	PaymentSvc   paymentdomain.Service
	MeteringSvc  metering.Service
	AuditSvc     auditdomain.Service
	AnonLimiter  *ratelimit.FixedWindowLimiter
	ActionRunner metering.ActionRunner `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http.server"),
		clock:        p.Clock,
		identitySvc:  p.IdentitySvc,
		ledgerSvc:    p.LedgerSvc,
		checkoutSvc:  p.CheckoutSvc,
		paymentSvc:   p.PaymentSvc,
		meteringSvc:  p.MeteringSvc,
		auditSvc:     p.AuditSvc,
		anonLimiter:  p.AnonLimiter,
		actionRunner: p.ActionRunner,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerPublicRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	// Webhook authenticity is the adapter's signature check, not a user
	// session.
	s.engine.POST("/v1/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.UserRequired())

	api.POST("/checkout/sessions", s.CreateCheckoutSession)

	api.POST("/payments/mpesa", s.InitiateMobileMoney)
	api.GET("/payments/mpesa/:checkoutRef", s.PollMobileMoney)

	api.GET("/credits", s.GetBalance)
	api.GET("/credits/entries", s.ListEntries)

	api.POST("/actions/:action", s.RunAction)
}

func (s *Server) registerPublicRoutes() {
	s.engine.GET("/v1/packages", s.ListPackages)
	s.engine.POST("/v1/free/analysis", s.AnonymousRateLimit("free_analysis"), s.FreeAnalysis)
}
