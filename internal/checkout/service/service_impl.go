package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/hireloop/hireloop/internal/audit/domain"
	"github.com/hireloop/hireloop/internal/catalog"
	checkoutdomain "github.com/hireloop/hireloop/internal/checkout/domain"
	"github.com/hireloop/hireloop/internal/clock"
	"github.com/hireloop/hireloop/internal/payment/adapters/mpesa"
	paymentdomain "github.com/hireloop/hireloop/internal/payment/domain"
	"github.com/hireloop/hireloop/pkg/db"
)

// providerCurrency maps each provider to the settlement currency its checkout
// is priced in. Catalog prices are USD; the others are converted at the fixed
// catalog rate.
var providerCurrency = map[string]string{
	paymentdomain.ProviderStripe:   "USD",
	paymentdomain.ProviderIntaSend: "KES",
	paymentdomain.ProviderMpesa:    "TZS",
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	AuditSvc        auditdomain.Service
	RedirectClients []checkoutdomain.RedirectClient `group:"redirect_clients"`
	MobileMoney     paymentdomain.MobileMoneyClient `optional:"true"`
}

// Service creates payment sessions. A session is persisted pending before any
// provider call, so a provider-side success can never reference a session the
// store has no record of.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	auditSvc    auditdomain.Service
	redirects   map[string]checkoutdomain.RedirectClient
	mobileMoney paymentdomain.MobileMoneyClient
}

func NewService(p Params) checkoutdomain.Service {
	redirects := map[string]checkoutdomain.RedirectClient{}
	for _, client := range p.RedirectClients {
		if client == nil {
			continue
		}
		redirects[strings.ToLower(client.Provider())] = client
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("checkout.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		auditSvc:    p.AuditSvc,
		redirects:   redirects,
		mobileMoney: p.MobileMoney,
	}
}

func (s *Service) CreateSession(ctx context.Context, req checkoutdomain.CreateSessionRequest) (checkoutdomain.CheckoutResponse, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return checkoutdomain.CheckoutResponse{}, checkoutdomain.ErrInvalidRequest
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	client, ok := s.redirects[provider]
	if !ok {
		return checkoutdomain.CheckoutResponse{}, paymentdomain.ErrProviderNotFound
	}

	session, err := s.createPending(ctx, req.UserID, provider, req.PackageType, nil)
	if err != nil {
		return checkoutdomain.CheckoutResponse{}, err
	}

	result, err := client.CreateCheckout(ctx, session, req.ReturnURL)
	if err != nil {
		return checkoutdomain.CheckoutResponse{}, err
	}
	if err := s.storeProviderRef(ctx, session.ID, result.ProviderRef); err != nil {
		return checkoutdomain.CheckoutResponse{}, err
	}

	s.writeAuditLog(ctx, "checkout.created", session, map[string]any{
		"provider":     provider,
		"package_type": session.PackageType,
		"amount":       session.Amount,
		"currency":     session.Currency,
	})

	return checkoutdomain.CheckoutResponse{
		SessionID:   session.ID,
		CheckoutRef: session.CheckoutRef,
		CheckoutURL: result.RedirectURL,
	}, nil
}

func (s *Service) InitiateMobileMoney(ctx context.Context, userID, packageType, phone string) (checkoutdomain.MobileMoneyResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return checkoutdomain.MobileMoneyResponse{}, checkoutdomain.ErrInvalidRequest
	}
	phone = strings.TrimSpace(phone)
	if !phonePattern.MatchString(phone) {
		return checkoutdomain.MobileMoneyResponse{}, checkoutdomain.ErrInvalidPhone
	}
	if s.mobileMoney == nil {
		return checkoutdomain.MobileMoneyResponse{}, paymentdomain.ErrProviderNotFound
	}

	session, err := s.createPending(ctx, userID, paymentdomain.ProviderMpesa, packageType, &phone)
	if err != nil {
		return checkoutdomain.MobileMoneyResponse{}, err
	}

	conversationID, err := s.mobileMoney.Charge(ctx, paymentdomain.MobileMoneyChargeRequest{
		Phone:     phone,
		Amount:    session.Amount,
		Currency:  session.Currency,
		Reference: session.CheckoutRef,
	})
	if err != nil {
		return checkoutdomain.MobileMoneyResponse{}, err
	}
	if err := s.storeProviderRef(ctx, session.ID, conversationID); err != nil {
		return checkoutdomain.MobileMoneyResponse{}, err
	}

	s.writeAuditLog(ctx, "checkout.mobile_money_initiated", session, map[string]any{
		"package_type": session.PackageType,
		"amount":       session.Amount,
		"currency":     session.Currency,
		"phone":        mpesa.MaskPhone(phone),
	})

	return checkoutdomain.MobileMoneyResponse{
		SessionID:       session.ID,
		CheckoutRef:     session.CheckoutRef,
		MaskedPhone:     mpesa.MaskPhone(phone),
		RequiresPolling: true,
	}, nil
}

func (s *Service) ExpireStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE payment_sessions
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND created_at < ?`,
		checkoutdomain.SessionStatusExpired,
		s.clock.Now().UTC(),
		checkoutdomain.SessionStatusPending,
		olderThan,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("expired stale payment sessions", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (s *Service) createPending(ctx context.Context, userID, provider, packageType string, phone *string) (*checkoutdomain.PaymentSession, error) {
	pkg, err := catalog.Lookup(packageType)
	if err != nil {
		return nil, err
	}
	currency, ok := providerCurrency[provider]
	if !ok {
		return nil, paymentdomain.ErrProviderNotFound
	}
	amount, ok := catalog.ConvertAmount(pkg.Amount, pkg.Currency, currency)
	if !ok {
		return nil, checkoutdomain.ErrInvalidRequest
	}

	now := s.clock.Now().UTC()
	session := &checkoutdomain.PaymentSession{
		ID:              s.genID.Generate(),
		UserID:          userID,
		Provider:        provider,
		PackageType:     pkg.ID,
		ExpectedCredits: pkg.Credits,
		Amount:          amount,
		Currency:        currency,
		Status:          checkoutdomain.SessionStatusPending,
		CheckoutRef:     uuid.NewString(),
		PhoneNumber:     phone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) storeProviderRef(ctx context.Context, id snowflake.ID, providerRef string) error {
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return nil
	}
	err := s.db.WithContext(ctx).Exec(
		`UPDATE payment_sessions SET provider_ref = ?, updated_at = ? WHERE id = ?`,
		providerRef,
		s.clock.Now().UTC(),
		id,
	).Error
	if db.IsDuplicateKeyErr(err) {
		// The provider handed back a reference already bound to another
		// session. The pending row stays untouched for the sweeper.
		return checkoutdomain.ErrProviderRefInUse
	}
	return err
}

func (s *Service) writeAuditLog(ctx context.Context, action string, session *checkoutdomain.PaymentSession, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	ref := session.CheckoutRef
	metadata["checkout_ref"] = ref
	if err := s.auditSvc.AuditLog(ctx, &session.UserID, action, "payment_session", &ref, metadata); err != nil {
		s.log.Warn("failed to write checkout audit log", zap.String("action", action), zap.Error(err))
	}
}
