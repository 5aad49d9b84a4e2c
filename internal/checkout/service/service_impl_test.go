package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hireloop/hireloop/internal/catalog"
	checkoutdomain "github.com/hireloop/hireloop/internal/checkout/domain"
	checkoutservice "github.com/hireloop/hireloop/internal/checkout/service"
	"github.com/hireloop/hireloop/internal/clock"
	"github.com/hireloop/hireloop/internal/migration"
	paymentdomain "github.com/hireloop/hireloop/internal/payment/domain"
)

type noopAuditService struct{}

func (noopAuditService) AuditLog(ctx context.Context, userID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

type fakeRedirectClient struct {
	provider string
	result   checkoutdomain.RedirectResult
	err      error
	seen     []*checkoutdomain.PaymentSession
}

func (f *fakeRedirectClient) Provider() string { return f.provider }

func (f *fakeRedirectClient) CreateCheckout(ctx context.Context, session *checkoutdomain.PaymentSession, returnURL string) (checkoutdomain.RedirectResult, error) {
	copied := *session
	f.seen = append(f.seen, &copied)
	return f.result, f.err
}

type fakeMobileMoney struct {
	conversationID string
	err            error
}

func (f *fakeMobileMoney) Charge(ctx context.Context, req paymentdomain.MobileMoneyChargeRequest) (string, error) {
	return f.conversationID, f.err
}

func (f *fakeMobileMoney) QueryStatus(ctx context.Context, conversationID string) (paymentdomain.MobileMoneyStatus, error) {
	return paymentdomain.MobileMoneyStatusPending, nil
}

type env struct {
	db     *gorm.DB
	clock  *clock.FakeClock
	stripe *fakeRedirectClient
	mpesa  *fakeMobileMoney
	svc    checkoutdomain.Service
}

func setupEnv(t *testing.T) *env {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migration.Run(db, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(12)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	stripeClient := &fakeRedirectClient{
		provider: paymentdomain.ProviderStripe,
		result:   checkoutdomain.RedirectResult{ProviderRef: "cs_1", RedirectURL: "https://pay.example.com/cs_1"},
	}
	mobileMoney := &fakeMobileMoney{conversationID: "conv_1"}

	svc := checkoutservice.NewService(checkoutservice.Params{
		DB:              db,
		Log:             zap.NewNop(),
		GenID:           node,
		Clock:           fakeClock,
		AuditSvc:        noopAuditService{},
		RedirectClients: []checkoutdomain.RedirectClient{stripeClient},
		MobileMoney:     mobileMoney,
	})

	return &env{db: db, clock: fakeClock, stripe: stripeClient, mpesa: mobileMoney, svc: svc}
}

func TestCreateSessionPersistsBeforeProviderCall(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t)

	resp, err := e.svc.CreateSession(ctx, checkoutdomain.CreateSessionRequest{
		UserID:      "user_1",
		PackageType: "pro",
		Provider:    "stripe",
		ReturnURL:   "https://app.example.com/done",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if resp.CheckoutURL != "https://pay.example.com/cs_1" {
		t.Fatalf("unexpected checkout url: %s", resp.CheckoutURL)
	}

	if len(e.stripe.seen) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(e.stripe.seen))
	}
	// The session the provider saw was already persisted pending.
	seen := e.stripe.seen[0]
	var status string
	if err := e.db.Raw(`SELECT status FROM payment_sessions WHERE id = ?`, seen.ID).Scan(&status).Error; err != nil {
		t.Fatalf("scan status: %v", err)
	}
	if status != "pending" {
		t.Fatalf("expected pending, got %s", status)
	}

	var providerRef string
	if err := e.db.Raw(`SELECT provider_ref FROM payment_sessions WHERE id = ?`, seen.ID).Scan(&providerRef).Error; err != nil {
		t.Fatalf("scan provider_ref: %v", err)
	}
	if providerRef != "cs_1" {
		t.Fatalf("expected provider_ref cs_1, got %s", providerRef)
	}
	if seen.ExpectedCredits != 200 || seen.Amount != 1500 || seen.Currency != "USD" {
		t.Fatalf("unexpected session pricing: %+v", seen)
	}
}

func TestCreateSessionUnknownPackage(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t)

	_, err := e.svc.CreateSession(ctx, checkoutdomain.CreateSessionRequest{
		UserID:      "user_1",
		PackageType: "mega",
		Provider:    "stripe",
	})
	if !errors.Is(err, catalog.ErrUnknownPackage) {
		t.Fatalf("expected unknown package, got %v", err)
	}
}

func TestCreateSessionUnknownProvider(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t)

	_, err := e.svc.CreateSession(ctx, checkoutdomain.CreateSessionRequest{
		UserID:      "user_1",
		PackageType: "pro",
		Provider:    "paypal",
	})
	if !errors.Is(err, paymentdomain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}
}

func TestCreateSessionProviderFailureKeepsPendingRow(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t)
	e.stripe.err = paymentdomain.ErrProviderTimeout

	_, err := e.svc.CreateSession(ctx, checkoutdomain.CreateSessionRequest{
		UserID:      "user_1",
		PackageType: "pro",
		Provider:    "stripe",
	})
	if !errors.Is(err, paymentdomain.ErrProviderTimeout) {
		t.Fatalf("expected provider timeout, got %v", err)
	}

	// The pending row stays; the expiry sweep reaps it later.
	var count int64
	if err := e.db.Raw(`SELECT COUNT(1) FROM payment_sessions WHERE status = 'pending'`).Scan(&count).Error; err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 pending session, got %d", count)
	}
}

func TestInitiateMobileMoneyMasksPhoneAndStoresConversation(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t)

	resp, err := e.svc.InitiateMobileMoney(ctx, "user_1", "starter", "255744963111")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !resp.RequiresPolling {
		t.Fatal("expected polling required")
	}
	if resp.MaskedPhone != "2557******11" {
		t.Fatalf("unexpected masked phone: %s", resp.MaskedPhone)
	}

	var providerRef, currency string
	var amount int64
	row := e.db.Raw(`SELECT provider_ref, currency, amount FROM payment_sessions WHERE checkout_ref = ?`, resp.CheckoutRef).Row()
	if err := row.Scan(&providerRef, &currency, &amount); err != nil {
		t.Fatalf("scan session: %v", err)
	}
	if providerRef != "conv_1" {
		t.Fatalf("expected provider_ref conv_1, got %s", providerRef)
	}
	if currency != "TZS" {
		t.Fatalf("expected TZS, got %s", currency)
	}
	// 500 USD cents at the fixed USD/TZS rate.
	if amount != 12600 {
		t.Fatalf("expected amount 12600, got %d", amount)
	}
}

func TestInitiateMobileMoneyRejectsBadPhone(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t)

	if _, err := e.svc.InitiateMobileMoney(ctx, "user_1", "starter", "not-a-phone"); !errors.Is(err, checkoutdomain.ErrInvalidPhone) {
		t.Fatalf("expected invalid phone, got %v", err)
	}
}

func TestExpireStaleOnlyReapsOldPending(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t)

	if _, err := e.svc.CreateSession(ctx, checkoutdomain.CreateSessionRequest{
		UserID:      "user_1",
		PackageType: "pro",
		Provider:    "stripe",
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	e.clock.Advance(25 * time.Hour)

	if _, err := e.svc.CreateSession(ctx, checkoutdomain.CreateSessionRequest{
		UserID:      "user_1",
		PackageType: "starter",
		Provider:    "stripe",
	}); err != nil {
		t.Fatalf("create fresh session: %v", err)
	}

	expired, err := e.svc.ExpireStale(ctx, e.clock.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired session, got %d", expired)
	}

	var pending int64
	if err := e.db.Raw(`SELECT COUNT(1) FROM payment_sessions WHERE status = 'pending'`).Scan(&pending).Error; err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending session, got %d", pending)
	}

	// Running the sweep again changes nothing; expired is terminal.
	expired, err = e.svc.ExpireStale(ctx, e.clock.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("expire again: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected 0 expired on second sweep, got %d", expired)
	}
}
