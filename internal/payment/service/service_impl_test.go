package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	checkoutdomain "github.com/hireloop/hireloop/internal/checkout/domain"
	ledgerdomain "github.com/hireloop/hireloop/internal/ledger/domain"
	ledgerservice "github.com/hireloop/hireloop/internal/ledger/service"
	"github.com/hireloop/hireloop/internal/migration"
	obsmetrics "github.com/hireloop/hireloop/internal/observability/metrics"
	"github.com/hireloop/hireloop/internal/payment/adapters"
	"github.com/hireloop/hireloop/internal/payment/adapters/stripe"
	paymentdomain "github.com/hireloop/hireloop/internal/payment/domain"
	paymentservice "github.com/hireloop/hireloop/internal/payment/service"
)

type noopAuditService struct{}

func (noopAuditService) AuditLog(ctx context.Context, userID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

type fakeMobileMoney struct {
	statuses []paymentdomain.MobileMoneyStatus
	calls    int
}

func (f *fakeMobileMoney) Charge(ctx context.Context, req paymentdomain.MobileMoneyChargeRequest) (string, error) {
	return "conv_1", nil
}

func (f *fakeMobileMoney) QueryStatus(ctx context.Context, conversationID string) (paymentdomain.MobileMoneyStatus, error) {
	if f.calls >= len(f.statuses) {
		return paymentdomain.MobileMoneyStatusPending, nil
	}
	status := f.statuses[f.calls]
	f.calls++
	return status, nil
}

type env struct {
	db           *gorm.DB
	node         *snowflake.Node
	ledgerSvc    ledgerdomain.Service
	paymentSvc   paymentdomain.Service
	mobileMoney  *fakeMobileMoney
	metricReader *sdkmetric.ManualReader
}

func setupEnv(t *testing.T, webhookSecret string) *env {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migration.Run(db, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(11)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	reader := sdkmetric.NewManualReader()
	obs, err := obsmetrics.New(
		obsmetrics.Config{ServiceName: "hireloop_test"},
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	auditSvc := noopAuditService{}
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		AuditSvc:   auditSvc,
		ObsMetrics: obs,
	})

	var list []paymentdomain.WebhookAdapter
	if webhookSecret != "" {
		adapter, err := stripe.NewAdapter(webhookSecret)
		if err != nil {
			t.Fatalf("new adapter: %v", err)
		}
		list = append(list, adapter)
	}

	mobileMoney := &fakeMobileMoney{}
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Registry:    adapters.NewRegistry(list...),
		LedgerSvc:   ledgerSvc,
		AuditSvc:    auditSvc,
		MobileMoney: mobileMoney,
		ObsMetrics:  obs,
	})

	return &env{
		db:           db,
		node:         node,
		ledgerSvc:    ledgerSvc,
		paymentSvc:   paymentSvc,
		mobileMoney:  mobileMoney,
		metricReader: reader,
	}
}

func counterTotal(t *testing.T, e *env, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := e.metricReader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type for %s", name)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func seedSession(t *testing.T, e *env, provider, checkoutRef string, providerRef *string, credits int64) snowflake.ID {
	t.Helper()

	id := e.node.Generate()
	now := time.Now().UTC()
	if err := e.db.Exec(
		`INSERT INTO payment_sessions
		 (id, user_id, provider, package_type, expected_credits, amount, currency, status, provider_ref, checkout_ref, phone_number, created_at, updated_at)
		 VALUES (?, ?, ?, 'starter', ?, 500, 'USD', 'pending', ?, ?, NULL, ?, ?)`,
		id, "user_1", provider, credits, providerRef, checkoutRef, now, now,
	).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return id
}

func sessionStatus(t *testing.T, e *env, id snowflake.ID) string {
	t.Helper()

	var status string
	if err := e.db.Raw(`SELECT status FROM payment_sessions WHERE id = ?`, id).Scan(&status).Error; err != nil {
		t.Fatalf("scan status: %v", err)
	}
	return status
}

func succeededIntent(checkoutRef string) *paymentdomain.Intent {
	return &paymentdomain.Intent{
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: "evt_1",
		ProviderRef:     "cs_1",
		CheckoutRef:     checkoutRef,
		UserID:          "user_1",
		PackageType:     "starter",
		Credits:         50,
		Amount:          500,
		Currency:        "USD",
		Status:          paymentdomain.IntentStatusSucceeded,
		OccurredAt:      time.Now().UTC(),
		RawPayload:      []byte(`{"id":"evt_1"}`),
	}
}

func TestReconcileGrantsCreditsAndCompletesSession(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, "")
	sessionID := seedSession(t, e, paymentdomain.ProviderStripe, "co_1", nil, 50)

	status, err := e.paymentSvc.Reconcile(ctx, succeededIntent("co_1"))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if status != string(checkoutdomain.SessionStatusCompleted) {
		t.Fatalf("expected completed, got %s", status)
	}
	if got := sessionStatus(t, e, sessionID); got != "completed" {
		t.Fatalf("expected session completed, got %s", got)
	}

	balance, err := e.ledgerSvc.Balance(ctx, "user_1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 50 {
		t.Fatalf("expected balance 50, got %d", balance)
	}

	var processed int64
	if err := e.db.Raw(`SELECT COUNT(1) FROM payment_events WHERE processed_at IS NOT NULL`).Scan(&processed).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed event, got %d", processed)
	}
}

func TestReconcileReplayDoesNotDoubleGrant(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, "")
	seedSession(t, e, paymentdomain.ProviderStripe, "co_1", nil, 50)

	if _, err := e.paymentSvc.Reconcile(ctx, succeededIntent("co_1")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	status, err := e.paymentSvc.Reconcile(ctx, succeededIntent("co_1"))
	if err != nil {
		t.Fatalf("replay reconcile: %v", err)
	}
	if status != string(checkoutdomain.SessionStatusCompleted) {
		t.Fatalf("expected completed on replay, got %s", status)
	}

	balance, err := e.ledgerSvc.Balance(ctx, "user_1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 50 {
		t.Fatalf("expected balance 50 after replay, got %d", balance)
	}
}

func TestReconcileFailureMarksSessionFailed(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, "")
	sessionID := seedSession(t, e, paymentdomain.ProviderStripe, "co_1", nil, 50)

	intent := succeededIntent("co_1")
	intent.Status = paymentdomain.IntentStatusFailed

	status, err := e.paymentSvc.Reconcile(ctx, intent)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if status != string(checkoutdomain.SessionStatusFailed) {
		t.Fatalf("expected failed, got %s", status)
	}
	if got := sessionStatus(t, e, sessionID); got != "failed" {
		t.Fatalf("expected session failed, got %s", got)
	}

	balance, err := e.ledgerSvc.Balance(ctx, "user_1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0, got %d", balance)
	}
}

func TestReconcileRejectsUserMismatch(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, "")
	seedSession(t, e, paymentdomain.ProviderStripe, "co_1", nil, 50)

	intent := succeededIntent("co_1")
	intent.UserID = "user_2"

	if _, err := e.paymentSvc.Reconcile(ctx, intent); !errors.Is(err, paymentdomain.ErrSessionMismatch) {
		t.Fatalf("expected session mismatch, got %v", err)
	}

	balance, err := e.ledgerSvc.Balance(ctx, "user_1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected no credits granted, got %d", balance)
	}
}

func TestReconcileFinishesInterruptedSettlement(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, "")
	sessionID := seedSession(t, e, paymentdomain.ProviderStripe, "co_1", nil, 50)

	// Simulate a crash after the grant but before the session moved: the
	// event row exists unprocessed and the external ref is consumed.
	intent := succeededIntent("co_1")
	if err := e.db.Exec(
		`INSERT INTO payment_events (id, provider, provider_event_id, event_type, user_id, payload, received_at)
		 VALUES (?, 'stripe', 'evt_1', 'succeeded', 'user_1', '{}', ?)`,
		e.node.Generate(), time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	if _, err := e.ledgerSvc.Grant(ctx, "user_1", 50, "stripe:cs_1", "credit_purchase:starter"); err != nil {
		t.Fatalf("seed grant: %v", err)
	}

	status, err := e.paymentSvc.Reconcile(ctx, intent)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if status != string(checkoutdomain.SessionStatusCompleted) {
		t.Fatalf("expected completed, got %s", status)
	}
	if got := sessionStatus(t, e, sessionID); got != "completed" {
		t.Fatalf("expected session completed, got %s", got)
	}

	balance, err := e.ledgerSvc.Balance(ctx, "user_1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 50 {
		t.Fatalf("expected balance 50, got %d", balance)
	}

	var unprocessed int64
	if err := e.db.Raw(`SELECT COUNT(1) FROM payment_events WHERE processed_at IS NULL`).Scan(&unprocessed).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if unprocessed != 0 {
		t.Fatalf("expected no unprocessed events, got %d", unprocessed)
	}
}

func TestIngestWebhookVerifiesAndSettles(t *testing.T) {
	ctx := context.Background()
	secret := "whsec_test"
	e := setupEnv(t, secret)
	seedSession(t, e, paymentdomain.ProviderStripe, "co_1", nil, 50)

	now := time.Now().UTC()
	payload := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"checkout.session.completed","created":%d,"data":{"object":{"id":"cs_1","amount_total":500,"currency":"usd","created":%d,"metadata":{"user_id":"user_1","credits":"50","checkout_ref":"co_1","package_type":"starter"}}}}`,
		now.Unix(), now.Unix(),
	))
	header := http.Header{}
	header.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, now.Unix()))

	if err := e.paymentSvc.IngestWebhook(ctx, "stripe", payload, header); err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}

	balance, err := e.ledgerSvc.Balance(ctx, "user_1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 50 {
		t.Fatalf("expected balance 50, got %d", balance)
	}

	// Resend the same delivery.
	if err := e.paymentSvc.IngestWebhook(ctx, "stripe", payload, header); !errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		// A replay after a terminal session short-circuits without error.
		if err != nil {
			t.Fatalf("replay ingest: %v", err)
		}
	}
	balance, err = e.ledgerSvc.Balance(ctx, "user_1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 50 {
		t.Fatalf("expected balance 50 after replay, got %d", balance)
	}
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, "whsec_test")

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	header := http.Header{}
	header.Set("Stripe-Signature", buildStripeSignatureHeader("wrong_secret", payload, time.Now().Unix()))

	if err := e.paymentSvc.IngestWebhook(ctx, "stripe", payload, header); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	var events int64
	if err := e.db.Raw(`SELECT COUNT(1) FROM payment_events`).Scan(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 0 {
		t.Fatalf("expected no events stored, got %d", events)
	}
}

func TestIngestWebhookUnknownProvider(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, "whsec_test")

	err := e.paymentSvc.IngestWebhook(ctx, "paypal", []byte(`{}`), http.Header{})
	if !errors.Is(err, paymentdomain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}
}

func TestPollMobileMoneyPendingThenCompletes(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, "")
	ref := "conv_1"
	sessionID := seedSession(t, e, paymentdomain.ProviderMpesa, "co_mm_1", &ref, 200)
	e.mobileMoney.statuses = []paymentdomain.MobileMoneyStatus{
		paymentdomain.MobileMoneyStatusPending,
		paymentdomain.MobileMoneyStatusPending,
		paymentdomain.MobileMoneyStatusCompleted,
	}

	for i := 0; i < 2; i++ {
		status, err := e.paymentSvc.PollMobileMoney(ctx, "user_1", "co_mm_1")
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if status != "pending" {
			t.Fatalf("poll %d: expected pending, got %s", i, status)
		}
	}

	status, err := e.paymentSvc.PollMobileMoney(ctx, "user_1", "co_mm_1")
	if err != nil {
		t.Fatalf("final poll: %v", err)
	}
	if status != "completed" {
		t.Fatalf("expected completed, got %s", status)
	}
	if got := sessionStatus(t, e, sessionID); got != "completed" {
		t.Fatalf("expected session completed, got %s", got)
	}

	balance, err := e.ledgerSvc.Balance(ctx, "user_1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 200 {
		t.Fatalf("expected balance 200, got %d", balance)
	}

	// Terminal sessions answer from local state without another query.
	queries := e.mobileMoney.calls
	if _, err := e.paymentSvc.PollMobileMoney(ctx, "user_1", "co_mm_1"); err != nil {
		t.Fatalf("post-terminal poll: %v", err)
	}
	if e.mobileMoney.calls != queries {
		t.Fatal("expected no gateway query after terminal state")
	}
}

func TestPollMobileMoneyRejectsForeignSession(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, "")
	ref := "conv_1"
	seedSession(t, e, paymentdomain.ProviderMpesa, "co_mm_1", &ref, 200)

	if _, err := e.paymentSvc.PollMobileMoney(ctx, "user_2", "co_mm_1"); !errors.Is(err, paymentdomain.ErrSessionMismatch) {
		t.Fatalf("expected session mismatch, got %v", err)
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestSettlementRecordsGrantMetricOnce(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, "")
	seedSession(t, e, paymentdomain.ProviderStripe, "co_1", nil, 50)

	if _, err := e.paymentSvc.Reconcile(ctx, succeededIntent("co_1")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := counterTotal(t, e, "hireloop_credit_grants_total"); got != 1 {
		t.Fatalf("expected grant counter 1, got %d", got)
	}
	if got := counterTotal(t, e, "hireloop_payment_events_total"); got != 1 {
		t.Fatalf("expected payment event counter 1, got %d", got)
	}

	// A replay settles from local state and records nothing new.
	if _, err := e.paymentSvc.Reconcile(ctx, succeededIntent("co_1")); err != nil {
		t.Fatalf("replay reconcile: %v", err)
	}
	if got := counterTotal(t, e, "hireloop_credit_grants_total"); got != 1 {
		t.Fatalf("expected grant counter 1 after replay, got %d", got)
	}
}
