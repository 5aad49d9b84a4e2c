package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/hireloop/hireloop/internal/audit/domain"
	checkoutdomain "github.com/hireloop/hireloop/internal/checkout/domain"
	ledgerdomain "github.com/hireloop/hireloop/internal/ledger/domain"
	obsmetrics "github.com/hireloop/hireloop/internal/observability/metrics"
	"github.com/hireloop/hireloop/internal/payment/adapters"
	paymentdomain "github.com/hireloop/hireloop/internal/payment/domain"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Registry    *adapters.Registry
	LedgerSvc   ledgerdomain.Service
	AuditSvc    auditdomain.Service
	MobileMoney paymentdomain.MobileMoneyClient `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics             `optional:"true"`
}

// Service reconciles provider payment outcomes against payment sessions and
// the credit ledger. It is the only writer of session status after creation,
// and every path through it is safe to replay.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	registry    *adapters.Registry
	ledgerSvc   ledgerdomain.Service
	auditSvc    auditdomain.Service
	mobileMoney paymentdomain.MobileMoneyClient
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		registry:    p.Registry,
		ledgerSvc:   p.LedgerSvc,
		auditSvc:    p.AuditSvc,
		mobileMoney: p.MobileMoney,
		obsMetrics:  p.ObsMetrics,
	}
}

// IngestWebhook verifies, parses and reconciles one push notification. Every
// failure before verification succeeds is treated as untrusted input.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	adapter, err := s.registry.Adapter(provider)
	if err != nil {
		return err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook verification failed",
			zap.String("provider", provider),
			zap.Error(err),
		)
		s.writeAuditLog(ctx, "webhook.verification_failed", nil, map[string]any{
			"provider": provider,
			"reason":   err.Error(),
		})
		return err
	}

	intent, err := adapter.Parse(ctx, payload)
	if err != nil {
		return err
	}

	_, err = s.Reconcile(ctx, intent)
	return err
}

// Reconcile applies one normalized payment outcome: locate the session, record
// the event, settle credits for a success, and move the session to its
// terminal state. Returns the session status after reconciliation.
func (s *Service) Reconcile(ctx context.Context, intent *paymentdomain.Intent) (string, error) {
	if err := validateIntent(intent); err != nil {
		return "", err
	}

	session, err := s.loadSession(ctx, intent)
	if err != nil {
		return "", err
	}
	if session.UserID != intent.UserID {
		s.log.Warn("payment intent user does not match session",
			zap.String("provider", intent.Provider),
			zap.String("checkout_ref", session.CheckoutRef),
		)
		return "", paymentdomain.ErrSessionMismatch
	}

	// A terminal session already absorbed its outcome. Replays are answered
	// from local state without touching the ledger.
	if session.Status.Terminal() {
		return string(session.Status), nil
	}

	now := time.Now().UTC()
	inserted, stored, err := s.recordEvent(ctx, intent, now)
	if err != nil {
		return "", err
	}
	if !inserted && stored.ProcessedAt != nil {
		return string(session.Status), paymentdomain.ErrEventAlreadyProcessed
	}

	var status checkoutdomain.SessionStatus
	switch intent.Status {
	case paymentdomain.IntentStatusSucceeded:
		status, err = s.settleSuccess(ctx, session, intent, now)
	case paymentdomain.IntentStatusFailed:
		status, err = s.settleFailure(ctx, session, intent, now)
	default:
		return "", paymentdomain.ErrInvalidEvent
	}
	if err != nil {
		return "", err
	}

	if err := s.markProcessed(ctx, stored.ID, now); err != nil {
		return "", err
	}

	if inserted && s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, intent.Provider, intent.Status)
	}

	return string(status), nil
}

// settleSuccess grants credits and then marks the session completed. Grant
// runs first so that a crash between the two steps leaves a replayable
// pending session, never a paid user without credits. The replay finds the
// grant's external ref already consumed and only finishes the status move.
func (s *Service) settleSuccess(
	ctx context.Context,
	session *checkoutdomain.PaymentSession,
	intent *paymentdomain.Intent,
	now time.Time,
) (checkoutdomain.SessionStatus, error) {

	if intent.Credits > 0 && intent.Credits != session.ExpectedCredits {
		s.log.Warn("provider credits differ from session, trusting session",
			zap.Int64("provider_credits", intent.Credits),
			zap.Int64("session_credits", session.ExpectedCredits),
			zap.String("checkout_ref", session.CheckoutRef),
		)
	}

	externalRef := intent.Provider + ":" + intent.ProviderRef
	applied, err := s.ledgerSvc.Grant(
		ctx,
		session.UserID,
		session.ExpectedCredits,
		externalRef,
		"credit_purchase:"+session.PackageType,
	)
	if err != nil {
		return "", err
	}

	if err := s.transition(ctx, session, checkoutdomain.SessionStatusCompleted, intent.ProviderRef, now); err != nil {
		return "", err
	}

	s.writeAuditLog(ctx, "payment.completed", session, map[string]any{
		"provider":     intent.Provider,
		"provider_ref": intent.ProviderRef,
		"credits":      session.ExpectedCredits,
		"amount":       session.Amount,
		"currency":     session.Currency,
		"applied":      applied,
	})
	return checkoutdomain.SessionStatusCompleted, nil
}

func (s *Service) settleFailure(
	ctx context.Context,
	session *checkoutdomain.PaymentSession,
	intent *paymentdomain.Intent,
	now time.Time,
) (checkoutdomain.SessionStatus, error) {

	if err := s.transition(ctx, session, checkoutdomain.SessionStatusFailed, intent.ProviderRef, now); err != nil {
		return "", err
	}
	s.writeAuditLog(ctx, "payment.failed", session, map[string]any{
		"provider":     intent.Provider,
		"provider_ref": intent.ProviderRef,
		"amount":       session.Amount,
		"currency":     session.Currency,
	})
	return checkoutdomain.SessionStatusFailed, nil
}

// transition moves a pending session to a terminal state. The status guard in
// the WHERE clause makes concurrent settlements race-safe; losing the race is
// not an error because terminal states are final either way.
func (s *Service) transition(
	ctx context.Context,
	session *checkoutdomain.PaymentSession,
	status checkoutdomain.SessionStatus,
	providerRef string,
	now time.Time,
) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE payment_sessions
		 SET status = ?, provider_ref = COALESCE(provider_ref, ?), updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		nullableString(providerRef),
		now,
		session.ID,
		checkoutdomain.SessionStatusPending,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		session.Status = status
	}
	return nil
}

// PollMobileMoney queries the gateway for a pending mobile-money session and
// reconciles any terminal verdict. Pending and timed-out polls both report
// "pending"; the caller simply polls again.
func (s *Service) PollMobileMoney(ctx context.Context, userID, checkoutRef string) (string, error) {
	checkoutRef = strings.TrimSpace(checkoutRef)
	if checkoutRef == "" {
		return "", checkoutdomain.ErrSessionNotFound
	}

	var session checkoutdomain.PaymentSession
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM payment_sessions WHERE checkout_ref = ?`,
		checkoutRef,
	).Scan(&session).Error; err != nil {
		return "", err
	}
	if session.ID == 0 {
		return "", checkoutdomain.ErrSessionNotFound
	}
	if session.UserID != userID {
		return "", paymentdomain.ErrSessionMismatch
	}
	if session.Status.Terminal() {
		return string(session.Status), nil
	}
	if session.ProviderRef == nil || *session.ProviderRef == "" {
		return string(checkoutdomain.SessionStatusPending), nil
	}
	if s.mobileMoney == nil {
		return "", paymentdomain.ErrProviderNotFound
	}

	status, err := s.mobileMoney.QueryStatus(ctx, *session.ProviderRef)
	if err != nil {
		return "", err
	}

	var intentStatus string
	switch status {
	case paymentdomain.MobileMoneyStatusCompleted:
		intentStatus = paymentdomain.IntentStatusSucceeded
	case paymentdomain.MobileMoneyStatusFailed:
		intentStatus = paymentdomain.IntentStatusFailed
	default:
		return string(checkoutdomain.SessionStatusPending), nil
	}

	payload, _ := json.Marshal(map[string]string{
		"conversation_id": *session.ProviderRef,
		"status":          string(status),
	})
	return s.Reconcile(ctx, &paymentdomain.Intent{
		Provider:        paymentdomain.ProviderMpesa,
		ProviderEventID: *session.ProviderRef,
		ProviderRef:     *session.ProviderRef,
		CheckoutRef:     session.CheckoutRef,
		UserID:          session.UserID,
		PackageType:     session.PackageType,
		Credits:         session.ExpectedCredits,
		Amount:          session.Amount,
		Currency:        session.Currency,
		Status:          intentStatus,
		OccurredAt:      time.Now().UTC(),
		RawPayload:      payload,
	})
}

func validateIntent(intent *paymentdomain.Intent) error {
	if intent == nil {
		return paymentdomain.ErrInvalidEvent
	}
	intent.Provider = strings.ToLower(strings.TrimSpace(intent.Provider))
	if intent.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	intent.ProviderEventID = strings.TrimSpace(intent.ProviderEventID)
	if intent.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	intent.ProviderRef = strings.TrimSpace(intent.ProviderRef)
	intent.CheckoutRef = strings.TrimSpace(intent.CheckoutRef)
	if intent.ProviderRef == "" && intent.CheckoutRef == "" {
		return paymentdomain.ErrInvalidEvent
	}
	intent.UserID = strings.TrimSpace(intent.UserID)
	if intent.UserID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	switch intent.Status {
	case paymentdomain.IntentStatusSucceeded, paymentdomain.IntentStatusFailed:
	default:
		return paymentdomain.ErrInvalidEvent
	}
	if len(intent.RawPayload) > 0 && !json.Valid(intent.RawPayload) {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}

// loadSession resolves the session a provider outcome belongs to. Provider
// reference is tried first; the checkout reference carried in provider
// metadata is the fallback for providers that mint their own reference after
// session creation.
func (s *Service) loadSession(ctx context.Context, intent *paymentdomain.Intent) (*checkoutdomain.PaymentSession, error) {
	var session checkoutdomain.PaymentSession

	if intent.ProviderRef != "" {
		if err := s.db.WithContext(ctx).Raw(
			`SELECT * FROM payment_sessions WHERE provider = ? AND provider_ref = ?`,
			intent.Provider,
			intent.ProviderRef,
		).Scan(&session).Error; err != nil {
			return nil, err
		}
		if session.ID != 0 {
			return &session, nil
		}
	}

	if intent.CheckoutRef != "" {
		if err := s.db.WithContext(ctx).Raw(
			`SELECT * FROM payment_sessions WHERE checkout_ref = ?`,
			intent.CheckoutRef,
		).Scan(&session).Error; err != nil {
			return nil, err
		}
		if session.ID != 0 {
			if session.Provider != intent.Provider {
				return nil, paymentdomain.ErrSessionMismatch
			}
			return &session, nil
		}
	}

	return nil, checkoutdomain.ErrSessionNotFound
}

// recordEvent inserts the event row, reporting inserted=false when the
// (provider, provider_event_id) pair was seen before. A previously inserted
// but unprocessed row means a crash interrupted settlement; the caller
// finishes the work.
func (s *Service) recordEvent(ctx context.Context, intent *paymentdomain.Intent, now time.Time) (bool, *paymentdomain.EventRecord, error) {
	payload := intent.RawPayload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        intent.Provider,
		ProviderEventID: intent.ProviderEventID,
		EventType:       intent.Status,
		UserID:          &intent.UserID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	res := s.db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (id, provider, provider_event_id, event_type, user_id, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		record.ID,
		record.Provider,
		record.ProviderEventID,
		record.EventType,
		record.UserID,
		record.Payload,
		record.ReceivedAt,
	)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected > 0 {
		return true, &record, nil
	}

	var stored paymentdomain.EventRecord
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM payment_events WHERE provider = ? AND provider_event_id = ?`,
		record.Provider,
		record.ProviderEventID,
	).Scan(&stored).Error; err != nil {
		return false, nil, err
	}
	if stored.ID == 0 {
		return false, nil, paymentdomain.ErrInvalidEvent
	}
	return false, &stored, nil
}

func (s *Service) markProcessed(ctx context.Context, id snowflake.ID, processedAt time.Time) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE payment_events SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
		processedAt,
		id,
	).Error
}

func (s *Service) writeAuditLog(ctx context.Context, action string, session *checkoutdomain.PaymentSession, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var userID *string
	var targetID *string
	if session != nil {
		userID = &session.UserID
		ref := session.CheckoutRef
		targetID = &ref
		metadata["checkout_ref"] = session.CheckoutRef
	}
	if err := s.auditSvc.AuditLog(ctx, userID, action, "payment_session", targetID, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}

func nullableString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
