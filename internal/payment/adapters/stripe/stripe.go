package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/hireloop/hireloop/internal/payment/domain"
)

// signatureTolerance bounds how old a signed timestamp may be before the
// webhook is rejected as a replay.
const signatureTolerance = 5 * time.Minute

type Adapter struct {
	webhookSecret string
	now           func() time.Time
}

func NewAdapter(webhookSecret string) (*Adapter, error) {
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{
		webhookSecret: webhookSecret,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderStripe
}

// Verify checks the Stripe-Signature header: an HMAC-SHA256 over
// "<timestamp>.<payload>" with the webhook secret, compared in constant time,
// plus a staleness bound on the signed timestamp.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	age := a.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return paymentdomain.ErrStaleTimestamp
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Intent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseCheckoutSession(event, payload, paymentdomain.IntentStatusSucceeded)
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		return a.parseCheckoutSession(event, payload, paymentdomain.IntentStatusFailed)
	case "payment_intent.payment_failed":
		return a.parsePaymentIntent(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID          string            `json:"id"`
	AmountTotal int64             `json:"amount_total"`
	Currency    string            `json:"currency"`
	Created     int64             `json:"created"`
	Metadata    map[string]string `json:"metadata"`
}

func (a *Adapter) parseCheckoutSession(event stripeEvent, payload []byte, status string) (*paymentdomain.Intent, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	userID := strings.TrimSpace(session.Metadata["user_id"])
	if userID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	credits, _ := strconv.ParseInt(strings.TrimSpace(session.Metadata["credits"]), 10, 64)

	occurredAt := timestamp(session.Created, event.Created)
	return &paymentdomain.Intent{
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: event.ID,
		ProviderRef:     session.ID,
		CheckoutRef:     strings.TrimSpace(session.Metadata["checkout_ref"]),
		UserID:          userID,
		PackageType:     strings.TrimSpace(session.Metadata["package_type"]),
		Credits:         credits,
		Amount:          session.AmountTotal,
		Currency:        strings.ToUpper(strings.TrimSpace(session.Currency)),
		Status:          status,
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

// parsePaymentIntent handles a failure reported on the payment intent rather
// than the checkout session. The intent id is unknown to our sessions, so the
// normalized result carries only the checkout ref from metadata.
func (a *Adapter) parsePaymentIntent(event stripeEvent, payload []byte) (*paymentdomain.Intent, error) {
	var pi struct {
		ID       string            `json:"id"`
		Amount   int64             `json:"amount"`
		Currency string            `json:"currency"`
		Created  int64             `json:"created"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Object, &pi); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(pi.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	userID := strings.TrimSpace(pi.Metadata["user_id"])
	checkoutRef := strings.TrimSpace(pi.Metadata["checkout_ref"])
	if userID == "" || checkoutRef == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.Intent{
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: event.ID,
		CheckoutRef:     checkoutRef,
		UserID:          userID,
		PackageType:     strings.TrimSpace(pi.Metadata["package_type"]),
		Amount:          pi.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(pi.Currency)),
		Status:          paymentdomain.IntentStatusFailed,
		OccurredAt:      timestamp(pi.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
