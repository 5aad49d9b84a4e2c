package intasend

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hireloop/hireloop/internal/catalog"
	paymentdomain "github.com/hireloop/hireloop/internal/payment/domain"
)

// Adapter verifies aggregator webhooks signed with an HMAC-SHA256 of the raw
// request body.
type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) (*Adapter, error) {
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: webhookSecret}, nil
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderIntaSend
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get("X-IntaSend-Signature"))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type intasendEvent struct {
	Event     string       `json:"event"`
	Timestamp int64        `json:"timestamp"`
	Data      intasendData `json:"data"`
}

type intasendData struct {
	InvoiceID  string            `json:"invoice_id"`
	State      string            `json:"state"`
	Value      int64             `json:"value"`
	Currency   string            `json:"currency"`
	APIRef     string            `json:"api_ref"`
	Account    string            `json:"account"`
	Product    string            `json:"product"`
	Metadata   map[string]string `json:"metadata"`
	FailedCode string            `json:"failed_code"`
	FailedNote string            `json:"failed_reason"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Intent, error) {
	var event intasendEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.Data.InvoiceID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var status string
	switch strings.TrimSpace(event.Event) {
	case "payment.completed":
		status = paymentdomain.IntentStatusSucceeded
	case "payment.failed":
		status = paymentdomain.IntentStatusFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	userID := strings.TrimSpace(event.Data.Metadata["user_id"])
	if userID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	occurredAt := time.Now().UTC()
	if event.Timestamp > 0 {
		occurredAt = time.Unix(event.Timestamp, 0).UTC()
	}

	// Payloads from SKU-configured payment links carry a product id instead
	// of our metadata.
	packageType := strings.TrimSpace(event.Data.Metadata["package_type"])
	var credits int64
	if packageType == "" && event.Data.Product != "" {
		if pkg, err := catalog.LookupByProviderProduct(paymentdomain.ProviderIntaSend, event.Data.Product); err == nil {
			packageType = pkg.ID
			credits = pkg.Credits
		}
	}

	return &paymentdomain.Intent{
		Provider:        paymentdomain.ProviderIntaSend,
		ProviderEventID: event.Data.InvoiceID + ":" + event.Event,
		ProviderRef:     event.Data.InvoiceID,
		CheckoutRef:     strings.TrimSpace(event.Data.APIRef),
		UserID:          userID,
		PackageType:     packageType,
		Credits:         credits,
		Amount:          event.Data.Value,
		Currency:        strings.ToUpper(strings.TrimSpace(event.Data.Currency)),
		Status:          status,
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}
