package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	ProviderStripe   = "stripe"
	ProviderIntaSend = "intasend"
	ProviderMpesa    = "mpesa"
)

const (
	IntentStatusSucceeded = "succeeded"
	IntentStatusFailed    = "failed"
)

// Intent is the canonical result of verifying and parsing one provider
// notification or poll result. The reconciliation engine only ever sees this
// normalized shape; provider-specific trust models stay inside the adapters.
type Intent struct {
	Provider        string
	ProviderEventID string
	ProviderRef     string
	CheckoutRef     string
	UserID          string
	PackageType     string
	Credits         int64
	Amount          int64
	Currency        string
	Status          string
	OccurredAt      time.Time
	RawPayload      []byte
}

// EventRecord stores every accepted provider notification. The unique
// (provider, provider_event_id) index makes ingestion replay-safe.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	UserID          *string        `json:"user_id"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// WebhookAdapter verifies and parses push notifications for one provider.
type WebhookAdapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Intent, error)
}

// MobileMoneyStatus is a normalized poll outcome. Pending is a normal,
// non-error state; a timed-out poll maps to Pending, never to Failed.
type MobileMoneyStatus string

const (
	MobileMoneyStatusPending   MobileMoneyStatus = "pending"
	MobileMoneyStatusCompleted MobileMoneyStatus = "completed"
	MobileMoneyStatusFailed    MobileMoneyStatus = "failed"
)

// MobileMoneyChargeRequest initiates a charge against a subscriber phone.
type MobileMoneyChargeRequest struct {
	Phone     string
	Amount    int64
	Currency  string
	Reference string
}

// MobileMoneyClient is the outbound mobile-money gateway boundary.
type MobileMoneyClient interface {
	Charge(ctx context.Context, req MobileMoneyChargeRequest) (conversationID string, err error)
	QueryStatus(ctx context.Context, conversationID string) (MobileMoneyStatus, error)
}

// Service is the reconciliation engine surface consumed by HTTP handlers.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
	Reconcile(ctx context.Context, intent *Intent) (string, error)
	PollMobileMoney(ctx context.Context, userID, checkoutRef string) (string, error)
}
