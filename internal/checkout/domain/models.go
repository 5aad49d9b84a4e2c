package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SessionStatus is the one-way payment session state machine. Pending may move
// to exactly one terminal state; terminal states never change.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusExpired   SessionStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusExpired:
		return true
	default:
		return false
	}
}

// PaymentSession records one checkout attempt from creation through terminal
// resolution. It is created pending before the provider is contacted, so that
// a crash between provider-side creation and local persistence cannot orphan a
// payment the user believes succeeded.
type PaymentSession struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID          string        `json:"user_id" gorm:"not null;index"`
	Provider        string        `json:"provider" gorm:"type:text;not null"`
	PackageType     string        `json:"package_type" gorm:"type:text;not null"`
	ExpectedCredits int64         `json:"expected_credits" gorm:"not null"`
	Amount          int64         `json:"amount" gorm:"not null"`
	Currency        string        `json:"currency" gorm:"type:text;not null"`
	Status          SessionStatus `json:"status" gorm:"type:text;not null"`
	ProviderRef     *string       `json:"provider_ref,omitempty"`
	CheckoutRef     string        `json:"checkout_ref" gorm:"type:text;not null;uniqueIndex"`
	PhoneNumber     *string       `json:"-"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"not null"`
}

func (PaymentSession) TableName() string { return "payment_sessions" }

var (
	ErrSessionNotFound  = errors.New("session_not_found")
	ErrInvalidPhone     = errors.New("invalid_phone")
	ErrInvalidRequest   = errors.New("invalid_checkout_request")
	ErrProviderRefInUse = errors.New("provider_ref_in_use")
)

// CreateSessionRequest starts a redirect-style checkout.
type CreateSessionRequest struct {
	UserID      string
	PackageType string
	Provider    string
	ReturnURL   string
}

// CheckoutResponse carries the redirect target back to the client.
type CheckoutResponse struct {
	SessionID   snowflake.ID `json:"session_id"`
	CheckoutRef string       `json:"checkout_ref"`
	CheckoutURL string       `json:"checkout_url"`
}

// MobileMoneyResponse reports an initiated mobile-money charge. Phone numbers
// are masked before they reach a client.
type MobileMoneyResponse struct {
	SessionID       snowflake.ID `json:"session_id"`
	CheckoutRef     string       `json:"checkout_ref"`
	MaskedPhone     string       `json:"phone"`
	RequiresPolling bool         `json:"requires_polling"`
}

// RedirectResult is what a provider checkout client returns.
type RedirectResult struct {
	ProviderRef string
	RedirectURL string
}

// RedirectClient creates a hosted checkout at a redirect-style provider.
type RedirectClient interface {
	Provider() string
	CreateCheckout(ctx context.Context, session *PaymentSession, returnURL string) (RedirectResult, error)
}

type Service interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (CheckoutResponse, error)
	InitiateMobileMoney(ctx context.Context, userID, packageType, phone string) (MobileMoneyResponse, error)

	// ExpireStale marks pending sessions older than the TTL as expired.
	// Expired is terminal and reachable only from this sweep.
	ExpireStale(ctx context.Context, olderThan time.Time) (int64, error)
}
