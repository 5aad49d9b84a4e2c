package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryKind classifies a ledger entry. The amount column is signed; kind
// carries the interpretation.
type EntryKind string

const (
	EntryKindGrant  EntryKind = "grant"
	EntryKindDebit  EntryKind = "debit"
	EntryKindRefund EntryKind = "refund"
	EntryKindBonus  EntryKind = "bonus"
)

// Entry is one immutable, append-only ledger record. The sum of a user's
// entries always equals the stored balance. ExternalRef is unique when set;
// that uniqueness constraint is the idempotency guard for provider-sourced
// grants.
type Entry struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID      string       `json:"user_id" gorm:"not null;index"`
	Kind        EntryKind    `json:"kind" gorm:"type:text;not null"`
	Amount      int64        `json:"amount" gorm:"not null"`
	Reason      string       `json:"reason" gorm:"type:text;not null"`
	ExternalRef *string      `json:"external_ref,omitempty" gorm:"uniqueIndex"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

func (Entry) TableName() string { return "credit_ledger_entries" }

// Balance is the derived spendable credit count, mutated only inside the same
// transaction that appends the matching entry.
type Balance struct {
	UserID    string    `json:"user_id" gorm:"primaryKey"`
	Balance   int64     `json:"balance" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Balance) TableName() string { return "credit_balances" }

// DebitResult reports the outcome of a conditional debit.
type DebitResult struct {
	Applied    bool
	NewBalance int64
}

type Service interface {
	// Grant atomically appends a grant entry keyed by externalRef and
	// increments the balance. Returns applied=false without changes when the
	// externalRef was already consumed.
	Grant(ctx context.Context, userID string, amount int64, externalRef string, reason string) (bool, error)

	// GrantBonus credits promotional credits with no external reference.
	GrantBonus(ctx context.Context, userID string, amount int64, reason string) error

	// Debit atomically verifies balance >= amount and decrements it, appending
	// a debit entry in the same transaction. Never produces a negative balance.
	Debit(ctx context.Context, userID string, amount int64, reason string) (DebitResult, error)

	// Refund credits an amount back, keyed by externalRef for idempotency.
	Refund(ctx context.Context, userID string, amount int64, externalRef string, reason string) (bool, error)

	Balance(ctx context.Context, userID string) (int64, error)
	Entries(ctx context.Context, userID string, limit int) ([]Entry, error)
}
