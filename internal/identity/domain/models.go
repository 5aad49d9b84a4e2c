package domain

import (
	"context"
	"errors"
	"time"
)

// User is keyed by the stable identifier supplied by the identity provider.
// The ledger treats it as an opaque key. Users are created on first sight and
// never deleted, only deactivated.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"type:text;not null;default:''"`
	IsActive  bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

var (
	ErrInvalidUser     = errors.New("invalid_user")
	ErrUserDeactivated = errors.New("user_deactivated")
)

type Service interface {
	// EnsureUser creates the user and a zero balance row on first sight.
	// Safe to call on every request.
	EnsureUser(ctx context.Context, userID, email string) (*User, error)
	Deactivate(ctx context.Context, userID string) error
}
