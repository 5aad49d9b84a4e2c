package domain

import "errors"

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidReason       = errors.New("invalid_reason")
	ErrInvalidExternalRef  = errors.New("invalid_external_ref")
	ErrInsufficientCredits = errors.New("insufficient_credits")
)
