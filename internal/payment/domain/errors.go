package domain

import "errors"

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrStaleTimestamp        = errors.New("stale_timestamp")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrSessionMismatch       = errors.New("session_mismatch")
	ErrProviderTimeout       = errors.New("provider_timeout")
	ErrInvalidConfig         = errors.New("invalid_config")
)
