package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Statements is the idempotent schema for the billing subsystem. Kept as plain
// DDL so the same statements run on postgres and sqlite.
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS credit_balances (
		user_id TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS credit_ledger_entries (
		id BIGINT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount BIGINT NOT NULL,
		reason TEXT NOT NULL,
		external_ref TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_ledger_entries_external_ref
		ON credit_ledger_entries(external_ref)`,
	`CREATE INDEX IF NOT EXISTS ix_credit_ledger_entries_user
		ON credit_ledger_entries(user_id)`,
	`CREATE TABLE IF NOT EXISTS payment_sessions (
		id BIGINT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		package_type TEXT NOT NULL,
		expected_credits BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		provider_ref TEXT,
		checkout_ref TEXT NOT NULL,
		phone_number TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_sessions_provider_ref
		ON payment_sessions(provider, provider_ref)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_sessions_checkout_ref
		ON payment_sessions(checkout_ref)`,
	`CREATE INDEX IF NOT EXISTS ix_payment_sessions_status
		ON payment_sessions(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		user_id TEXT,
		payload TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_events_provider_event
		ON payment_events(provider, provider_event_id)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGINT PRIMARY KEY,
		user_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Run applies the schema statements in order.
func Run(conn *gorm.DB, log *zap.Logger) error {
	for _, stmt := range Statements {
		if err := conn.Exec(stmt).Error; err != nil {
			return err
		}
	}
	log.Info("schema migration applied", zap.Int("statements", len(Statements)))
	return nil
}

// Module applies migrations on startup.
var Module = fx.Module("migration",
	fx.Invoke(Run),
)
