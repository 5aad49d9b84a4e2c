package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/hireloop/hireloop/internal/audit/domain"
	ledgerdomain "github.com/hireloop/hireloop/internal/ledger/domain"
	obsmetrics "github.com/hireloop/hireloop/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Grant(ctx context.Context, userID string, amount int64, externalRef string, reason string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, ledgerdomain.ErrInvalidUser
	}
	if amount <= 0 {
		return false, ledgerdomain.ErrInvalidAmount
	}
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return false, ledgerdomain.ErrInvalidExternalRef
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return false, ledgerdomain.ErrInvalidReason
	}

	applied, err := s.credit(ctx, userID, amount, ledgerdomain.EntryKindGrant, reason, &externalRef)
	if err != nil {
		return false, err
	}
	if applied {
		s.writeAuditLog(ctx, userID, "ledger.grant", externalRef, amount, reason)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCreditGrant(ctx, reason)
		}
	}
	return applied, nil
}

func (s *Service) GrantBonus(ctx context.Context, userID string, amount int64, reason string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ledgerdomain.ErrInvalidUser
	}
	if amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ledgerdomain.ErrInvalidReason
	}

	if _, err := s.credit(ctx, userID, amount, ledgerdomain.EntryKindBonus, reason, nil); err != nil {
		return err
	}
	s.writeAuditLog(ctx, userID, "ledger.bonus", "", amount, reason)
	return nil
}

func (s *Service) Refund(ctx context.Context, userID string, amount int64, externalRef string, reason string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, ledgerdomain.ErrInvalidUser
	}
	if amount <= 0 {
		return false, ledgerdomain.ErrInvalidAmount
	}
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return false, ledgerdomain.ErrInvalidExternalRef
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return false, ledgerdomain.ErrInvalidReason
	}

	applied, err := s.credit(ctx, userID, amount, ledgerdomain.EntryKindRefund, reason, &externalRef)
	if err != nil {
		return false, err
	}
	if applied {
		s.writeAuditLog(ctx, userID, "ledger.refund", externalRef, amount, reason)
	}
	return applied, nil
}

// credit appends a positive entry and increments the balance in one
// transaction. When externalRef is set, the unique index on external_ref makes
// the insert a no-op for duplicates; the balance is then left untouched. This
// holds under concurrent callers racing the same ref because the conflict is
// resolved by the database, not by a prior lookup.
func (s *Service) credit(ctx context.Context, userID string, amount int64, kind ledgerdomain.EntryKind, reason string, externalRef *string) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Exec(
			`INSERT INTO credit_ledger_entries (id, user_id, kind, amount, reason, external_ref, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (external_ref) DO NOTHING`,
			s.genID.Generate(),
			userID,
			string(kind),
			amount,
			reason,
			externalRef,
			now,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		return tx.Exec(
			`INSERT INTO credit_balances (user_id, balance, updated_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT (user_id) DO UPDATE
			 SET balance = credit_balances.balance + excluded.balance,
			     updated_at = excluded.updated_at`,
			userID,
			amount,
			now,
		).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *Service) Debit(ctx context.Context, userID string, amount int64, reason string) (ledgerdomain.DebitResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ledgerdomain.DebitResult{}, ledgerdomain.ErrInvalidUser
	}
	if amount <= 0 {
		return ledgerdomain.DebitResult{}, ledgerdomain.ErrInvalidAmount
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ledgerdomain.DebitResult{}, ledgerdomain.ErrInvalidReason
	}

	result := ledgerdomain.DebitResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		// Conditional decrement. The balance check and the write are one
		// statement so two concurrent debits cannot both pass on a balance
		// that only covers one of them.
		res := tx.Exec(
			`UPDATE credit_balances
			 SET balance = balance - ?, updated_at = ?
			 WHERE user_id = ? AND balance >= ?`,
			amount,
			now,
			userID,
			amount,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.Exec(
			`INSERT INTO credit_ledger_entries (id, user_id, kind, amount, reason, external_ref, created_at)
			 VALUES (?, ?, ?, ?, ?, NULL, ?)`,
			s.genID.Generate(),
			userID,
			string(ledgerdomain.EntryKindDebit),
			-amount,
			reason,
			now,
		).Error; err != nil {
			return err
		}

		var balance int64
		if err := tx.Raw(
			`SELECT balance FROM credit_balances WHERE user_id = ?`,
			userID,
		).Scan(&balance).Error; err != nil {
			return err
		}
		result.Applied = true
		result.NewBalance = balance
		return nil
	})
	if err != nil {
		return ledgerdomain.DebitResult{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCreditDebit(ctx, reason, result.Applied)
	}
	if !result.Applied {
		s.log.Info("debit rejected",
			zap.String("user_id", userID),
			zap.Int64("amount", amount),
			zap.String("reason", reason),
		)
	}
	return result, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ledgerdomain.ErrInvalidUser
	}
	var balance int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(
			(SELECT balance FROM credit_balances WHERE user_id = ?), 0
		)`,
		userID,
	).Scan(&balance).Error; err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) Entries(ctx context.Context, userID string, limit int) ([]ledgerdomain.Entry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []ledgerdomain.Entry
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, user_id, kind, amount, reason, external_ref, created_at
		 FROM credit_ledger_entries
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID,
		limit,
	).Scan(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) writeAuditLog(ctx context.Context, userID, action, externalRef string, amount int64, reason string) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"amount": amount,
		"reason": reason,
	}
	if externalRef != "" {
		metadata["external_ref"] = externalRef
	}
	if err := s.auditSvc.AuditLog(ctx, &userID, action, "credit_ledger_entry", nil, metadata); err != nil {
		s.log.Warn("failed to write ledger audit log", zap.Error(err))
	}
}
