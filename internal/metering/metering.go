package metering

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	auditdomain "github.com/hireloop/hireloop/internal/audit/domain"
	ledgerdomain "github.com/hireloop/hireloop/internal/ledger/domain"
)

// Action is a billable product operation.
type Action string

const (
	ActionAnalysis    Action = "analysis"
	ActionImprovement Action = "improvement"
	ActionTailoring   Action = "tailoring"
	ActionLinkedIn    Action = "linkedin"
)

// costs is the fixed price list in credits. Changing a price here changes it
// for every user at once; there is no per-user pricing.
var costs = map[Action]int64{
	ActionAnalysis:    3,
	ActionImprovement: 2,
	ActionTailoring:   2,
	ActionLinkedIn:    1,
}

var ErrUnknownAction = errors.New("unknown_action")

// ActionRunner dispatches the billable work after a successful charge. The
// implementation lives outside this service; nil means charge-only mode.
type ActionRunner interface {
	Run(ctx context.Context, userID string, action Action, input []byte) (json.RawMessage, error)
}

// Cost returns the credit price of an action.
func Cost(action Action) (int64, error) {
	cost, ok := costs[action]
	if !ok {
		return 0, ErrUnknownAction
	}
	return cost, nil
}

// ChargeResult reports whether the action was authorized and the balance
// after the attempt.
type ChargeResult struct {
	Authorized bool   `json:"authorized"`
	Action     Action `json:"action"`
	Cost       int64  `json:"cost"`
	Balance    int64  `json:"balance"`
}

// Service meters product actions against the credit ledger. Authorization and
// the debit are one atomic step; there is no reserve phase to leak.
type Service interface {
	Charge(ctx context.Context, userID string, action Action) (ChargeResult, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	LedgerSvc ledgerdomain.Service
	AuditSvc  auditdomain.Service
}

type service struct {
	log       *zap.Logger
	ledgerSvc ledgerdomain.Service
	auditSvc  auditdomain.Service
}

func NewService(p Params) Service {
	return &service{
		log:       p.Log.Named("metering.service"),
		ledgerSvc: p.LedgerSvc,
		auditSvc:  p.AuditSvc,
	}
}

func (s *service) Charge(ctx context.Context, userID string, action Action) (ChargeResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ChargeResult{}, ledgerdomain.ErrInvalidUser
	}
	cost, err := Cost(action)
	if err != nil {
		return ChargeResult{}, err
	}

	debit, err := s.ledgerSvc.Debit(ctx, userID, cost, "action:"+string(action))
	if err != nil {
		return ChargeResult{}, err
	}

	result := ChargeResult{
		Authorized: debit.Applied,
		Action:     action,
		Cost:       cost,
		Balance:    debit.NewBalance,
	}

	if !debit.Applied {
		s.writeAuditLog(ctx, userID, "action.denied", action, cost, debit.NewBalance)
		return result, nil
	}
	s.writeAuditLog(ctx, userID, "action.charged", action, cost, debit.NewBalance)
	return result, nil
}

func (s *service) writeAuditLog(ctx context.Context, userID, auditAction string, action Action, cost, balance int64) {
	if s.auditSvc == nil {
		return
	}
	target := string(action)
	if err := s.auditSvc.AuditLog(ctx, &userID, auditAction, "action", &target, map[string]any{
		"action":  string(action),
		"cost":    cost,
		"balance": balance,
	}); err != nil {
		s.log.Warn("failed to write metering audit log", zap.String("action", auditAction), zap.Error(err))
	}
}
