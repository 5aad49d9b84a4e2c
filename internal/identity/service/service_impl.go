package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	identitydomain "github.com/hireloop/hireloop/internal/identity/domain"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) identitydomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("identity.service"),
	}
}

func (s *Service) EnsureUser(ctx context.Context, userID, email string) (*identitydomain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, identitydomain.ErrInvalidUser
	}
	email = strings.TrimSpace(email)

	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO users (id, email, is_active, created_at)
			 VALUES (?, ?, TRUE, ?)
			 ON CONFLICT (id) DO NOTHING`,
			userID,
			email,
			now,
		).Error; err != nil {
			return err
		}
		return tx.Exec(
			`INSERT INTO credit_balances (user_id, balance, updated_at)
			 VALUES (?, 0, ?)
			 ON CONFLICT (user_id) DO NOTHING`,
			userID,
			now,
		).Error
	})
	if err != nil {
		return nil, err
	}

	var user identitydomain.User
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, email, is_active, created_at FROM users WHERE id = ?`,
		userID,
	).Scan(&user).Error; err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, identitydomain.ErrInvalidUser
	}
	if !user.IsActive {
		return nil, identitydomain.ErrUserDeactivated
	}
	return &user, nil
}

func (s *Service) Deactivate(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return identitydomain.ErrInvalidUser
	}
	res := s.db.WithContext(ctx).Exec(
		`UPDATE users SET is_active = FALSE WHERE id = ?`,
		userID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return identitydomain.ErrInvalidUser
	}
	return nil
}
