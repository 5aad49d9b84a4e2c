package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	identitydomain "github.com/hireloop/hireloop/internal/identity/domain"
	identityservice "github.com/hireloop/hireloop/internal/identity/service"
	"github.com/hireloop/hireloop/internal/migration"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migration.Run(db, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newIdentityService(db *gorm.DB) identitydomain.Service {
	return identityservice.NewService(identityservice.Params{
		DB:  db,
		Log: zap.NewNop(),
	})
}

func TestEnsureUserCreatesUserAndZeroBalance(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIdentityService(db)

	user, err := svc.EnsureUser(ctx, "user_1", "ada@example.com")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if user.ID != "user_1" || user.Email != "ada@example.com" || !user.IsActive {
		t.Fatalf("unexpected user: %+v", user)
	}

	var balance int64
	if err := db.Raw(`SELECT balance FROM credit_balances WHERE user_id = ?`, "user_1").Scan(&balance).Error; err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected zero starting balance, got %d", balance)
	}
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIdentityService(db)

	if _, err := svc.EnsureUser(ctx, "user_1", "ada@example.com"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := db.Exec(`UPDATE credit_balances SET balance = 42 WHERE user_id = ?`, "user_1").Error; err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	user, err := svc.EnsureUser(ctx, "user_1", "other@example.com")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("expected original email kept, got %q", user.Email)
	}

	var balance int64
	if err := db.Raw(`SELECT balance FROM credit_balances WHERE user_id = ?`, "user_1").Scan(&balance).Error; err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if balance != 42 {
		t.Fatalf("expected balance untouched, got %d", balance)
	}
}

func TestEnsureUserRejectsDeactivated(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIdentityService(db)

	if _, err := svc.EnsureUser(ctx, "user_1", "ada@example.com"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := svc.Deactivate(ctx, "user_1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := svc.EnsureUser(ctx, "user_1", "ada@example.com"); !errors.Is(err, identitydomain.ErrUserDeactivated) {
		t.Fatalf("expected deactivated error, got %v", err)
	}
}

func TestEnsureUserRejectsBlankID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIdentityService(db)

	if _, err := svc.EnsureUser(ctx, "  ", "ada@example.com"); !errors.Is(err, identitydomain.ErrInvalidUser) {
		t.Fatalf("expected invalid user, got %v", err)
	}
}
