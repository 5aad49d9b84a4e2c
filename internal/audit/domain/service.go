package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog is one append-only audit record.
type AuditLog struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	UserID     *string        `json:"user_id"`
	Action     string         `json:"action" gorm:"type:text;not null"`
	TargetType string         `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string        `json:"target_id"`
	Metadata   datatypes.JSON `json:"metadata" gorm:"not null"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Service records security and money-movement relevant events.
type Service interface {
	AuditLog(ctx context.Context, userID *string, action string, targetType string, targetID *string, metadata map[string]any) error
}
