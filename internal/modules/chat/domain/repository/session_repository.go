package repository

import (
	"context"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
)

type SessionFilter struct {
	UserID   string // empty: all users
	Status   string // empty: any status
	Page     int
	PageSize int
}

type SessionRepository interface {
	Create(ctx context.Context, session *entity.Session) error
	GetByUUID(ctx context.Context, uuid string) (*entity.Session, error)
	// GetOpenByUserID 返回用户 waiting/active 的会话，没有时返回 gorm.ErrRecordNotFound
	GetOpenByUserID(ctx context.Context, userID string) (*entity.Session, error)
	List(ctx context.Context, filter SessionFilter) ([]entity.Session, int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
	// Assign waiting -> active. false 表示会话已不在 waiting（被别人抢先）
	Assign(ctx context.Context, uuid string, agentID string, agentName string, at time.Time) (bool, error)
	// Close waiting/active -> closed. false 表示已关闭
	Close(ctx context.Context, uuid string, closedBy string, at time.Time) (bool, error)
	// Touch 只会把 last_activity_at 往后推
	Touch(ctx context.Context, uuid string, at time.Time) error
}
