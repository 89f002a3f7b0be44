package persistence

import (
	"context"
	"time"

	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"

	"gorm.io/gorm"
)

type sessionRepositoryImpl struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) chatRepository.SessionRepository {
	return &sessionRepositoryImpl{db: db}
}

func (r *sessionRepositoryImpl) Create(ctx context.Context, session *chatEntity.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *sessionRepositoryImpl) GetByUUID(ctx context.Context, uuid string) (*chatEntity.Session, error) {
	var sess chatEntity.Session
	if err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

func (r *sessionRepositoryImpl) GetOpenByUserID(ctx context.Context, userID string) (*chatEntity.Session, error) {
	var sess chatEntity.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []string{chatEntity.SessionStatusWaiting, chatEntity.SessionStatusActive}).
		Order("id DESC").
		First(&sess).Error
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (r *sessionRepositoryImpl) List(ctx context.Context, filter chatRepository.SessionFilter) ([]chatEntity.Session, int64, error) {
	q := r.db.WithContext(ctx).Model(&chatEntity.Session{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	pageSize := filter.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var sessions []chatEntity.Session
	err := q.Order("last_activity_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (r *sessionRepositoryImpl) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&chatEntity.Session{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

func (r *sessionRepositoryImpl) Assign(ctx context.Context, uuid string, agentID string, agentName string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&chatEntity.Session{}).
		Where("uuid = ? AND status = ?", uuid, chatEntity.SessionStatusWaiting).
		Updates(map[string]interface{}{
			"status":           chatEntity.SessionStatusActive,
			"admin_id":         agentID,
			"admin_name":       agentName,
			"assigned_at":      at,
			"last_activity_at": notBefore(at),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *sessionRepositoryImpl) Close(ctx context.Context, uuid string, closedBy string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&chatEntity.Session{}).
		Where("uuid = ? AND status IN ?", uuid, []string{chatEntity.SessionStatusWaiting, chatEntity.SessionStatusActive}).
		Updates(map[string]interface{}{
			"status":           chatEntity.SessionStatusClosed,
			"closed_by":        closedBy,
			"closed_at":        at,
			"last_activity_at": notBefore(at),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *sessionRepositoryImpl) Touch(ctx context.Context, uuid string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&chatEntity.Session{}).
		Where("uuid = ? AND last_activity_at < ?", uuid, at).
		Update("last_activity_at", at).Error
}

// notBefore keeps last_activity_at monotonic inside a single UPDATE.
func notBefore(at time.Time) interface{} {
	return gorm.Expr("CASE WHEN last_activity_at < ? THEN ? ELSE last_activity_at END", at, at)
}
