package persistence

import (
	"context"

	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"

	"gorm.io/gorm"
)

type messageRepositoryImpl struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) chatRepository.MessageRepository {
	return &messageRepositoryImpl{db: db}
}

func (r *messageRepositoryImpl) Create(ctx context.Context, message *chatEntity.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepositoryImpl) ListBySession(ctx context.Context, sessionID string, page int, pageSize int) ([]chatEntity.Message, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	q := r.db.WithContext(ctx).Model(&chatEntity.Message{}).Where("session_id = ?", sessionID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []chatEntity.Message
	err := q.Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (r *messageRepositoryImpl) GetByStoredName(ctx context.Context, storedName string) (*chatEntity.Message, error) {
	var msg chatEntity.Message
	err := r.db.WithContext(ctx).
		Where("type = ? AND file_stored_name = ?", chatEntity.MessageTypeFile, storedName).
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepositoryImpl) MarkDelivered(ctx context.Context, uuid string) error {
	return r.db.WithContext(ctx).Model(&chatEntity.Message{}).
		Where("uuid = ? AND status = ?", uuid, chatEntity.MessageStatusQueued).
		Update("status", chatEntity.MessageStatusDelivered).Error
}

func (r *messageRepositoryImpl) MarkReadFrom(ctx context.Context, sessionID string, senderType string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&chatEntity.Message{}).
		Where("session_id = ? AND sender_type = ? AND status <> ?", sessionID, senderType, chatEntity.MessageStatusRead).
		Update("status", chatEntity.MessageStatusRead)
	return res.RowsAffected, res.Error
}

func (r *messageRepositoryImpl) CountUnreadFrom(ctx context.Context, sessionIDs []string, senderType string) (map[string]int64, error) {
	out := make(map[string]int64, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		SessionId string
		Cnt       int64
	}
	err := r.db.WithContext(ctx).Model(&chatEntity.Message{}).
		Select("session_id, COUNT(*) AS cnt").
		Where("session_id IN ? AND sender_type = ? AND status <> ?", sessionIDs, senderType, chatEntity.MessageStatusRead).
		Group("session_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.SessionId] = row.Cnt
	}
	return out, nil
}
