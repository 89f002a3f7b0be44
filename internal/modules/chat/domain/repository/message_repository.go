package repository

import (
	"context"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
)

type MessageRepository interface {
	Create(ctx context.Context, message *entity.Message) error
	// ListBySession 按插入顺序正序分页
	ListBySession(ctx context.Context, sessionID string, page int, pageSize int) ([]entity.Message, int64, error)
	GetByStoredName(ctx context.Context, storedName string) (*entity.Message, error)
	MarkDelivered(ctx context.Context, uuid string) error
	// MarkReadFrom 把会话中 senderType 一方发出的未读消息标记为已读
	MarkReadFrom(ctx context.Context, sessionID string, senderType string) (int64, error)
	CountUnreadFrom(ctx context.Context, sessionIDs []string, senderType string) (map[string]int64, error)
}
