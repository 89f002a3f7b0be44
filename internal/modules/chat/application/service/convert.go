package service

import (
	"errors"
	"time"

	chatRespond "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/respond"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// payload ws 事件里的自由结构数据
type payload map[string]interface{}

// UserKey / AgentKey 连接注册表里的参与者 key
func UserKey(userID string) string {
	return "user:" + userID
}

func AgentKey(agentID string) string {
	return "agent:" + agentID
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func newEvent(typ string, sessionID string, data interface{}) chatRespond.Event {
	return chatRespond.Event{
		Type:      typ,
		SessionId: sessionID,
		Data:      data,
		Timestamp: formatTime(time.Now()),
	}
}

// repoErr 把仓储错误收敛成业务错误：未找到 -> NotFound，其余记日志后统一 500
func repoErr(err error, notFoundMsg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return xerr.New(xerr.NotFound, notFoundMsg)
	}
	zlog.Error("chat repository failure", zap.Error(err))
	return xerr.ErrServerError
}

func toSessionItem(s *chatEntity.Session) chatRespond.SessionItem {
	item := chatRespond.SessionItem{
		SessionId:      s.Uuid,
		UserId:         s.UserId,
		UserName:       s.UserName,
		UserTier:       s.UserTier,
		AgentId:        s.AssignedAgent(),
		AgentName:      s.AdminName,
		Status:         s.Status,
		CreatedAt:      formatTime(s.CreatedAt),
		LastActivityAt: formatTime(s.LastActivityAt),
	}
	if s.AssignedAt.Valid {
		item.AssignedAt = formatTime(s.AssignedAt.Time)
	}
	if s.ClosedBy.Valid {
		item.ClosedBy = s.ClosedBy.String
	}
	if s.ClosedAt.Valid {
		item.ClosedAt = formatTime(s.ClosedAt.Time)
	}
	return item
}

func toMessageItem(m *chatEntity.Message) chatRespond.MessageItem {
	item := chatRespond.MessageItem{
		MessageId:  m.Uuid,
		SessionId:  m.SessionId,
		SenderType: m.SenderType,
		SenderId:   m.SenderId,
		SenderName: m.SenderName,
		Type:       m.Type,
		Content:    m.Content,
		Status:     m.Status,
		CreatedAt:  formatTime(m.CreatedAt),
	}
	if m.IsFile() {
		item.File = &chatRespond.FileItem{
			OriginalName: m.File.OriginalName,
			StoredName:   m.File.StoredName,
			ContentType:  m.File.ContentType,
			Size:         m.File.Size,
			Url:          m.File.Url,
		}
	}
	return item
}

func toAvailabilityItem(a *chatEntity.AgentAvailability, online bool) chatRespond.AvailabilityItem {
	return chatRespond.AvailabilityItem{
		AgentId:            a.AgentId,
		AgentName:          a.AgentName,
		IsAvailable:        a.IsAvailable,
		StatusMessage:      a.StatusMessage,
		MaxConcurrentChats: a.MaxConcurrentChats,
		CurrentChatCount:   a.CurrentChatCount,
		LastActivityAt:     formatTime(a.LastActivityAt),
		Online:             online,
	}
}
