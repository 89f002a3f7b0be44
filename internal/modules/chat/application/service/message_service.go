package service

import (
	"context"

	chatRequest "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/request"
	chatRespond "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/respond"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/policy"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/util"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"go.uber.org/zap"
)

const (
	defaultMessagePageSize = 100
	maxMessagePageSize     = 500
)

type MessageService interface {
	// GetMessageList 拉历史即视为已读：对方发来的消息标记为 read
	GetMessageList(ctx context.Context, sessionID string, caller chatEntity.Principal, req chatRequest.GetMessageListRequest) (*chatRespond.MessageListRespond, error)
}

type messageServiceImpl struct {
	sessionRepo chatRepository.SessionRepository
	messageRepo chatRepository.MessageRepository
	policy      *policy.AccessPolicy
}

func NewMessageService(sessionRepo chatRepository.SessionRepository, messageRepo chatRepository.MessageRepository, accessPolicy *policy.AccessPolicy) MessageService {
	return &messageServiceImpl{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		policy:      accessPolicy,
	}
}

func (s *messageServiceImpl) GetMessageList(ctx context.Context, sessionID string, caller chatEntity.Principal, req chatRequest.GetMessageListRequest) (*chatRespond.MessageListRespond, error) {
	sess, err := s.sessionRepo.GetByUUID(ctx, sessionID)
	if err != nil {
		return nil, repoErr(err, "session not found")
	}

	var readFrom string
	switch {
	case caller.UserID != "" && sess.UserId == caller.UserID:
		readFrom = chatEntity.SenderTypeAgent
	case s.policy.IsAgentRole(caller):
		// 只有接待客服读取才算用户消息已读
		if sess.AssignedAgent() == caller.UserID {
			readFrom = chatEntity.SenderTypeUser
		}
	default:
		return nil, xerr.New(xerr.Forbidden, "not a participant of this session")
	}

	if readFrom != "" {
		if _, err := s.messageRepo.MarkReadFrom(ctx, sessionID, readFrom); err != nil {
			zlog.Warn("mark messages read failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	page, pageSize := util.ClampPage(req.Page, req.PageSize, defaultMessagePageSize, maxMessagePageSize)
	msgs, total, err := s.messageRepo.ListBySession(ctx, sessionID, page, pageSize)
	if err != nil {
		zlog.Error("list chat messages failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, xerr.ErrServerError
	}

	items := make([]chatRespond.MessageItem, 0, len(msgs))
	for i := range msgs {
		items = append(items, toMessageItem(&msgs[i]))
	}
	return &chatRespond.MessageListRespond{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}
