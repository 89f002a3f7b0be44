package service

import (
	"context"
	"strings"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/metrics"
	chatRespond "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/respond"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	chatEvent "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/event"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/policy"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/util"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/ws"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"go.uber.org/zap"
)

type RealtimeService interface {
	SendUserMessage(ctx context.Context, sessionID string, user chatEntity.Principal, content string) (*chatRespond.MessageItem, error)
	SendAgentMessage(ctx context.Context, sessionID string, agent chatEntity.Principal, content string) (*chatRespond.MessageItem, error)
	// SendMessage 按调用方与会话的关系决定以用户还是客服身份发送
	SendMessage(ctx context.Context, sessionID string, caller chatEntity.Principal, content string) (*chatRespond.MessageItem, error)
	SendTyping(ctx context.Context, sessionID string, caller chatEntity.Principal, senderType string, isTyping bool) error
	// CheckCanPost 只做校验不落库，返回调用方的发送方类型
	CheckCanPost(ctx context.Context, sessionID string, caller chatEntity.Principal) (string, error)
	PostFile(ctx context.Context, sessionID string, caller chatEntity.Principal, senderType string, file chatEntity.FileDescriptor, caption string) (*chatRespond.MessageItem, error)
}

type realtimeServiceImpl struct {
	sessionRepo chatRepository.SessionRepository
	messageRepo chatRepository.MessageRepository
	sessions    SessionService
	notify      *notifier
	events      chatEvent.Publisher
	policy      *policy.AccessPolicy
	cfg         config.ChatConfig
}

func NewRealtimeService(
	sessionRepo chatRepository.SessionRepository,
	messageRepo chatRepository.MessageRepository,
	availRepo chatRepository.AvailabilityRepository,
	sessions SessionService,
	hub *ws.Hub,
	events chatEvent.Publisher,
	accessPolicy *policy.AccessPolicy,
	cfg config.ChatConfig,
) RealtimeService {
	return &realtimeServiceImpl{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		sessions:    sessions,
		notify:      newNotifier(hub, availRepo),
		events:      events,
		policy:      accessPolicy,
		cfg:         cfg,
	}
}

func (s *realtimeServiceImpl) SendUserMessage(ctx context.Context, sessionID string, user chatEntity.Principal, content string) (*chatRespond.MessageItem, error) {
	return s.postText(ctx, sessionID, user, chatEntity.SenderTypeUser, content)
}

func (s *realtimeServiceImpl) SendAgentMessage(ctx context.Context, sessionID string, agent chatEntity.Principal, content string) (*chatRespond.MessageItem, error) {
	return s.postText(ctx, sessionID, agent, chatEntity.SenderTypeAgent, content)
}

func (s *realtimeServiceImpl) SendMessage(ctx context.Context, sessionID string, caller chatEntity.Principal, content string) (*chatRespond.MessageItem, error) {
	senderType, err := s.CheckCanPost(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	return s.postText(ctx, sessionID, caller, senderType, content)
}

func (s *realtimeServiceImpl) CheckCanPost(ctx context.Context, sessionID string, caller chatEntity.Principal) (string, error) {
	sess, err := s.sessionRepo.GetByUUID(ctx, sessionID)
	if err != nil {
		return "", repoErr(err, "session not found")
	}
	senderType, err := s.senderTypeFor(sess, caller)
	if err != nil {
		return "", err
	}
	if err := s.checkPostAllowed(sess, caller, senderType); err != nil {
		return "", err
	}
	return senderType, nil
}

func (s *realtimeServiceImpl) PostFile(ctx context.Context, sessionID string, caller chatEntity.Principal, senderType string, file chatEntity.FileDescriptor, caption string) (*chatRespond.MessageItem, error) {
	caption = strings.TrimSpace(caption)
	if err := validateContent(caption, s.cfg.MaxMessageLength, true); err != nil {
		return nil, err
	}
	if caption == "" {
		caption = file.OriginalName
	}
	return s.post(ctx, sessionID, caller, senderType, func(sess *chatEntity.Session) *chatEntity.Message {
		msg := s.newMessage(sess, caller, senderType, caption)
		msg.Type = chatEntity.MessageTypeFile
		msg.File = file
		return msg
	})
}

func (s *realtimeServiceImpl) SendTyping(ctx context.Context, sessionID string, caller chatEntity.Principal, senderType string, isTyping bool) error {
	sess, err := s.sessionRepo.GetByUUID(ctx, sessionID)
	if err != nil {
		return repoErr(err, "session not found")
	}
	if err := s.checkPostAllowed(sess, caller, senderType); err != nil {
		return err
	}

	ev := newEvent(chatRespond.EventTyping, sessionID, payload{
		"sender_type": senderType,
		"sender_id":   caller.UserID,
		"sender_name": caller.DisplayName(),
		"is_typing":   isTyping,
	})
	if senderType == chatEntity.SenderTypeAgent {
		s.notify.toUser(sess.UserId, ev)
		return nil
	}
	if agentID := sess.AssignedAgent(); agentID != "" {
		s.notify.toAgent(agentID, ev)
	}
	return nil
}

func (s *realtimeServiceImpl) postText(ctx context.Context, sessionID string, caller chatEntity.Principal, senderType string, content string) (*chatRespond.MessageItem, error) {
	content = strings.TrimSpace(content)
	if err := validateContent(content, s.cfg.MaxMessageLength, false); err != nil {
		return nil, err
	}
	return s.post(ctx, sessionID, caller, senderType, func(sess *chatEntity.Session) *chatEntity.Message {
		return s.newMessage(sess, caller, senderType, content)
	})
}

// post 先落库再尽力推送；推送结果只影响 Delivery 字段，不影响成功与否
func (s *realtimeServiceImpl) post(ctx context.Context, sessionID string, caller chatEntity.Principal, senderType string, build func(*chatEntity.Session) *chatEntity.Message) (*chatRespond.MessageItem, error) {
	sess, err := s.sessionRepo.GetByUUID(ctx, sessionID)
	if err != nil {
		return nil, repoErr(err, "session not found")
	}
	if err := s.checkPostAllowed(sess, caller, senderType); err != nil {
		return nil, err
	}

	if senderType == chatEntity.SenderTypeAgent && sess.Status == chatEntity.SessionStatusWaiting {
		if sess, err = s.claim(ctx, sess, caller); err != nil {
			return nil, err
		}
	}

	msg := build(sess)
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		zlog.Error("persist chat message failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	if err := s.sessionRepo.Touch(ctx, sessionID, msg.CreatedAt); err != nil {
		zlog.Warn("touch chat session failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	metrics.RecordMessage(msg.SenderType, msg.Type)
	s.events.Publish(ctx, chatEvent.ChatEvent{
		Type:       chatEvent.TypeMessageCreated,
		SessionID:  sessionID,
		ActorID:    caller.UserID,
		Payload:    map[string]string{"message_id": msg.Uuid, "sender_type": msg.SenderType, "type": msg.Type},
		OccurredAt: msg.CreatedAt,
	})

	item := toMessageItem(msg)
	item.Delivery = s.deliver(ctx, sess, msg, item)
	if item.Delivery == chatRespond.DeliveryDelivered {
		item.Status = chatEntity.MessageStatusDelivered
	}
	return &item, nil
}

// claim 客服首次回复 waiting 会话即接入，与显式接入走同一条路径
func (s *realtimeServiceImpl) claim(ctx context.Context, sess *chatEntity.Session, agent chatEntity.Principal) (*chatEntity.Session, error) {
	_, assignErr := s.sessions.AssignSession(ctx, sess.Uuid, agent)
	fresh, err := s.sessionRepo.GetByUUID(ctx, sess.Uuid)
	if err != nil {
		return nil, repoErr(err, "session not found")
	}
	if assignErr != nil {
		// 被别人抢先接入或会话已关闭时给出准确的错误
		if fresh.Status == chatEntity.SessionStatusWaiting {
			return nil, assignErr
		}
		if err := s.checkPostAllowed(fresh, agent, chatEntity.SenderTypeAgent); err != nil {
			return nil, err
		}
	}
	return fresh, nil
}

func (s *realtimeServiceImpl) deliver(ctx context.Context, sess *chatEntity.Session, msg *chatEntity.Message, item chatRespond.MessageItem) string {
	ev := newEvent(chatRespond.EventNewMessage, sess.Uuid, item)

	if msg.SenderType == chatEntity.SenderTypeUser && sess.Status == chatEntity.SessionStatusWaiting {
		if s.notify.toAvailableAgents(ctx, ev) > 0 {
			return chatRespond.DeliveryBroadcast
		}
		return chatRespond.DeliveryQueued
	}

	var delivered bool
	if msg.SenderType == chatEntity.SenderTypeUser {
		delivered = s.notify.toAgent(sess.AssignedAgent(), ev)
	} else {
		delivered = s.notify.toUser(sess.UserId, ev)
	}
	metrics.RecordDelivery(delivered)
	if !delivered {
		return chatRespond.DeliveryQueued
	}
	if err := s.messageRepo.MarkDelivered(ctx, msg.Uuid); err != nil {
		zlog.Warn("mark message delivered failed", zap.String("message_id", msg.Uuid), zap.Error(err))
	}
	return chatRespond.DeliveryDelivered
}

func (s *realtimeServiceImpl) senderTypeFor(sess *chatEntity.Session, caller chatEntity.Principal) (string, error) {
	if caller.UserID != "" && sess.UserId == caller.UserID {
		return chatEntity.SenderTypeUser, nil
	}
	if s.policy.IsAgentRole(caller) {
		return chatEntity.SenderTypeAgent, nil
	}
	return "", xerr.New(xerr.Forbidden, "not a participant of this session")
}

func (s *realtimeServiceImpl) checkPostAllowed(sess *chatEntity.Session, caller chatEntity.Principal, senderType string) error {
	switch senderType {
	case chatEntity.SenderTypeUser:
		if caller.UserID == "" || sess.UserId != caller.UserID {
			return xerr.New(xerr.Forbidden, "not a participant of this session")
		}
	case chatEntity.SenderTypeAgent:
		if !s.policy.IsAgentRole(caller) {
			return xerr.ErrAgentOnly
		}
	default:
		return xerr.ErrParam
	}

	if sess.Status == chatEntity.SessionStatusClosed {
		return xerr.New(xerr.InvalidState, "session is closed")
	}
	if senderType == chatEntity.SenderTypeAgent && sess.Status == chatEntity.SessionStatusActive && sess.AssignedAgent() != caller.UserID {
		return xerr.New(xerr.Forbidden, "session is handled by another agent")
	}
	return nil
}

func (s *realtimeServiceImpl) newMessage(sess *chatEntity.Session, sender chatEntity.Principal, senderType string, content string) *chatEntity.Message {
	return &chatEntity.Message{
		Uuid:       util.GenerateMessageID(),
		SessionId:  sess.Uuid,
		SenderType: senderType,
		SenderId:   sender.UserID,
		SenderName: sender.DisplayName(),
		Type:       chatEntity.MessageTypeText,
		Content:    content,
		Status:     chatEntity.MessageStatusQueued,
		CreatedAt:  time.Now(),
	}
}
