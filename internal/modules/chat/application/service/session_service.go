package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/metrics"
	chatRequest "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/request"
	chatRespond "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/respond"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	chatEvent "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/event"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/policy"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/lock"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/util"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/ws"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultSessionPageSize = 20
	maxSessionPageSize     = 100
)

type SessionService interface {
	StartSession(ctx context.Context, user chatEntity.Principal, req chatRequest.StartSessionRequest) (*chatRespond.StartSessionRespond, error)
	AssignSession(ctx context.Context, sessionID string, agent chatEntity.Principal) (*chatRespond.SessionItem, error)
	CloseSession(ctx context.Context, sessionID string, caller chatEntity.Principal) error
	GetSession(ctx context.Context, sessionID string, caller chatEntity.Principal) (*chatRespond.SessionItem, error)
	ListSessions(ctx context.Context, caller chatEntity.Principal, req chatRequest.ListSessionsRequest) (*chatRespond.SessionListRespond, error)
}

type sessionServiceImpl struct {
	sessionRepo chatRepository.SessionRepository
	messageRepo chatRepository.MessageRepository
	avail       AvailabilityService
	notify      *notifier
	events      chatEvent.Publisher
	locker      lock.Locker
	policy      *policy.AccessPolicy
	cfg         config.ChatConfig
}

func NewSessionService(
	sessionRepo chatRepository.SessionRepository,
	messageRepo chatRepository.MessageRepository,
	availRepo chatRepository.AvailabilityRepository,
	avail AvailabilityService,
	hub *ws.Hub,
	events chatEvent.Publisher,
	locker lock.Locker,
	accessPolicy *policy.AccessPolicy,
	cfg config.ChatConfig,
) SessionService {
	return &sessionServiceImpl{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		avail:       avail,
		notify:      newNotifier(hub, availRepo),
		events:      events,
		locker:      locker,
		policy:      accessPolicy,
		cfg:         cfg,
	}
}

func (s *sessionServiceImpl) StartSession(ctx context.Context, user chatEntity.Principal, req chatRequest.StartSessionRequest) (*chatRespond.StartSessionRespond, error) {
	if user.UserID == "" {
		return nil, xerr.New(xerr.Unauthorized, "unauthenticated")
	}
	if !s.policy.CanStartChat(user) {
		return nil, xerr.ErrAccessDenied
	}
	initial := strings.TrimSpace(req.InitialMessage)
	if err := validateContent(initial, s.cfg.MaxMessageLength, true); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, "start_session:"+user.UserID)
	if err != nil {
		zlog.Error("acquire start session lock failed", zap.String("user_id", user.UserID), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	defer unlock()

	existing, err := s.sessionRepo.GetOpenByUserID(ctx, user.UserID)
	if err == nil {
		return s.resumed(ctx, existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repoErr(err, "")
	}

	if req.RequireAgent {
		wait, err := s.avail.EstimatedWait(ctx, 0)
		if err != nil {
			return nil, err
		}
		if wait < 0 {
			return nil, xerr.New(xerr.Unavailable, "no support agents are online right now")
		}
	}

	now := time.Now()
	sess := &chatEntity.Session{
		Uuid:           util.GenerateSessionID(),
		UserId:         user.UserID,
		UserName:       user.DisplayName(),
		UserTier:       user.Tier,
		Status:         chatEntity.SessionStatusWaiting,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		zlog.Error("create chat session failed", zap.String("user_id", user.UserID), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	metrics.RecordSessionTransition(chatEntity.SessionStatusWaiting)
	s.events.Publish(ctx, chatEvent.ChatEvent{
		Type:       chatEvent.TypeSessionCreated,
		SessionID:  sess.Uuid,
		ActorID:    user.UserID,
		OccurredAt: now,
	})

	var first *chatRespond.MessageItem
	if initial != "" {
		msg := &chatEntity.Message{
			Uuid:       util.GenerateMessageID(),
			SessionId:  sess.Uuid,
			SenderType: chatEntity.SenderTypeUser,
			SenderId:   user.UserID,
			SenderName: user.DisplayName(),
			Type:       chatEntity.MessageTypeText,
			Content:    initial,
			Status:     chatEntity.MessageStatusQueued,
			CreatedAt:  now,
		}
		if err := s.messageRepo.Create(ctx, msg); err != nil {
			// 会话已建好，首条消息失败不回滚会话，用户可重发
			zlog.Error("persist initial message failed", zap.String("session_id", sess.Uuid), zap.Error(err))
		} else {
			metrics.RecordMessage(msg.SenderType, msg.Type)
			s.events.Publish(ctx, chatEvent.ChatEvent{
				Type:       chatEvent.TypeMessageCreated,
				SessionID:  sess.Uuid,
				ActorID:    user.UserID,
				Payload:    map[string]string{"message_id": msg.Uuid, "sender_type": msg.SenderType},
				OccurredAt: now,
			})
			item := toMessageItem(msg)
			first = &item
		}
	}

	item := toSessionItem(sess)
	s.notify.toAvailableAgents(ctx, newEvent(chatRespond.EventNewSession, sess.Uuid, payload{"session": item, "initial_message": first}))

	waiting, err := s.sessionRepo.CountByStatus(ctx, chatEntity.SessionStatusWaiting)
	if err != nil {
		zlog.Warn("count waiting sessions failed", zap.Error(err))
		waiting = 1
	}
	wait, err := s.avail.EstimatedWait(ctx, waiting-1)
	if err != nil {
		wait = -1
	}

	zlog.Info("chat session started", zap.String("session_id", sess.Uuid), zap.String("user_id", user.UserID))
	return &chatRespond.StartSessionRespond{
		SessionId:            sess.Uuid,
		Status:               sess.Status,
		EstimatedWaitMinutes: wait,
		Resumed:              false,
		Session:              item,
	}, nil
}

func (s *sessionServiceImpl) resumed(ctx context.Context, sess *chatEntity.Session) (*chatRespond.StartSessionRespond, error) {
	wait := 0
	if sess.Status == chatEntity.SessionStatusWaiting {
		ahead, err := s.sessionRepo.CountByStatus(ctx, chatEntity.SessionStatusWaiting)
		if err != nil {
			zlog.Warn("count waiting sessions failed", zap.Error(err))
			ahead = 1
		}
		if wait, err = s.avail.EstimatedWait(ctx, ahead-1); err != nil {
			wait = -1
		}
	}
	return &chatRespond.StartSessionRespond{
		SessionId:            sess.Uuid,
		Status:               sess.Status,
		EstimatedWaitMinutes: wait,
		Resumed:              true,
		Session:              toSessionItem(sess),
	}, nil
}

func (s *sessionServiceImpl) AssignSession(ctx context.Context, sessionID string, agent chatEntity.Principal) (*chatRespond.SessionItem, error) {
	if !s.policy.IsAgentRole(agent) {
		return nil, xerr.ErrAgentOnly
	}
	sess, err := s.sessionRepo.GetByUUID(ctx, sessionID)
	if err != nil {
		return nil, repoErr(err, "session not found")
	}
	if sess.Status != chatEntity.SessionStatusWaiting {
		return nil, xerr.New(xerr.InvalidState, "session is not waiting for an agent")
	}

	reserved, err := s.avail.IncrementLoad(ctx, agent.UserID, agent.DisplayName())
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, xerr.New(xerr.InvalidState, "agent is already at max concurrent chats")
	}

	now := time.Now()
	assigned, err := s.sessionRepo.Assign(ctx, sessionID, agent.UserID, agent.DisplayName(), now)
	if err != nil || !assigned {
		if derr := s.avail.DecrementLoad(ctx, agent.UserID); derr != nil {
			zlog.Warn("release reserved agent slot failed", zap.String("agent_id", agent.UserID), zap.Error(derr))
		}
		if err != nil {
			zlog.Error("assign chat session failed", zap.String("session_id", sessionID), zap.Error(err))
			return nil, xerr.ErrServerError
		}
		return nil, xerr.New(xerr.InvalidState, "session was already claimed or closed")
	}

	sess.Status = chatEntity.SessionStatusActive
	sess.AdminId = sql.NullString{String: agent.UserID, Valid: true}
	sess.AdminName = agent.DisplayName()
	sess.AssignedAt = sql.NullTime{Time: now, Valid: true}
	if now.After(sess.LastActivityAt) {
		sess.LastActivityAt = now
	}
	item := toSessionItem(sess)

	metrics.RecordSessionTransition(chatEntity.SessionStatusActive)
	s.events.Publish(ctx, chatEvent.ChatEvent{
		Type:       chatEvent.TypeSessionAssigned,
		SessionID:  sessionID,
		ActorID:    agent.UserID,
		OccurredAt: now,
	})
	s.notify.toUser(sess.UserId, newEvent(chatRespond.EventAgentJoined, sessionID, payload{
		"agent_id":   agent.UserID,
		"agent_name": agent.DisplayName(),
		"session":    item,
	}))

	zlog.Info("chat session assigned", zap.String("session_id", sessionID), zap.String("agent_id", agent.UserID))
	return &item, nil
}

func (s *sessionServiceImpl) CloseSession(ctx context.Context, sessionID string, caller chatEntity.Principal) error {
	sess, err := s.sessionRepo.GetByUUID(ctx, sessionID)
	if err != nil {
		return repoErr(err, "session not found")
	}
	isAgent := s.policy.IsAgentRole(caller)
	if sess.UserId != caller.UserID && !isAgent {
		return xerr.New(xerr.Forbidden, "not a participant of this session")
	}
	if sess.Status == chatEntity.SessionStatusClosed {
		return xerr.New(xerr.InvalidState, "session is already closed")
	}

	now := time.Now()
	closed, err := s.sessionRepo.Close(ctx, sessionID, caller.UserID, now)
	if err != nil {
		zlog.Error("close chat session failed", zap.String("session_id", sessionID), zap.Error(err))
		return xerr.ErrServerError
	}
	if !closed {
		return xerr.New(xerr.InvalidState, "session is already closed")
	}

	// 读到的是关闭前的快照；若期间被接入，重新读一次拿到客服
	if sess.Status == chatEntity.SessionStatusWaiting {
		if fresh, ferr := s.sessionRepo.GetByUUID(ctx, sessionID); ferr == nil {
			sess = fresh
		}
	}
	wasActive := sess.AssignedAgent() != ""
	agentID := sess.AssignedAgent()

	metrics.RecordSessionTransition(chatEntity.SessionStatusClosed)
	s.events.Publish(ctx, chatEvent.ChatEvent{
		Type:       chatEvent.TypeSessionClosed,
		SessionID:  sessionID,
		ActorID:    caller.UserID,
		OccurredAt: now,
	})

	if wasActive {
		if err := s.avail.DecrementLoad(ctx, agentID); err != nil {
			zlog.Warn("release agent slot on close failed", zap.String("agent_id", agentID), zap.Error(err))
		}
		ev := newEvent(chatRespond.EventSessionClosed, sessionID, payload{"closed_by": caller.UserID})
		if caller.UserID != sess.UserId {
			s.notify.toUser(sess.UserId, ev)
		}
		if caller.UserID != agentID {
			s.notify.toAgent(agentID, ev)
		}
	}

	zlog.Info("chat session closed", zap.String("session_id", sessionID), zap.String("closed_by", caller.UserID))
	return nil
}

func (s *sessionServiceImpl) GetSession(ctx context.Context, sessionID string, caller chatEntity.Principal) (*chatRespond.SessionItem, error) {
	sess, err := s.sessionRepo.GetByUUID(ctx, sessionID)
	if err != nil {
		return nil, repoErr(err, "session not found")
	}
	if sess.UserId != caller.UserID && !s.policy.IsAgentRole(caller) {
		return nil, xerr.New(xerr.Forbidden, "not a participant of this session")
	}
	item := toSessionItem(sess)
	return &item, nil
}

func (s *sessionServiceImpl) ListSessions(ctx context.Context, caller chatEntity.Principal, req chatRequest.ListSessionsRequest) (*chatRespond.SessionListRespond, error) {
	status := strings.ToLower(strings.TrimSpace(req.Status))
	switch status {
	case "", chatEntity.SessionStatusWaiting, chatEntity.SessionStatusActive, chatEntity.SessionStatusClosed:
	default:
		return nil, xerr.New(xerr.BadRequest, "unknown status filter")
	}
	page, pageSize := util.ClampPage(req.Page, req.PageSize, defaultSessionPageSize, maxSessionPageSize)

	isAgent := s.policy.IsAgentRole(caller)
	filter := chatRepository.SessionFilter{Status: status, Page: page, PageSize: pageSize}
	if !isAgent {
		filter.UserID = caller.UserID
	}

	sessions, total, err := s.sessionRepo.List(ctx, filter)
	if err != nil {
		zlog.Error("list chat sessions failed", zap.Error(err))
		return nil, xerr.ErrServerError
	}

	ids := make([]string, 0, len(sessions))
	for i := range sessions {
		ids = append(ids, sessions[i].Uuid)
	}
	// 用户看客服发来的未读，客服看用户发来的未读
	from := chatEntity.SenderTypeAgent
	if isAgent {
		from = chatEntity.SenderTypeUser
	}
	unread, err := s.messageRepo.CountUnreadFrom(ctx, ids, from)
	if err != nil {
		zlog.Warn("count unread messages failed", zap.Error(err))
		unread = map[string]int64{}
	}

	items := make([]chatRespond.SessionItem, 0, len(sessions))
	for i := range sessions {
		item := toSessionItem(&sessions[i])
		item.UnreadCount = unread[sessions[i].Uuid]
		items = append(items, item)
	}
	return &chatRespond.SessionListRespond{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// validateContent allowEmpty 用于可选的首条消息
func validateContent(content string, maxLen int, allowEmpty bool) error {
	if content == "" {
		if allowEmpty {
			return nil
		}
		return xerr.New(xerr.ValidationError, "message content is empty")
	}
	if maxLen > 0 && len([]rune(content)) > maxLen {
		return xerr.New(xerr.ValidationError, "message content is too long")
	}
	return nil
}
