package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	chatRequest "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/request"
	chatRespond "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/respond"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/policy"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/redis"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/ws"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxConcurrentChatsLimit = 50
	maxStatusMessageLength  = 255
	publicStatusCacheKey    = "chat:public_status"
)

type AvailabilityService interface {
	SetAvailability(ctx context.Context, agent chatEntity.Principal, req chatRequest.SetAvailabilityRequest) (*chatRespond.AvailabilityItem, error)
	GetAvailableAgents(ctx context.Context, caller chatEntity.Principal) ([]chatRespond.AvailabilityItem, error)
	GetSnapshot(ctx context.Context, agent chatEntity.Principal) (*chatRespond.AvailabilityItem, error)
	// IncrementLoad 占用一个并发名额；false 表示已满
	IncrementLoad(ctx context.Context, agentID string, agentName string) (bool, error)
	DecrementLoad(ctx context.Context, agentID string) error
	PublicStatus(ctx context.Context) (*chatRespond.PublicStatus, error)
	// EstimatedWait waitingAhead 为排在前面的 waiting 会话数；无客服时返回 -1
	EstimatedWait(ctx context.Context, waitingAhead int64) (int, error)
}

type availabilityServiceImpl struct {
	availRepo   chatRepository.AvailabilityRepository
	sessionRepo chatRepository.SessionRepository
	hub         *ws.Hub
	policy      *policy.AccessPolicy
	cfg         config.ChatConfig
}

func NewAvailabilityService(
	availRepo chatRepository.AvailabilityRepository,
	sessionRepo chatRepository.SessionRepository,
	hub *ws.Hub,
	accessPolicy *policy.AccessPolicy,
	cfg config.ChatConfig,
) AvailabilityService {
	return &availabilityServiceImpl{
		availRepo:   availRepo,
		sessionRepo: sessionRepo,
		hub:         hub,
		policy:      accessPolicy,
		cfg:         cfg,
	}
}

func (s *availabilityServiceImpl) SetAvailability(ctx context.Context, agent chatEntity.Principal, req chatRequest.SetAvailabilityRequest) (*chatRespond.AvailabilityItem, error) {
	if !s.policy.IsAgentRole(agent) {
		return nil, xerr.ErrAgentOnly
	}
	maxChats := req.MaxConcurrentChats
	if maxChats == 0 {
		maxChats = s.cfg.DefaultMaxConcurrentChats
	}
	if maxChats < 1 || maxChats > maxConcurrentChatsLimit {
		return nil, xerr.New(xerr.ValidationError, "max_concurrent_chats must be between 1 and 50")
	}
	statusMessage := strings.TrimSpace(req.StatusMessage)
	if len([]rune(statusMessage)) > maxStatusMessageLength {
		return nil, xerr.New(xerr.ValidationError, "status_message is too long")
	}

	now := time.Now()
	rec := &chatEntity.AgentAvailability{
		AgentId:            agent.UserID,
		AgentName:          agent.DisplayName(),
		IsAvailable:        req.IsAvailable,
		StatusMessage:      statusMessage,
		MaxConcurrentChats: maxChats,
		LastActivityAt:     now,
		UpdatedAt:          now,
	}
	if err := s.availRepo.Upsert(ctx, rec); err != nil {
		zlog.Error("upsert agent availability failed", zap.String("agent_id", agent.UserID), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	s.invalidatePublicStatus(ctx)

	saved, err := s.availRepo.Get(ctx, agent.UserID)
	if err != nil {
		return nil, repoErr(err, "availability record not found")
	}
	item := toAvailabilityItem(saved, s.online(agent.UserID))
	return &item, nil
}

func (s *availabilityServiceImpl) GetAvailableAgents(ctx context.Context, caller chatEntity.Principal) ([]chatRespond.AvailabilityItem, error) {
	if !s.policy.IsAgentRole(caller) {
		return nil, xerr.ErrAgentOnly
	}
	recs, err := s.availRepo.ListAvailable(ctx)
	if err != nil {
		zlog.Error("list available agents failed", zap.Error(err))
		return nil, xerr.ErrServerError
	}
	out := make([]chatRespond.AvailabilityItem, 0, len(recs))
	for i := range recs {
		out = append(out, toAvailabilityItem(&recs[i], s.online(recs[i].AgentId)))
	}
	return out, nil
}

func (s *availabilityServiceImpl) GetSnapshot(ctx context.Context, agent chatEntity.Principal) (*chatRespond.AvailabilityItem, error) {
	if !s.policy.IsAgentRole(agent) {
		return nil, xerr.ErrAgentOnly
	}
	rec, err := s.availRepo.Get(ctx, agent.UserID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repoErr(err, "")
		}
		// 从未设置过状态：视为不接单
		rec = &chatEntity.AgentAvailability{
			AgentId:            agent.UserID,
			AgentName:          agent.DisplayName(),
			MaxConcurrentChats: s.cfg.DefaultMaxConcurrentChats,
		}
	}
	item := toAvailabilityItem(rec, s.online(agent.UserID))
	return &item, nil
}

func (s *availabilityServiceImpl) IncrementLoad(ctx context.Context, agentID string, agentName string) (bool, error) {
	ok, err := s.availRepo.IncrementLoad(ctx, agentID, agentName, s.cfg.DefaultMaxConcurrentChats, time.Now())
	if err != nil {
		zlog.Error("increment agent load failed", zap.String("agent_id", agentID), zap.Error(err))
		return false, xerr.ErrServerError
	}
	return ok, nil
}

func (s *availabilityServiceImpl) DecrementLoad(ctx context.Context, agentID string) error {
	if err := s.availRepo.DecrementLoad(ctx, agentID, time.Now()); err != nil {
		zlog.Error("decrement agent load failed", zap.String("agent_id", agentID), zap.Error(err))
		return xerr.ErrServerError
	}
	return nil
}

func (s *availabilityServiceImpl) PublicStatus(ctx context.Context) (*chatRespond.PublicStatus, error) {
	if cached, ok := s.cachedPublicStatus(ctx); ok {
		return cached, nil
	}

	agents, err := s.countAcceptingAgents(ctx)
	if err != nil {
		return nil, err
	}
	waiting, err := s.sessionRepo.CountByStatus(ctx, chatEntity.SessionStatusWaiting)
	if err != nil {
		zlog.Error("count waiting sessions failed", zap.Error(err))
		return nil, xerr.ErrServerError
	}

	st := &chatRespond.PublicStatus{
		AgentsOnline:         agents,
		ChatAvailable:        agents > 0,
		EstimatedWaitMinutes: estimateWait(waiting, agents, s.cfg.AvgHandleMinutes),
	}
	s.storePublicStatus(ctx, st)
	return st, nil
}

func (s *availabilityServiceImpl) EstimatedWait(ctx context.Context, waitingAhead int64) (int, error) {
	agents, err := s.countAcceptingAgents(ctx)
	if err != nil {
		return 0, err
	}
	return estimateWait(waitingAhead, agents, s.cfg.AvgHandleMinutes), nil
}

func (s *availabilityServiceImpl) countAcceptingAgents(ctx context.Context) (int, error) {
	recs, err := s.availRepo.ListAvailable(ctx)
	if err != nil {
		zlog.Error("list available agents failed", zap.Error(err))
		return 0, xerr.ErrServerError
	}
	return len(recs), nil
}

// estimateWait ceil((ahead+1)/agents) 轮，每轮 avg 分钟
func estimateWait(waitingAhead int64, agents int, avgMinutes int) int {
	if agents <= 0 {
		return -1
	}
	if waitingAhead < 0 {
		waitingAhead = 0
	}
	rounds := (waitingAhead + int64(agents)) / int64(agents)
	return int(rounds) * avgMinutes
}

func (s *availabilityServiceImpl) online(agentID string) bool {
	return s.hub != nil && s.hub.Online(AgentKey(agentID))
}

func (s *availabilityServiceImpl) cachedPublicStatus(ctx context.Context) (*chatRespond.PublicStatus, bool) {
	if !redis.IsConnected() || s.cfg.StatusCacheSeconds <= 0 {
		return nil, false
	}
	raw, err := redis.Get(ctx, publicStatusCacheKey)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zlog.Warn("read public status cache failed", zap.Error(err))
		}
		return nil, false
	}
	var st chatRespond.PublicStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, false
	}
	return &st, true
}

func (s *availabilityServiceImpl) storePublicStatus(ctx context.Context, st *chatRespond.PublicStatus) {
	if !redis.IsConnected() || s.cfg.StatusCacheSeconds <= 0 {
		return
	}
	b, err := json.Marshal(st)
	if err != nil {
		return
	}
	ttl := time.Duration(s.cfg.StatusCacheSeconds) * time.Second
	if err := redis.Set(ctx, publicStatusCacheKey, string(b), ttl); err != nil {
		zlog.Warn("write public status cache failed", zap.Error(err))
	}
}

func (s *availabilityServiceImpl) invalidatePublicStatus(ctx context.Context) {
	if !redis.IsConnected() {
		return
	}
	if _, err := redis.Del(ctx, publicStatusCacheKey); err != nil {
		zlog.Warn("invalidate public status cache failed", zap.Error(err))
	}
}
