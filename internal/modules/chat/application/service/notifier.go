package service

import (
	"context"

	chatRespond "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/respond"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/metrics"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/ws"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"go.uber.org/zap"
)

// notifier 尽力推送：失败只记为未送达，从不向调用方返回错误
type notifier struct {
	hub       *ws.Hub
	availRepo chatRepository.AvailabilityRepository
}

func newNotifier(hub *ws.Hub, availRepo chatRepository.AvailabilityRepository) *notifier {
	return &notifier{hub: hub, availRepo: availRepo}
}

func (n *notifier) send(key string, ev chatRespond.Event) bool {
	if n.hub == nil || key == "" {
		return false
	}
	ok, err := n.hub.SendJSON(key, ev)
	if err != nil {
		zlog.Warn("marshal ws event failed", zap.String("type", ev.Type), zap.Error(err))
		return false
	}
	return ok
}

func (n *notifier) toUser(userID string, ev chatRespond.Event) bool {
	return n.send(UserKey(userID), ev)
}

func (n *notifier) toAgent(agentID string, ev chatRespond.Event) bool {
	return n.send(AgentKey(agentID), ev)
}

// toAvailableAgents 广播给所有标记为接单的在线客服，返回送达数
func (n *notifier) toAvailableAgents(ctx context.Context, ev chatRespond.Event) int {
	if n.hub == nil {
		return 0
	}
	agents, err := n.availRepo.ListAvailable(ctx)
	if err != nil {
		zlog.Warn("list available agents for broadcast failed", zap.Error(err))
		return 0
	}
	if len(agents) == 0 {
		return 0
	}
	keys := make(map[string]struct{}, len(agents))
	for i := range agents {
		keys[AgentKey(agents[i].AgentId)] = struct{}{}
	}
	delivered, err := n.hub.BroadcastJSON(ev, func(key string) bool {
		_, ok := keys[key]
		return ok
	})
	if err != nil {
		zlog.Warn("marshal ws event failed", zap.String("type", ev.Type), zap.Error(err))
		return 0
	}
	metrics.RecordDelivery(delivered > 0)
	return delivered
}
