package policy

import (
	"strings"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
)

// AccessPolicy decides who may open chats and who holds the agent capability.
// It is read-only after construction and safe for concurrent use.
type AccessPolicy struct {
	premium    map[string]struct{}
	trial      map[string]struct{}
	agentRoles map[string]struct{}
}

func NewAccessPolicy(cfg config.ChatConfig) *AccessPolicy {
	return &AccessPolicy{
		premium:    toSet(cfg.PremiumTiers),
		trial:      toSet(cfg.TrialTiers),
		agentRoles: toSet(cfg.AgentRoles),
	}
}

// CanUseChat reports whether a customer's plan includes live chat.
func (p *AccessPolicy) CanUseChat(pr entity.Principal) bool {
	if pr.Trial {
		return false
	}
	tier := normalize(pr.Tier)
	if tier == "" {
		return false
	}
	if _, ok := p.trial[tier]; ok {
		return false
	}
	_, ok := p.premium[tier]
	return ok
}

// IsAgentRole is the one capability check used by every agent-only operation.
func (p *AccessPolicy) IsAgentRole(pr entity.Principal) bool {
	_, ok := p.agentRoles[normalize(pr.Role)]
	return ok
}

// CanStartChat agents bypass the tier gate.
func (p *AccessPolicy) CanStartChat(pr entity.Principal) bool {
	return p.IsAgentRole(pr) || p.CanUseChat(pr)
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if n := normalize(v); n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
