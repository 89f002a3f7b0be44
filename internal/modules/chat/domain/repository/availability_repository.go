package repository

import (
	"context"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
)

type AvailabilityRepository interface {
	Upsert(ctx context.Context, rec *entity.AgentAvailability) error
	Get(ctx context.Context, agentID string) (*entity.AgentAvailability, error)
	ListAvailable(ctx context.Context) ([]entity.AgentAvailability, error)
	// IncrementLoad 仅在未满载时 +1；记录不存在时按 defaultMax 建档。false 表示已满
	IncrementLoad(ctx context.Context, agentID string, agentName string, defaultMax int, at time.Time) (bool, error)
	// DecrementLoad 不会减到 0 以下
	DecrementLoad(ctx context.Context, agentID string, at time.Time) error
}
