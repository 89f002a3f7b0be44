package persistence

import (
	"context"
	"errors"
	"time"

	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type availabilityRepositoryImpl struct {
	db *gorm.DB
}

func NewAvailabilityRepository(db *gorm.DB) chatRepository.AvailabilityRepository {
	return &availabilityRepositoryImpl{db: db}
}

// Upsert never touches current_chat_count; that column belongs to Increment/DecrementLoad.
func (r *availabilityRepositoryImpl) Upsert(ctx context.Context, rec *chatEntity.AgentAvailability) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "agent_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"agent_name",
			"is_available",
			"status_message",
			"max_concurrent_chats",
			"last_activity_at",
			"updated_at",
		}),
	}).Create(rec).Error
}

func (r *availabilityRepositoryImpl) Get(ctx context.Context, agentID string) (*chatEntity.AgentAvailability, error) {
	var rec chatEntity.AgentAvailability
	if err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *availabilityRepositoryImpl) ListAvailable(ctx context.Context) ([]chatEntity.AgentAvailability, error) {
	var recs []chatEntity.AgentAvailability
	err := r.db.WithContext(ctx).
		Where("is_available = ?", true).
		Order("current_chat_count ASC").
		Order("agent_id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *availabilityRepositoryImpl) IncrementLoad(ctx context.Context, agentID string, agentName string, defaultMax int, at time.Time) (bool, error) {
	ok, err := r.incrementIfRoom(ctx, agentID, at)
	if err != nil || ok {
		return ok, err
	}

	var n int64
	if err := r.db.WithContext(ctx).Model(&chatEntity.AgentAvailability{}).Where("agent_id = ?", agentID).Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if defaultMax <= 0 {
		return false, nil
	}

	rec := &chatEntity.AgentAvailability{
		AgentId:            agentID,
		AgentName:          agentName,
		IsAvailable:        false,
		MaxConcurrentChats: defaultMax,
		CurrentChatCount:   1,
		LastActivityAt:     at,
		UpdatedAt:          at,
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	// 并发建档，落到已存在的记录上再试一次
	return r.incrementIfRoom(ctx, agentID, at)
}

func (r *availabilityRepositoryImpl) incrementIfRoom(ctx context.Context, agentID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&chatEntity.AgentAvailability{}).
		Where("agent_id = ? AND current_chat_count < max_concurrent_chats", agentID).
		Updates(map[string]interface{}{
			"current_chat_count": gorm.Expr("current_chat_count + 1"),
			"last_activity_at":   at,
			"updated_at":         at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *availabilityRepositoryImpl) DecrementLoad(ctx context.Context, agentID string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&chatEntity.AgentAvailability{}).
		Where("agent_id = ? AND current_chat_count > 0", agentID).
		Updates(map[string]interface{}{
			"current_chat_count": gorm.Expr("current_chat_count - 1"),
			"last_activity_at":   at,
			"updated_at":         at,
		}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
