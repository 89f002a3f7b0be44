package entity

import "time"

// AgentAvailability 客服在线状态，每个客服一行，upsert 维护
type AgentAvailability struct {
	AgentId            string    `gorm:"column:agent_id;primaryKey;type:varchar(64);comment:客服id"`
	AgentName          string    `gorm:"column:agent_name;type:varchar(128);comment:客服昵称"`
	IsAvailable        bool      `gorm:"column:is_available;index;not null;default:false;comment:是否接单"`
	StatusMessage      string    `gorm:"column:status_message;type:varchar(255);comment:状态说明"`
	MaxConcurrentChats int       `gorm:"column:max_concurrent_chats;not null;default:5;comment:最大并发会话数"`
	CurrentChatCount   int       `gorm:"column:current_chat_count;not null;default:0;comment:当前会话数"`
	LastActivityAt     time.Time `gorm:"column:last_activity_at;not null;comment:最后活跃时间"`
	UpdatedAt          time.Time `gorm:"column:updated_at;not null;comment:更新时间"`
}

func (AgentAvailability) TableName() string {
	return "agent_availability"
}

func (a *AgentAvailability) HasCapacity() bool {
	return a.CurrentChatCount < a.MaxConcurrentChats
}
