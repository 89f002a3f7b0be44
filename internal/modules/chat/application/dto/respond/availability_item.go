package respond

type AvailabilityItem struct {
	AgentId            string `json:"agent_id"`
	AgentName          string `json:"agent_name,omitempty"`
	IsAvailable        bool   `json:"is_available"`
	StatusMessage      string `json:"status_message,omitempty"`
	MaxConcurrentChats int    `json:"max_concurrent_chats"`
	CurrentChatCount   int    `json:"current_chat_count"`
	LastActivityAt     string `json:"last_activity_at,omitempty"`
	Online             bool   `json:"online"`
}

// PublicStatus 未登录也可查询，只给粗粒度信息
type PublicStatus struct {
	AgentsOnline         int  `json:"agents_online"`
	ChatAvailable        bool `json:"chat_available"`
	EstimatedWaitMinutes int  `json:"estimated_wait_minutes"`
}
