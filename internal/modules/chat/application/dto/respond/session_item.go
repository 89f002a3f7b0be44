package respond

type SessionItem struct {
	SessionId      string `json:"session_id"`
	UserId         string `json:"user_id"`
	UserName       string `json:"user_name,omitempty"`
	UserTier       string `json:"user_tier,omitempty"`
	AgentId        string `json:"agent_id,omitempty"`
	AgentName      string `json:"agent_name,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
	AssignedAt     string `json:"assigned_at,omitempty"`
	ClosedBy       string `json:"closed_by,omitempty"`
	ClosedAt       string `json:"closed_at,omitempty"`
	UnreadCount    int64  `json:"unread_count"`
}

type StartSessionRespond struct {
	SessionId            string      `json:"session_id"`
	Status               string      `json:"status"`
	EstimatedWaitMinutes int         `json:"estimated_wait_minutes"`
	Resumed              bool        `json:"resumed"`
	Session              SessionItem `json:"session"`
}

type SessionListRespond struct {
	Items    []SessionItem `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}
