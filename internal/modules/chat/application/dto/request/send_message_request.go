package request

type SendMessageRequest struct {
	Content string `json:"content"`
}

type StartSessionRequest struct {
	InitialMessage string `json:"initial_message"`
	// RequireAgent 为 true 时若无客服在线直接返回 Unavailable，不建会话
	RequireAgent bool `json:"require_agent"`
}
