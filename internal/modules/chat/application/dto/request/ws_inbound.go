package request

const (
	WsInboundMessage = "message"
	WsInboundTyping  = "typing"
	WsInboundPing    = "ping"
)

// WsInbound 客户端经 WebSocket 发来的帧
type WsInbound struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	IsTyping  bool   `json:"is_typing,omitempty"`
	// SessionId 仅客服连接生效：一条连接可回复任一已接入会话，缺省为连接所在会话
	SessionId string `json:"session_id,omitempty"`
}
