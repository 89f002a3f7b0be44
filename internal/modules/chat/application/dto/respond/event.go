package respond

const (
	EventConnectionEstablished = "connection_established"
	EventNewMessage            = "new_message"
	EventNewSession            = "new_session"
	EventAgentJoined           = "agent_joined"
	EventSessionClosed         = "session_closed"
	EventTyping                = "typing"
	EventPong                  = "pong"
	EventError                 = "error"
)

// Event WebSocket 下行帧
type Event struct {
	Type      string      `json:"type"`
	SessionId string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}
