package event

import (
	"context"
	"time"
)

const (
	TypeSessionCreated  = "session.created"
	TypeSessionAssigned = "session.assigned"
	TypeSessionClosed   = "session.closed"
	TypeMessageCreated  = "message.created"
)

// ChatEvent 会话生命周期事件，发往外部总线做审计/分析
type ChatEvent struct {
	Type       string      `json:"type"`
	SessionID  string      `json:"session_id"`
	ActorID    string      `json:"actor_id,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Publisher must not block the caller; delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev ChatEvent)
}
