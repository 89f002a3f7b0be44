package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/metrics"
	jwtMiddleware "github.com/jimrulison/CustomermindIQ-sub002/internal/middleware/jwt"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/middleware/ratelimit"
	chatRequest "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/request"
	chatRespond "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/respond"
	chatService "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/service"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/policy"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/ws"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	KindUser  = "user"
	KindAgent = "agent"

	// LobbySession 客服不进具体会话，只接收 new_session 等广播
	LobbySession = "lobby"

	maxInboundFrame = 64 << 10

	rateLimitWindow = time.Minute
)

type WsHandler struct {
	hub        *ws.Hub
	sessions   chatService.SessionService
	realtime   chatService.RealtimeService
	policy     *policy.AccessPolicy
	sendBuffer int
	// rateLimit 每个参与者每分钟可经 WebSocket 发送的消息数，<=0 不限
	rateLimit  int
}

func NewWsHandler(hub *ws.Hub, sessions chatService.SessionService, realtime chatService.RealtimeService, accessPolicy *policy.AccessPolicy, sendBuffer int, rateLimitPerMinute int) *WsHandler {
	return &WsHandler{
		hub:        hub,
		sessions:   sessions,
		realtime:   realtime,
		policy:     accessPolicy,
		sendBuffer: sendBuffer,
		rateLimit:  rateLimitPerMinute,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn 一条已鉴权的连接
type wsConn struct {
	pr         chatEntity.Principal
	kind       string
	sessionID  string
	key        string
	senderType string
}

// Connect GET /ws/chat/:kind/:session_id?token=
// 浏览器原生 WebSocket 带不了 header，token 走 query，这里自行校验
func (h *WsHandler) Connect(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	pr, err := jwtMiddleware.ParsePrincipal(token)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	wc, status := h.authorize(c.Request.Context(), pr, c.Param("kind"), c.Param("session_id"))
	if status != http.StatusOK {
		c.AbortWithStatus(status)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(wc.key, conn, h.sendBuffer)
	if old := h.hub.Register(client); old != nil {
		zlog.Info("websocket connection replaced", zap.String("key", wc.key))
	}
	metrics.SetConnections(h.hub.Count())
	defer func() {
		h.hub.Unregister(client)
		metrics.SetConnections(h.hub.Count())
	}()

	go client.WritePump()

	h.push(wc, chatRespond.EventConnectionEstablished, gin.H{
		"kind":            wc.kind,
		"participant_key": wc.key,
		"user_id":         pr.UserID,
	})

	conn.SetReadLimit(maxInboundFrame)
	_ = conn.SetReadDeadline(time.Now().Add(ws.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ws.PongWait))
	})

	for {
		var in chatRequest.WsInbound
		if err := conn.ReadJSON(&in); err != nil {
			// 断线只注销连接，会话保持原状
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Debug("websocket read failed", zap.String("key", wc.key), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(ws.PongWait))
		h.handleInbound(context.Background(), wc, in)
	}
}

func (h *WsHandler) authorize(ctx context.Context, pr chatEntity.Principal, kind string, sessionID string) (*wsConn, int) {
	wc := &wsConn{pr: pr, kind: kind, sessionID: sessionID}
	switch kind {
	case KindUser:
		wc.key = chatService.UserKey(pr.UserID)
		wc.senderType = chatEntity.SenderTypeUser
		sess, err := h.sessions.GetSession(ctx, sessionID, pr)
		if err != nil {
			return nil, httpStatusOf(err)
		}
		if sess.UserId != pr.UserID {
			return nil, http.StatusForbidden
		}
	case KindAgent:
		if !h.policy.IsAgentRole(pr) {
			return nil, http.StatusForbidden
		}
		wc.key = chatService.AgentKey(pr.UserID)
		wc.senderType = chatEntity.SenderTypeAgent
		if sessionID != LobbySession {
			if _, err := h.sessions.GetSession(ctx, sessionID, pr); err != nil {
				return nil, httpStatusOf(err)
			}
		}
	default:
		return nil, http.StatusBadRequest
	}
	return wc, http.StatusOK
}

func (h *WsHandler) handleInbound(ctx context.Context, wc *wsConn, in chatRequest.WsInbound) {
	switch in.Type {
	case chatRequest.WsInboundPing:
		h.push(wc, chatRespond.EventPong, nil)

	case chatRequest.WsInboundMessage:
		sessionID := h.targetSession(wc, in)
		if sessionID == LobbySession {
			h.pushError(wc, xerr.New(xerr.BadRequest, "join a session before sending messages"))
			return
		}
		if !ratelimit.Allow(ctx, ratelimit.KeyPrefix+"ws:"+wc.key, h.rateLimit, rateLimitWindow) {
			h.pushError(wc, xerr.New(xerr.TooManyRequests, "too many requests, slow down"))
			return
		}
		var (
			item *chatRespond.MessageItem
			err  error
		)
		if wc.senderType == chatEntity.SenderTypeAgent {
			item, err = h.realtime.SendAgentMessage(ctx, sessionID, wc.pr, in.Content)
		} else {
			item, err = h.realtime.SendUserMessage(ctx, sessionID, wc.pr, in.Content)
		}
		if err != nil {
			h.pushError(wc, err)
			return
		}
		// 回显给发送方，携带 message_id 与 delivery
		h.pushTo(wc, sessionID, chatRespond.EventNewMessage, item)

	case chatRequest.WsInboundTyping:
		sessionID := h.targetSession(wc, in)
		if sessionID == LobbySession {
			return
		}
		if err := h.realtime.SendTyping(ctx, sessionID, wc.pr, wc.senderType, in.IsTyping); err != nil {
			h.pushError(wc, err)
		}

	default:
		h.pushError(wc, xerr.New(xerr.BadRequest, "unknown message type"))
	}
}

// targetSession 用户只能在连接所在会话发言；客服一条连接服务多个会话，帧内 session_id 优先
func (h *WsHandler) targetSession(wc *wsConn, in chatRequest.WsInbound) string {
	if wc.kind == KindAgent {
		if sid := strings.TrimSpace(in.SessionId); sid != "" {
			return sid
		}
	}
	return wc.sessionID
}

func (h *WsHandler) push(wc *wsConn, typ string, data interface{}) {
	h.pushTo(wc, wc.sessionID, typ, data)
}

func (h *WsHandler) pushTo(wc *wsConn, sessionID string, typ string, data interface{}) {
	ev := chatRespond.Event{
		Type:      typ,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
	if sessionID != LobbySession {
		ev.SessionId = sessionID
	}
	if _, err := h.hub.SendJSON(wc.key, ev); err != nil {
		zlog.Warn("encode websocket event failed", zap.String("type", typ), zap.Error(err))
	}
}

func (h *WsHandler) pushError(wc *wsConn, err error) {
	code := xerr.CodeOf(err)
	msg := xerr.ErrServerError.Message
	var ce *xerr.CodeError
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	h.push(wc, chatRespond.EventError, gin.H{"code": code, "message": msg})
}

func httpStatusOf(err error) int {
	switch xerr.CodeOf(err) {
	case xerr.NotFound:
		return http.StatusNotFound
	case xerr.Forbidden, xerr.AccessDenied:
		return http.StatusForbidden
	case xerr.Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
