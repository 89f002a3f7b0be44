package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	WriteWait  = 10 * time.Second
	PongWait   = 60 * time.Second
	PingPeriod = PongWait * 9 / 10

	DefaultSendBuffer = 64
)

// Hub 连接注册表：每个参与者 key 至多一条连接，后注册的顶替先注册的
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Register 返回被顶替的旧连接（已关闭），没有则为 nil
func (h *Hub) Register(c *Client) *Client {
	if c == nil || c.key == "" {
		return nil
	}
	h.mu.Lock()
	old := h.clients[c.key]
	h.clients[c.key] = c
	h.mu.Unlock()

	if old != nil && old != c {
		old.Close()
		return old
	}
	return nil
}

// Unregister 只在 c 仍是当前连接时移除，避免旧连接退出时误删新连接。返回是否移除
func (h *Hub) Unregister(c *Client) bool {
	if c == nil || c.key == "" {
		return false
	}
	h.mu.Lock()
	removed := false
	if cur, ok := h.clients[c.key]; ok && cur == c {
		delete(h.clients, c.key)
		removed = true
	}
	h.mu.Unlock()
	c.Close()
	return removed
}

// Send 非阻塞投递；发送缓冲满视为慢连接，直接摘除
func (h *Hub) Send(key string, payload []byte) bool {
	if key == "" || len(payload) == 0 {
		return false
	}

	h.mu.RLock()
	c := h.clients[key]
	h.mu.RUnlock()
	if c == nil {
		return false
	}

	ok, full := c.trySend(payload)
	if full {
		zlog.Warn("ws send buffer full, dropping connection", zap.String("key", key))
		h.Unregister(c)
	}
	return ok
}

func (h *Hub) SendJSON(key string, v interface{}) (bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	return h.Send(key, b), nil
}

// Broadcast 发给所有 filter 返回 true 的连接，返回成功投递数
func (h *Hub) Broadcast(payload []byte, filter func(key string) bool) int {
	h.mu.RLock()
	keys := make([]string, 0, len(h.clients))
	for k := range h.clients {
		if filter == nil || filter(k) {
			keys = append(keys, k)
		}
	}
	h.mu.RUnlock()

	n := 0
	for _, k := range keys {
		if h.Send(k, payload) {
			n++
		}
	}
	return n
}

func (h *Hub) BroadcastJSON(v interface{}, filter func(key string) bool) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return h.Broadcast(b, filter), nil
}

func (h *Hub) Online(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[key]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll 关机时调用
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
}

type Client struct {
	key  string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(key string, conn *websocket.Conn, bufSize int) *Client {
	if bufSize <= 0 {
		bufSize = DefaultSendBuffer
	}
	return &Client{
		key:  key,
		conn: conn,
		send: make(chan []byte, bufSize),
	}
}

func (c *Client) Key() string {
	return c.key
}

// Outbound 发送队列，供自带写循环的调用方（及测试）消费
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

func (c *Client) trySend(payload []byte) (ok bool, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, false
	}
	select {
	case c.send <- payload:
		return true, false
	default:
		return false, true
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// WritePump 串行写出发送队列，并按 PingPeriod 发 ping 保活
func (c *Client) WritePump() {
	if c.conn == nil {
		return
	}
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				zlog.Debug("ws write failed", zap.String("key", c.key), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
