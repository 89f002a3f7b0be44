package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	jwtMiddleware "github.com/jimrulison/CustomermindIQ-sub002/internal/middleware/jwt"
	chatRespond "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/respond"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/service"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/policy"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/lock"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/mq"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/persistence"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/storage"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/redis"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/util/myjwt"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/ws"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	engine *gin.Engine
	hub    *ws.Hub
	cfg    config.ChatConfig
}

func newTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conf := config.Default()
	conf.JwtConfig.Key = "handler-test-secret"
	conf.ChatConfig.MaxFileSizeMB = 1
	for _, opt := range opts {
		opt(conf)
	}
	config.SetConfig(conf)
	cfg := conf.ChatConfig

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&chatEntity.Session{}, &chatEntity.Message{}, &chatEntity.AgentAvailability{}))

	sessionRepo := persistence.NewSessionRepository(db)
	messageRepo := persistence.NewMessageRepository(db)
	availRepo := persistence.NewAvailabilityRepository(db)
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	hub := ws.NewHub()
	events := mq.NewNoopEventPublisher()
	accessPolicy := policy.NewAccessPolicy(cfg)

	availSvc := service.NewAvailabilityService(availRepo, sessionRepo, hub, accessPolicy, cfg)
	sessionSvc := service.NewSessionService(sessionRepo, messageRepo, availRepo, availSvc, hub, events, lock.NewMemoryLocker(), accessPolicy, cfg)
	realtimeSvc := service.NewRealtimeService(sessionRepo, messageRepo, availRepo, sessionSvc, hub, events, accessPolicy, cfg)
	fileSvc := service.NewFileService(sessionRepo, messageRepo, blobs, realtimeSvc, accessPolicy, cfg)
	messageSvc := service.NewMessageService(sessionRepo, messageRepo, accessPolicy)

	sessionH := NewSessionHandler(sessionSvc)
	messageH := NewMessageHandler(messageSvc, realtimeSvc)
	fileH := NewFileHandler(fileSvc, cfg.MaxFileBytes())
	availH := NewAvailabilityHandler(availSvc)
	wsH := NewWsHandler(hub, sessionSvc, realtimeSvc, accessPolicy, cfg.WsSendBuffer, cfg.RateLimitPerMinute)

	r := gin.New()
	r.GET("/chat/availability", availH.PublicStatus)
	r.GET("/ws/chat/:kind/:session_id", wsH.Connect)
	authed := r.Group("/")
	authed.Use(jwtMiddleware.Auth())
	authed.POST("/chat/session", sessionH.StartSession)
	authed.GET("/chat/sessions", sessionH.ListSessions)
	authed.GET("/chat/session/:session_id", sessionH.GetSession)
	authed.POST("/chat/session/:session_id/close", sessionH.CloseSession)
	authed.POST("/chat/session/:session_id/assign", sessionH.AssignSession)
	authed.POST("/chat/session/:session_id/message", messageH.SendMessage)
	authed.GET("/chat/session/:session_id/messages", messageH.GetMessageList)
	authed.POST("/chat/session/:session_id/upload", fileH.UploadFile)
	authed.GET("/chat/files/:stored_name", fileH.DownloadFile)
	authed.POST("/chat/agent/availability", availH.SetAvailability)
	authed.GET("/chat/agent/availability", availH.GetMyAvailability)
	authed.GET("/chat/agents/available", availH.GetAvailableAgents)

	return &testServer{engine: r, hub: hub, cfg: cfg}
}

func tokenFor(t *testing.T, id, role, tier string) string {
	t.Helper()
	token, err := myjwt.GenerateToken(myjwt.CustomClaims{Uuid: id, Username: "name-" + id, Role: role, Tier: tier})
	require.NoError(t, err)
	return token
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *testServer) doJSON(t *testing.T, method, path, token string, payload interface{}) envelope {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	w, env := s.do(t, method, path, token, body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	return env
}

func (s *testServer) startSession(t *testing.T, token string) chatRespond.StartSessionRespond {
	t.Helper()
	env := s.doJSON(t, http.MethodPost, "/chat/session", token, nil)
	require.Equal(t, xerr.OK, env.Code, env.Message)
	var res chatRespond.StartSessionRespond
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res
}

func multipartBody(t *testing.T, filename, contentType string, data []byte, caption string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	if caption != "" {
		require.NoError(t, mw.WriteField("caption", caption))
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestStartSession_HTTP(t *testing.T) {
	s := newTestServer(t)

	env := s.doJSON(t, http.MethodPost, "/chat/session", tokenFor(t, "u0", "user", "launch"), map[string]string{"initial_message": "hi"})
	assert.Equal(t, xerr.AccessDenied, env.Code)

	user := tokenFor(t, "u1", "user", "growth")
	first := s.startSession(t, user)
	assert.False(t, first.Resumed)
	assert.Equal(t, chatEntity.SessionStatusWaiting, first.Status)
	assert.Equal(t, -1, first.EstimatedWaitMinutes)

	second := s.startSession(t, user)
	assert.True(t, second.Resumed)
	assert.Equal(t, first.SessionId, second.SessionId)

	w, env := s.do(t, http.MethodPost, "/chat/session", "", http.NoBody, "application/json")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xerr.Unauthorized, env.Code)

	env = s.doJSON(t, http.MethodPost, "/chat/session", user, "not an object")
	assert.Equal(t, xerr.BadRequest, env.Code)
}

func TestConversation_HTTP(t *testing.T) {
	s := newTestServer(t)
	user := tokenFor(t, "u1", "user", "scale")
	agent := tokenFor(t, "a1", "agent", "")
	sid := s.startSession(t, user).SessionId

	env := s.doJSON(t, http.MethodPost, "/chat/session/"+sid+"/assign", user, nil)
	assert.Equal(t, xerr.Forbidden, env.Code)
	env = s.doJSON(t, http.MethodPost, "/chat/session/"+sid+"/assign", agent, nil)
	require.Equal(t, xerr.OK, env.Code, env.Message)

	env = s.doJSON(t, http.MethodPost, "/chat/session/"+sid+"/message", user, map[string]string{"content": "Hello"})
	require.Equal(t, xerr.OK, env.Code, env.Message)
	var sent chatRespond.MessageItem
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.NotEmpty(t, sent.MessageId)
	assert.NotEmpty(t, sent.CreatedAt)
	assert.Equal(t, chatRespond.DeliveryQueued, sent.Delivery)

	env = s.doJSON(t, http.MethodPost, "/chat/session/"+sid+"/message", agent, map[string]string{"content": "Hi there"})
	require.Equal(t, xerr.OK, env.Code, env.Message)

	env = s.doJSON(t, http.MethodPost, "/chat/session/"+sid+"/message", user, map[string]string{"content": ""})
	assert.Equal(t, xerr.ValidationError, env.Code)

	env = s.doJSON(t, http.MethodGet, "/chat/session/"+sid+"/messages?page=1&page_size=10", user, nil)
	require.Equal(t, xerr.OK, env.Code)
	var history chatRespond.MessageListRespond
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history.Items, 2)
	assert.Equal(t, "Hello", history.Items[0].Content)
	assert.Equal(t, "Hi there", history.Items[1].Content)

	env = s.doJSON(t, http.MethodGet, "/chat/sessions?status=active", agent, nil)
	require.Equal(t, xerr.OK, env.Code)
	var list chatRespond.SessionListRespond
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 1, list.Total)

	env = s.doJSON(t, http.MethodPost, "/chat/session/"+sid+"/close", user, nil)
	require.Equal(t, xerr.OK, env.Code)
	env = s.doJSON(t, http.MethodPost, "/chat/session/"+sid+"/message", user, map[string]string{"content": "still there?"})
	assert.Equal(t, xerr.InvalidState, env.Code)

	env = s.doJSON(t, http.MethodGet, "/chat/session/"+sid, tokenFor(t, "u2", "user", "growth"), nil)
	assert.Equal(t, xerr.Forbidden, env.Code)
}

func TestUploadAndDownload_HTTP(t *testing.T) {
	s := newTestServer(t)
	user := tokenFor(t, "u1", "user", "growth")
	sid := s.startSession(t, user).SessionId

	content := []byte("order id,amount\n42,19.99\n")
	body, ct := multipartBody(t, "orders.csv", "text/csv", content, "latest export")
	_, env := s.do(t, http.MethodPost, "/chat/session/"+sid+"/upload", user, body, ct)
	require.Equal(t, xerr.OK, env.Code, env.Message)
	var item chatRespond.MessageItem
	require.NoError(t, json.Unmarshal(env.Data, &item))
	require.NotNil(t, item.File)
	assert.Equal(t, "latest export", item.Content)
	assert.Equal(t, "/chat/files/"+item.File.StoredName, item.File.Url)

	w, _ := s.do(t, http.MethodGet, item.File.Url, user, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, content, w.Body.Bytes())
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=orders.csv`, w.Header().Get("Content-Disposition"))

	_, env = s.do(t, http.MethodGet, item.File.Url, tokenFor(t, "u2", "user", "growth"), nil, "")
	assert.Equal(t, xerr.Forbidden, env.Code)
}

func TestUploadRejections_HTTP(t *testing.T) {
	s := newTestServer(t)
	user := tokenFor(t, "u1", "user", "growth")
	sid := s.startSession(t, user).SessionId

	big := bytes.Repeat([]byte("a"), int(s.cfg.MaxFileBytes())+10)
	body, ct := multipartBody(t, "big.txt", "text/plain", big, "")
	_, env := s.do(t, http.MethodPost, "/chat/session/"+sid+"/upload", user, body, ct)
	assert.Equal(t, xerr.ValidationError, env.Code)

	body, ct = multipartBody(t, "tool.exe", "application/x-msdownload", []byte("MZ\x90\x00"), "")
	_, env = s.do(t, http.MethodPost, "/chat/session/"+sid+"/upload", user, body, ct)
	assert.Equal(t, xerr.ValidationError, env.Code)

	_, env = s.do(t, http.MethodPost, "/chat/session/"+sid+"/upload", user, strings.NewReader("{}"), "application/json")
	assert.Equal(t, xerr.BadRequest, env.Code)
}

func TestAvailability_HTTP(t *testing.T) {
	s := newTestServer(t)
	agent := tokenFor(t, "a1", "agent", "")

	env := s.doJSON(t, http.MethodGet, "/chat/availability", "", nil)
	require.Equal(t, xerr.OK, env.Code)
	var st chatRespond.PublicStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.False(t, st.ChatAvailable)

	env = s.doJSON(t, http.MethodPost, "/chat/agent/availability", tokenFor(t, "u1", "user", "growth"), map[string]interface{}{"is_available": true})
	assert.Equal(t, xerr.Forbidden, env.Code)

	env = s.doJSON(t, http.MethodPost, "/chat/agent/availability", agent, map[string]interface{}{"is_available": true, "max_concurrent_chats": 99})
	assert.Equal(t, xerr.ValidationError, env.Code)

	env = s.doJSON(t, http.MethodPost, "/chat/agent/availability", agent, map[string]interface{}{"is_available": true, "status_message": "on shift"})
	require.Equal(t, xerr.OK, env.Code, env.Message)

	env = s.doJSON(t, http.MethodGet, "/chat/agent/availability", agent, nil)
	require.Equal(t, xerr.OK, env.Code)
	var snap chatRespond.AvailabilityItem
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.True(t, snap.IsAvailable)
	assert.Equal(t, "on shift", snap.StatusMessage)

	env = s.doJSON(t, http.MethodGet, "/chat/agents/available", agent, nil)
	require.Equal(t, xerr.OK, env.Code)
	var agents []chatRespond.AvailabilityItem
	require.NoError(t, json.Unmarshal(env.Data, &agents))
	require.Len(t, agents, 1)

	env = s.doJSON(t, http.MethodGet, "/chat/availability", "", nil)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.ChatAvailable)
	assert.Equal(t, 1, st.AgentsOnline)
}

func dialWS(t *testing.T, srv *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvent(t *testing.T, conn *websocket.Conn) chatRespond.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev chatRespond.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// readUntil 跳过无关事件，直到读到指定类型
func readUntil(t *testing.T, conn *websocket.Conn, typ string) chatRespond.Event {
	t.Helper()
	for i := 0; i < 10; i++ {
		if ev := readEvent(t, conn); ev.Type == typ {
			return ev
		}
	}
	t.Fatalf("no %s event received", typ)
	return chatRespond.Event{}
}

func (s *testServer) messageContents(t *testing.T, token, sid string) []string {
	t.Helper()
	env := s.doJSON(t, http.MethodGet, "/chat/session/"+sid+"/messages?page_size=100", token, nil)
	require.Equal(t, xerr.OK, env.Code, env.Message)
	var list chatRespond.MessageListRespond
	require.NoError(t, json.Unmarshal(env.Data, &list))
	out := make([]string, 0, len(list.Items))
	for _, m := range list.Items {
		out = append(out, m.Content)
	}
	return out
}

func waitOnline(t *testing.T, hub *ws.Hub, key string) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Online(key) }, time.Second, 5*time.Millisecond)
}

func TestWebsocket_Flow(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	user := tokenFor(t, "u1", "user", "growth")
	agent := tokenFor(t, "a1", "agent", "")
	sid := s.startSession(t, user).SessionId
	env := s.doJSON(t, http.MethodPost, "/chat/agent/availability", agent, map[string]interface{}{"is_available": true})
	require.Equal(t, xerr.OK, env.Code)

	agentConn, _, err := dialWS(t, srv, "/ws/chat/agent/lobby?token="+agent)
	require.NoError(t, err)
	defer agentConn.Close()
	assert.Equal(t, chatRespond.EventConnectionEstablished, readEvent(t, agentConn).Type)

	userConn, _, err := dialWS(t, srv, "/ws/chat/user/"+sid+"?token="+user)
	require.NoError(t, err)
	defer userConn.Close()
	ev := readEvent(t, userConn)
	assert.Equal(t, chatRespond.EventConnectionEstablished, ev.Type)
	assert.Equal(t, sid, ev.SessionId)
	waitOnline(t, s.hub, service.AgentKey("a1"))

	require.NoError(t, userConn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, chatRespond.EventPong, readEvent(t, userConn).Type)

	require.NoError(t, userConn.WriteJSON(map[string]string{"type": "message", "content": "need help"}))
	echo := readEvent(t, userConn)
	assert.Equal(t, chatRespond.EventNewMessage, echo.Type)
	assert.Equal(t, chatRespond.DeliveryBroadcast, echo.Data.(map[string]interface{})["delivery"])

	broadcast := readEvent(t, agentConn)
	assert.Equal(t, chatRespond.EventNewMessage, broadcast.Type)
	assert.Equal(t, "need help", broadcast.Data.(map[string]interface{})["content"])

	require.NoError(t, agentConn.WriteJSON(map[string]string{"type": "message", "content": "hi"}))
	errEv := readEvent(t, agentConn)
	assert.Equal(t, chatRespond.EventError, errEv.Type)

	require.NoError(t, userConn.WriteJSON(map[string]string{"type": "shout"}))
	errEv = readEvent(t, userConn)
	assert.Equal(t, chatRespond.EventError, errEv.Type)
	assert.EqualValues(t, xerr.BadRequest, errEv.Data.(map[string]interface{})["code"])

	// 断线不关闭会话
	require.NoError(t, userConn.Close())
	require.Eventually(t, func() bool { return !s.hub.Online(service.UserKey("u1")) }, time.Second, 5*time.Millisecond)
	env = s.doJSON(t, http.MethodGet, "/chat/session/"+sid, user, nil)
	var item chatRespond.SessionItem
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, chatEntity.SessionStatusWaiting, item.Status)
}

func TestWebsocket_MessageRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	redis.SetClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = redis.Close() })

	s := newTestServer(t, func(c *config.Config) { c.ChatConfig.RateLimitPerMinute = 2 })
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	user := tokenFor(t, "u1", "user", "growth")
	sid := s.startSession(t, user).SessionId
	conn, _, err := dialWS(t, srv, "/ws/chat/user/"+sid+"?token="+user)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, chatRespond.EventConnectionEstablished, readEvent(t, conn).Type)

	var types []string
	var codes []interface{}
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "message", "content": "burst"}))
		ev := readEvent(t, conn)
		types = append(types, ev.Type)
		if ev.Type == chatRespond.EventError {
			codes = append(codes, ev.Data.(map[string]interface{})["code"])
		}
	}
	assert.Equal(t, []string{
		chatRespond.EventNewMessage, chatRespond.EventNewMessage,
		chatRespond.EventError, chatRespond.EventError, chatRespond.EventError,
	}, types)
	for _, code := range codes {
		assert.EqualValues(t, xerr.TooManyRequests, code)
	}

	burst := 0
	for _, c := range s.messageContents(t, user, sid) {
		if c == "burst" {
			burst++
		}
	}
	assert.Equal(t, 2, burst)

	// 新窗口恢复
	mr.FastForward(time.Minute + time.Second)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "message", "content": "burst"}))
	assert.Equal(t, chatRespond.EventNewMessage, readEvent(t, conn).Type)
}

func TestWebsocket_AgentRepliesFromLobby(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	user := tokenFor(t, "u1", "user", "growth")
	other := tokenFor(t, "u2", "user", "growth")
	agent := tokenFor(t, "a1", "agent", "")
	sid := s.startSession(t, user).SessionId
	otherSid := s.startSession(t, other).SessionId
	env := s.doJSON(t, http.MethodPost, "/chat/agent/availability", agent, map[string]interface{}{"is_available": true})
	require.Equal(t, xerr.OK, env.Code)
	env = s.doJSON(t, http.MethodPost, "/chat/session/"+sid+"/assign", agent, nil)
	require.Equal(t, xerr.OK, env.Code, env.Message)

	agentConn, _, err := dialWS(t, srv, "/ws/chat/agent/lobby?token="+agent)
	require.NoError(t, err)
	defer agentConn.Close()
	assert.Equal(t, chatRespond.EventConnectionEstablished, readEvent(t, agentConn).Type)

	userConn, _, err := dialWS(t, srv, "/ws/chat/user/"+sid+"?token="+user)
	require.NoError(t, err)
	defer userConn.Close()
	assert.Equal(t, chatRespond.EventConnectionEstablished, readEvent(t, userConn).Type)
	waitOnline(t, s.hub, service.AgentKey("a1"))

	require.NoError(t, agentConn.WriteJSON(map[string]interface{}{"type": "typing", "is_typing": true, "session_id": sid}))
	typing := readUntil(t, userConn, chatRespond.EventTyping)
	assert.Equal(t, true, typing.Data.(map[string]interface{})["is_typing"])

	require.NoError(t, agentConn.WriteJSON(map[string]string{"type": "message", "content": "on it", "session_id": sid}))
	echo := readUntil(t, agentConn, chatRespond.EventNewMessage)
	assert.Equal(t, sid, echo.SessionId)
	assert.Equal(t, "on it", echo.Data.(map[string]interface{})["content"])

	got := readUntil(t, userConn, chatRespond.EventNewMessage)
	assert.Equal(t, "on it", got.Data.(map[string]interface{})["content"])
	assert.Equal(t, chatEntity.SenderTypeAgent, got.Data.(map[string]interface{})["sender_type"])

	// 客户帧里的 session_id 被忽略，只能写入自己的会话
	require.NoError(t, userConn.WriteJSON(map[string]string{"type": "message", "content": "mine", "session_id": otherSid}))
	mine := readUntil(t, userConn, chatRespond.EventNewMessage)
	assert.Equal(t, sid, mine.SessionId)
	assert.Contains(t, s.messageContents(t, user, sid), "mine")
	assert.NotContains(t, s.messageContents(t, other, otherSid), "mine")
}

func TestWebsocket_Rejections(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	user := tokenFor(t, "u1", "user", "growth")
	sid := s.startSession(t, user).SessionId

	cases := []struct {
		name string
		path string
		code int
	}{
		{"bad token", "/ws/chat/user/" + sid + "?token=garbage", http.StatusUnauthorized},
		{"other user's session", "/ws/chat/user/" + sid + "?token=" + tokenFor(t, "u2", "user", "growth"), http.StatusForbidden},
		{"user in lobby", "/ws/chat/user/lobby?token=" + user, http.StatusNotFound},
		{"customer as agent", "/ws/chat/agent/lobby?token=" + user, http.StatusForbidden},
		{"unknown kind", "/ws/chat/admin/" + sid + "?token=" + user, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := dialWS(t, srv, tc.path)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
}

func TestHttpStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, httpStatusOf(xerr.New(xerr.NotFound, "x")))
	assert.Equal(t, http.StatusForbidden, httpStatusOf(xerr.ErrAgentOnly))
	assert.Equal(t, http.StatusInternalServerError, httpStatusOf(context.Canceled))
}
