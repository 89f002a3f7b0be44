package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	chatRequest "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/request"
	chatRespond "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/respond"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	chatEvent "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/event"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/policy"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/lock"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/persistence"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/ws"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	puts  int
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (m *memBlobStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.blobs[key] = b
	return nil
}

func (m *memBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, chatRepository.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *memBlobStore) Health(ctx context.Context) error { return nil }

func (m *memBlobStore) count() (puts int, stored int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts, len(m.blobs)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []chatEvent.ChatEvent
}

func (r *recordingEvents) Publish(ctx context.Context, ev chatEvent.ChatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type testEnv struct {
	cfg         config.ChatConfig
	db          *gorm.DB
	hub         *ws.Hub
	blobs       *memBlobStore
	events      *recordingEvents
	sessionRepo chatRepository.SessionRepository
	messageRepo chatRepository.MessageRepository
	avail       AvailabilityService
	sessions    SessionService
	realtime    RealtimeService
	files       FileService
	messages    MessageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&chatEntity.Session{}, &chatEntity.Message{}, &chatEntity.AgentAvailability{}))

	cfg := config.Default().ChatConfig
	cfg.MaxFileSizeMB = 1
	cfg.StatusCacheSeconds = 0

	env := &testEnv{
		cfg:         cfg,
		db:          db,
		hub:         ws.NewHub(),
		blobs:       newMemBlobStore(),
		events:      &recordingEvents{},
		sessionRepo: persistence.NewSessionRepository(db),
		messageRepo: persistence.NewMessageRepository(db),
	}
	availRepo := persistence.NewAvailabilityRepository(db)
	accessPolicy := policy.NewAccessPolicy(cfg)

	env.avail = NewAvailabilityService(availRepo, env.sessionRepo, env.hub, accessPolicy, cfg)
	env.sessions = NewSessionService(env.sessionRepo, env.messageRepo, availRepo, env.avail, env.hub, env.events, lock.NewMemoryLocker(), accessPolicy, cfg)
	env.realtime = NewRealtimeService(env.sessionRepo, env.messageRepo, availRepo, env.sessions, env.hub, env.events, accessPolicy, cfg)
	env.files = NewFileService(env.sessionRepo, env.messageRepo, env.blobs, env.realtime, accessPolicy, cfg)
	env.messages = NewMessageService(env.sessionRepo, env.messageRepo, accessPolicy)
	return env
}

// connect 注册一个无底层 socket 的连接，推送内容从 Outbound 读取
func (e *testEnv) connect(key string) *ws.Client {
	c := ws.NewClient(key, nil, 32)
	e.hub.Register(c)
	return c
}

func (e *testEnv) setAvailable(t *testing.T, agent chatEntity.Principal, maxChats int) {
	t.Helper()
	_, err := e.avail.SetAvailability(context.Background(), agent, setAvail(true, maxChats))
	require.NoError(t, err)
}

func (e *testEnv) sessionCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&chatEntity.Session{}).Count(&n).Error)
	return n
}

func (e *testEnv) messageCount(t *testing.T, sessionID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&chatEntity.Message{}).Where("session_id = ?", sessionID).Count(&n).Error)
	return n
}

func customer(id, tier string) chatEntity.Principal {
	return chatEntity.Principal{UserID: id, Name: "User " + id, Role: "user", Tier: tier}
}

func agentPrincipal(id string) chatEntity.Principal {
	return chatEntity.Principal{UserID: id, Name: "Agent " + id, Role: "agent"}
}

// nextEvent 取下一条推送；超时返回 false
func nextEvent(t *testing.T, c *ws.Client) (chatRespond.Event, bool) {
	t.Helper()
	select {
	case b, ok := <-c.Outbound():
		if !ok {
			return chatRespond.Event{}, false
		}
		var ev chatRespond.Event
		require.NoError(t, json.Unmarshal(b, &ev))
		return ev, true
	case <-time.After(100 * time.Millisecond):
		return chatRespond.Event{}, false
	}
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, xerr.CodeOf(err), err.Error())
}

func setAvail(available bool, maxChats int) chatRequest.SetAvailabilityRequest {
	return chatRequest.SetAvailabilityRequest{IsAvailable: available, MaxConcurrentChats: maxChats}
}
